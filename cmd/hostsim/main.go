// hostsim stands in for a document host: it joins a channel and answers the
// simulator commands (ping, echo, noop, sleep, fail). Use it to exercise a
// relay and relayctl without a real editor.
// Usage: hostsim --channel doc [--config configs/relay.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/connection"
	"github.com/rickgao/docrelay/internal/host"
	"github.com/rickgao/docrelay/internal/logging"
	"github.com/rickgao/docrelay/internal/metrics"
	"github.com/rickgao/docrelay/internal/rpc"
	"github.com/rickgao/docrelay/internal/version"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitStartup = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (.yaml or .toml)")
	url := flag.String("url", "", "relay websocket URL (overrides client host/port/path)")
	channel := flag.String("channel", "", "channel to join (overrides client.channel)")
	maxConcurrent := flag.Int("max-concurrent", 4, "commands executed at once")
	execTimeout := flag.Duration("exec-timeout", 5*time.Minute, "upper bound on a single command")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("hostsim"))
		return exitOK
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostsim: %v\n", err)
		return exitConfig
	}
	if *channel != "" {
		cfg.Client.Channel = *channel
	}
	if cfg.Client.Channel == "" {
		fmt.Fprintln(os.Stderr, "hostsim: a channel is required (--channel or client.channel)")
		return exitConfig
	}

	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	connMetrics := metrics.NewConnectionMetrics(reg)
	rpcMetrics := metrics.NewRPCMetrics(reg)

	connCfg := connection.ConfigFrom(cfg.Client)
	if *url != "" {
		connCfg.URL = *url
		connCfg.HealthURL = ""
	}
	conn := connection.New(connCfg, logger,
		connection.WithMetrics(connMetrics),
		connection.WithHeader(http.Header{"User-Agent": {"hostsim/" + version.Version}}),
	)

	sim := host.NewSimulator()
	ep := host.NewEndpoint(conn, rpc.ConfigFrom(cfg.Client), sim, logger,
		host.WithMaxConcurrent(*maxConcurrent),
		host.WithExecTimeout(*execTimeout),
		host.WithClientOptions(rpc.WithMetrics(rpcMetrics)),
	)

	logger.Info("starting host simulator",
		"version", version.Version,
		"url", connCfg.URL,
		"channel", cfg.Client.Channel,
		"commands", sim.Commands(),
	)

	var srv *http.Server
	if *metricsAddr != "" {
		srv = &http.Server{
			Addr:              *metricsAddr,
			Handler:           opsHandler(reg, ep),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting ops server", "addr", *metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server error", "error", err)
			}
		}()
	}

	if err := ep.Start(ctx); err != nil {
		ep.Close()
		if ctx.Err() != nil {
			return exitOK
		}
		logger.Error("failed to start endpoint", "error", err)
		return exitStartup
	}

	logger.Info("host simulator ready", "channel", cfg.Client.Channel)
	<-ctx.Done()

	logger.Info("shutting down...")
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}
	ep.Close()

	stats := ep.Stats()
	logger.Info("host simulator stopped", "executed", stats.Executed, "failed", stats.Failed)
	return exitOK
}

func opsHandler(reg *prometheus.Registry, ep *host.Endpoint) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		conn := ep.Client().Connection()
		stats := ep.Stats()
		status := http.StatusOK
		if !conn.IsConnected() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"state":    conn.State().String(),
			"channel":  ep.Client().Channel(),
			"pending":  ep.Client().Pending(),
			"running":  stats.Running,
			"executed": stats.Executed,
			"failed":   stats.Failed,
		})
	})
	return r
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}
