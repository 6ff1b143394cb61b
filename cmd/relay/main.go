// relay accepts websocket peers, groups them into channels and forwards
// command traffic between members of the same channel.
// Usage: relay --config configs/relay.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/database"
	"github.com/rickgao/docrelay/internal/journal"
	"github.com/rickgao/docrelay/internal/logging"
	"github.com/rickgao/docrelay/internal/metrics"
	"github.com/rickgao/docrelay/internal/relay"
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
	configPath := flag.String("config", "", "path to config file (.yaml or .toml); defaults apply when empty")
	listen := flag.String("listen", "", "override relay.listen_addr")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("relay"))
		return exitOK
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		return exitConfig
	}
	if *listen != "" {
		cfg.Relay.ListenAddr = *listen
	}

	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gin.SetMode(gin.ReleaseMode)

	var opts []relay.Option
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, relay.WithMetrics(metrics.NewRelayMetrics(reg), reg, cfg.Metrics.Path))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Journal.Database, cfg.Instance.ID)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			return exitStartup
		}
		defer pool.Close()

		store := journal.NewPGStore(pool, cfg.Instance.ID)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare journal schema", "error", err)
			return exitStartup
		}

		writer := journal.NewWriter(cfg.Journal, store, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			return exitStartup
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := writer.Stop(stopCtx); err != nil {
				logger.Warn("journal writer stop", "error", err)
			}
			stats := writer.Stats()
			logger.Info("journal writer stopped", "inserted", stats.Inserted, "dropped", stats.Dropped, "errors", stats.Errors)
		}()

		opts = append(opts, relay.WithRecorder(writer))
	}

	srv := relay.NewServer(cfg.Relay, logger, opts...)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("relay server failed", "error", err)
		return exitStartup
	}

	logger.Info("relay stopped")
	return exitOK
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}
