// relayctl sends one command (or a batch of them) through a relay and prints
// the result as JSON.
//
// Usage:
//
//	relayctl --channel doc get_selection
//	relayctl --channel doc set_fill '{"nodeId":"1:2","color":"#ff0000"}'
//	relayctl --channel doc --batch set_fill '[{"nodeId":"1:2"},{"nodeId":"1:3"}]'
//
// Exit codes: 0 success, 1 usage/config error or interrupt, 2 could not
// connect or join, 3 the command failed or timed out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/docrelay/internal/batch"
	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/connection"
	"github.com/rickgao/docrelay/internal/logging"
	"github.com/rickgao/docrelay/internal/rpc"
	"github.com/rickgao/docrelay/internal/version"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitConnect = 2
	exitCommand = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (.yaml or .toml)")
	url := flag.String("url", "", "relay websocket URL (overrides client host/port/path)")
	channel := flag.String("channel", "", "channel to join (overrides client.channel)")
	timeout := flag.Duration("timeout", 0, "per-command timeout (default client.request_timeout)")
	connectTimeout := flag.Duration("connect-timeout", 10*time.Second, "give up connecting after this long")
	isBatch := flag.Bool("batch", false, "treat params as a JSON array and send one command per element")
	concurrency := flag.Int("concurrency", 0, "batch concurrency (default client.batch_concurrency)")
	policy := flag.String("policy", "", "batch success policy: any or all (default client.batch_policy)")
	showProgress := flag.Bool("progress", false, "print progress notifications to stderr")
	verbose := flag.Bool("v", false, "log at the configured level instead of warn")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: relayctl [flags] <command> [params-json]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("relayctl"))
		return exitOK
	}
	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		return exitUsage
	}
	command := flag.Arg(0)
	var params json.RawMessage
	if flag.NArg() == 2 {
		params = json.RawMessage(flag.Arg(1))
		if !json.Valid(params) {
			fmt.Fprintln(os.Stderr, "relayctl: params are not valid JSON")
			return exitUsage
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		return exitUsage
	}
	if *channel != "" {
		cfg.Client.Channel = *channel
	}
	if *policy != "" {
		cfg.Client.BatchPolicy = *policy
	}
	if *concurrency > 0 {
		cfg.Client.BatchConcurrency = *concurrency
	}
	if cfg.Client.Channel == "" {
		fmt.Fprintln(os.Stderr, "relayctl: a channel is required (--channel or client.channel)")
		return exitUsage
	}
	if _, err := batch.ParsePolicy(cfg.Client.BatchPolicy); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		return exitUsage
	}

	if !*verbose {
		cfg.Logging.Level = "warn"
	}
	// stdout carries results only.
	logger, closer := logging.NewTo(cfg.Logging, os.Stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		close(interrupted)
		cancel()
	}()

	connCfg := connection.ConfigFrom(cfg.Client)
	if *url != "" {
		connCfg.URL = *url
		connCfg.HealthURL = ""
	}
	conn := connection.New(connCfg, logger, connection.WithHeader(http.Header{
		"User-Agent": {"relayctl/" + version.Version},
	}))
	client := rpc.NewClient(conn, rpc.ConfigFrom(cfg.Client), logger)
	defer client.Close()

	startCtx, startCancel := context.WithTimeout(ctx, *connectTimeout)
	err = client.Start(startCtx)
	startCancel()
	if err != nil {
		if isInterrupted(interrupted) {
			return exitUsage
		}
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		return exitConnect
	}

	if *showProgress {
		events, unsubscribe := client.Progress().Subscribe("", 64)
		defer unsubscribe()
		go printProgress(events)
	}

	var code int
	if *isBatch {
		code = sendBatch(ctx, client, cfg.Client.Channel, command, params, *timeout)
	} else {
		code = sendOne(ctx, client, cfg.Client.Channel, command, params, *timeout)
	}
	if code != exitOK && isInterrupted(interrupted) {
		return exitUsage
	}
	return code
}

func sendOne(ctx context.Context, client *rpc.Client, channel, command string, params json.RawMessage, timeout time.Duration) int {
	res, err := client.SendCommand(ctx, channel, command, params, timeout)
	if err != nil {
		reportError(err)
		return exitCommand
	}
	printJSON(res)
	return exitOK
}

func sendBatch(ctx context.Context, client *rpc.Client, channel, command string, params json.RawMessage, timeout time.Duration) int {
	var items []json.RawMessage
	if err := json.Unmarshal(params, &items); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: --batch needs a JSON array of params: %v\n", err)
		return exitUsage
	}
	list := make([]any, len(items))
	for i, item := range items {
		list[i] = item
	}

	res := client.SendBatch(ctx, channel, command, list, timeout)

	type itemOut struct {
		Index  int             `json:"index"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	out := struct {
		Success   bool      `json:"success"`
		Policy    string    `json:"policy"`
		Succeeded int       `json:"succeeded"`
		Failed    int       `json:"failed"`
		Items     []itemOut `json:"items"`
	}{
		Success:   res.Success,
		Policy:    res.Policy.String(),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, o := range res.Outcomes {
		item := itemOut{Index: o.Index, Result: o.Value}
		if o.Err != nil {
			item.Error = errors.Unwrap(o.Err).Error()
		}
		out.Items = append(out.Items, item)
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))

	if !res.Success {
		return exitCommand
	}
	return exitOK
}

func reportError(err error) {
	var cmdErr *rpc.CommandError
	switch {
	case errors.As(err, &cmdErr):
		fmt.Fprintf(os.Stderr, "command failed: %s\n", cmdErr.Message)
	case errors.Is(err, rpc.ErrTimeout):
		fmt.Fprintf(os.Stderr, "timed out: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func printJSON(raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func printProgress(events <-chan rpc.ProgressEvent) {
	for ev := range events {
		d := ev.Data
		line := fmt.Sprintf("[%s] %s %5.1f%%", d.CommandID, d.Status, d.Progress)
		if d.TotalChunks > 0 {
			line += fmt.Sprintf(" chunk %d/%d", d.CurrentChunk, d.TotalChunks)
		}
		if d.Message != "" {
			line += " " + d.Message
		}
		fmt.Fprintln(os.Stderr, line)
	}
}

func isInterrupted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}
