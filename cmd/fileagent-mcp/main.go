// Command fileagent-mcp serves the list_files and read_file tools over the
// Model Context Protocol on stdin/stdout. Logs go to stderr so they never
// corrupt the protocol stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fileagent/internal/config"
	"github.com/MrWong99/fileagent/internal/health"
	"github.com/MrWong99/fileagent/internal/mcpserver"
	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/internal/tools"
	"github.com/MrWong99/fileagent/internal/tools/fileio"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	root := flag.String("root", "", "directory relative tool paths resolve against (overrides tools.root)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fileagent-mcp: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *root != "" {
		cfg.Tools.Root = *root
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)})))

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		Binary:       observe.BinaryMCPServer,
		Version:      version,
		ToolsRoot:    cfg.Tools.Root,
		ServeMetrics: cfg.Observe.MetricsAddr != "",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	exec := tools.NewExecutor(tools.WithMetrics(metrics))
	if err := exec.RegisterAll(fileio.NewTools(fileio.Options{
		Root:         cfg.Tools.Root,
		Filter:       fileio.Filter{Prefixes: cfg.Tools.RestrictedPrefixes},
		MaxReadBytes: cfg.Tools.MaxReadBytes,
	})); err != nil {
		slog.Error("failed to register tools", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if cfg.Observe.MetricsAddr != "" {
		g.Go(func() error {
			probes := health.New(health.DirCheck("tools_root", cfg.Tools.Root))
			return observe.ServeMetrics(runCtx, cfg.Observe.MetricsAddr, metrics, probes.Register)
		})
	}
	g.Go(func() error {
		defer cancel()
		return mcpserver.Serve(runCtx, exec, version)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server stopped", "err", err)
		return 1
	}
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
