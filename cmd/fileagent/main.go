// Command fileagent is an interactive console agent that answers questions
// about local files using an LLM and two tools, list_files and read_file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fileagent/internal/agent"
	"github.com/MrWong99/fileagent/internal/config"
	"github.com/MrWong99/fileagent/internal/health"
	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/internal/tools"
	"github.com/MrWong99/fileagent/internal/tools/fileio"
)

var version = "dev"

// cliFlags holds command-line overrides. Zero values leave the config alone.
type cliFlags struct {
	configPath string
	provider   string
	model      string
	prompt     string
	stream     bool
	streamSet  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "path to the YAML configuration file (optional)")
	flag.StringVar(&f.provider, "provider", "", "LLM provider: "+strings.Join(config.ValidProviderNames, ", "))
	flag.StringVar(&f.model, "model", "", "model or deployment name (defaults per provider)")
	flag.StringVar(&f.prompt, "prompt", "", "answer a single prompt and exit")
	flag.BoolVar(&f.stream, "stream", false, "print model output as it is generated")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "stream" {
			f.streamSet = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fileagent: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("fileagent starting",
		"version", version,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"streaming", cfg.Agent.Streaming,
		"tools_root", cfg.Tools.Root,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		Binary:       observe.BinaryAgent,
		Version:      version,
		LLMProvider:  cfg.Provider.Name,
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

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, os.Getenv)
	slog.Debug("registered providers", "llm", reg.LLMNames())

	provider, err := reg.CreateLLM(cfg.Provider)
	if err != nil {
		slog.Error("failed to create provider", "err", err)
		fmt.Fprintf(os.Stderr, "fileagent: %v\n", err)
		return 1
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	exec := tools.NewExecutor(tools.WithMetrics(metrics))
	if err := exec.RegisterAll(fileio.NewTools(fileio.Options{
		Root:         cfg.Tools.Root,
		Filter:       fileio.Filter{Prefixes: cfg.Tools.RestrictedPrefixes},
		MaxReadBytes: cfg.Tools.MaxReadBytes,
	})); err != nil {
		slog.Error("failed to register tools", "err", err)
		return 1
	}

	session, err := agent.NewSession(agent.Config{
		Provider:     provider,
		Tools:        exec,
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTokens:    cfg.Provider.MaxTokens,
		Temperature:  cfg.Provider.Temperature,
		Streaming:    cfg.Agent.Streaming,
		Input:        os.Stdin,
		Output:       os.Stdout,
		Metrics:      metrics,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
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
		// The session ending stops the metrics server too.
		defer cancel()
		if f.prompt != "" {
			_, err := session.RunOnce(runCtx, f.prompt)
			return err
		}
		agent.Banner(os.Stdout, provider.Name())
		return session.Run(runCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "err", err, "state", session.State().String())
		fmt.Fprintf(os.Stderr, "fileagent: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the optional config file and applies flag overrides.
// Defaults and validation run once, after the overrides.
func loadConfig(f cliFlags) (*config.Config, error) {
	cfg := &config.Config{}
	if f.configPath != "" {
		read, err := config.Read(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = read
	}

	current := strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	if current == "" {
		current = config.DefaultProvider
	}
	if name := strings.ToLower(strings.TrimSpace(f.provider)); name != "" && name != current {
		// Credentials, endpoint and options belonged to the previous provider.
		cfg.Provider = config.ProviderEntry{
			Name:        name,
			MaxTokens:   cfg.Provider.MaxTokens,
			Temperature: cfg.Provider.Temperature,
		}
	}
	if f.model != "" {
		cfg.Provider.Model = f.model
	}
	if f.streamSet {
		cfg.Agent.Streaming = f.stream
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		if f.configPath != "" {
			return nil, fmt.Errorf("config: %q: %w", f.configPath, err)
		}
		return nil, err
	}
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
