// AutoYou is a personal AI assistant.
//
// It exposes a REST chat API with websocket streaming, manages a
// searchable personal notes store, and routes each request between a
// local Ollama backend and the Google Gemini cloud API. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); the server runs on built-in defaults
// when no file exists.
//
// Usage:
//
//	autoyou serve            Start the API server
//	autoyou ask <question>   Ask a single question (for testing)
//	autoyou version          Print version and build information
//	autoyou -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/autoyou/autoyou-agent/internal/agent"
	"github.com/autoyou/autoyou-agent/internal/api"
	"github.com/autoyou/autoyou-agent/internal/buildinfo"
	"github.com/autoyou/autoyou-agent/internal/config"
	"github.com/autoyou/autoyou-agent/internal/llm"
	"github.com/autoyou/autoyou-agent/internal/notes"
	"github.com/autoyou/autoyou-agent/internal/router"
	"github.com/autoyou/autoyou-agent/internal/session"
	"github.com/autoyou/autoyou-agent/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the autoyou command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface is small enough
// that manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: autoyou ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "AutoYou - Personal AI Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: autoyou [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/autoyou/config.yaml, /etc/autoyou/config.yaml")
	return nil
}

// runServe handles the "autoyou serve" subcommand. It is the primary
// operating mode: loads config, opens the notes and session databases,
// registers the notes tools, wires the model selector, starts the API
// server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting AutoYou", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"preferred_model", cfg.Models.Preferred,
		"ollama_url", cfg.Models.OllamaURL,
		"cloud_model", cfg.Google.Model,
	)

	if cfg.Models.UseCloud && !cfg.CloudCredentialPresent() {
		logger.Warn("cloud backend forced but GOOGLE_API_KEY is not set; generation will fail until it is")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	deps, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, deps.agent, deps.selector, deps.notes, deps.sessions, cfg.API.AllowedOrigins, logger)
	server.SetLocalBackend(deps.ollama)

	// SIGINT/SIGTERM cancel the context and trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// runAsk handles the "autoyou ask <question>" subcommand. It boots the
// full stack against the configured data directory and processes a
// single question, printing the response to stdout. Useful for quick
// smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	deps, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	question := strings.Join(args, " ")
	resp, err := deps.agent.Process(ctx, &agent.Request{Message: question, UserID: "cli"})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Response)
	return nil
}

// deps bundles the wired application components so serve and ask share
// one construction path.
type deps struct {
	notes    *notes.Store
	sessions *session.Store
	selector *router.Selector
	agent    *agent.Agent
	ollama   *llm.OllamaClient
}

func (d *deps) Close() {
	d.sessions.Close()
	d.notes.Close()
}

func buildDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	notesPath := filepath.Join(cfg.DataDir, "notes.db")
	noteStore, err := notes.NewStore(notesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open notes database %s: %w", notesPath, err)
	}

	sessionsPath := filepath.Join(cfg.DataDir, "sessions.db")
	sessions, err := session.NewStore(sessionsPath, logger)
	if err != nil {
		noteStore.Close()
		return nil, fmt.Errorf("open session database %s: %w", sessionsPath, err)
	}

	registry := tools.NewRegistry()
	notes.RegisterTools(registry, noteStore)
	logger.Info("tools registered", "count", len(registry.Names()))

	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	gemini := llm.NewGeminiClient(cfg.Google.APIKey, logger)

	selector := router.NewSelector(ollama, router.Config{
		UseCloud:       cfg.Models.UseCloud,
		PreferredModel: cfg.Models.Preferred,
		CloudModel:     cfg.Google.Model,
		ProbeTimeout:   cfg.Models.ProbeTimeout,
	}, logger)

	ag := agent.New(logger, registry, selector, ollama, gemini, sessions)

	return &deps{notes: noteStore, sessions: sessions, selector: selector, agent: ag, ollama: ollama}, nil
}

// newLogger creates a structured logger that writes to w at the given
// level, with custom level names (TRACE) rendered correctly.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise the default locations are searched; when none exists the
// built-in defaults (plus environment overrides) are used.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
