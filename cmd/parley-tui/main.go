// ABOUTME: Terminal UI that runs the orchestration engine in-process
// ABOUTME: One column per session, with a shared composer for synced broadcasts

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/parley/internal/app"
	"github.com/2389/parley/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Config file (default: PARLEY_CONFIG or ~/.config/parley/parley.yaml)")
	logFile := flag.String("log-file", "", "Write logs to this file (default: discard)")
	sessions := flag.Int("sessions", 1, "Number of sessions to open at start")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *logFile, *sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, logFile string, initialSessions int) error {
	cfg, _, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// the TUI never serves HTTP, so it never exports metrics
	cfg.Metrics.Enabled = false

	logger, closeLog, err := fileLogger(cfg.Logging, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing engine", "error", err)
		}
	}()

	for range max(initialSessions, 1) {
		if _, err := a.Engine.CreateSession(""); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
	}

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	m := newModel(subCtx, a.Engine, logger)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

// fileLogger keeps log output off the terminal the TUI draws on.
func fileLogger(cfg config.LoggingConfig, path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(f, opts)
	} else {
		handler = slog.NewTextHandler(f, opts)
	}
	return slog.New(handler), func() { _ = f.Close() }, nil
}
