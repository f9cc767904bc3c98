// ABOUTME: Entry point for the parley daemon and its helper commands
// ABOUTME: serve runs the HTTP API; models, health, init and version are utilities

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/app"
	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the HTTP API")
		fmt.Println("  models     List available models")
		fmt.Println("  health     Check a running server")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "models":
		err = runModels(ctx)
	case "health":
		err = runHealth(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault("")
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath == "" {
		fmt.Print("Config:    ")
		yellow.Println("built-in defaults")
	} else {
		fmt.Printf("Config:    %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Default:   %s\n", cfg.Engine.DefaultModel)
	if cfg.Ledger.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Ledger.Path)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	for _, missing := range missingKeys(cfg) {
		yellow.Print("    ! ")
		fmt.Printf("%s has no API key; its turns will fail\n", missing)
	}
	fmt.Println()

	logger.Info("starting parley",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"default_model", cfg.Engine.DefaultModel,
	)

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing engine", "error", err)
		}
	}()

	srv, err := a.NewServer()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// missingKeys names the remote models that have no credentials configured.
func missingKeys(cfg *config.Config) []string {
	var out []string
	if cfg.Providers.OpenAI.APIKey == "" {
		out = append(out, catalog.ChatGPT)
	}
	if cfg.Providers.Anthropic.APIKey == "" {
		out = append(out, catalog.Claude)
	}
	if cfg.Providers.Gemini.APIKey == "" {
		out = append(out, catalog.Gemini)
	}
	return out
}

// runModels prints the models of a running server, or the local catalog when
// none is reachable.
func runModels(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var resp server.ModelsResponse
	if err := getJSON(ctx, cfg, "/api/models", &resp); err != nil {
		gray := color.New(color.FgHiBlack)
		gray.Printf("server not reachable (%v); showing local catalog\n\n", err)
		resp = server.ModelsResponse{
			Default: cfg.Engine.DefaultModel,
			Models:  catalog.New(cfg.CatalogProviders()).Entries(),
		}
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	for _, m := range resp.Models {
		bold.Printf("  %-8s", m.ID)
		fmt.Printf(" %s", m.Title)
		if m.ID == resp.Default {
			green.Print(" (default)")
		}
		fmt.Println()
		gray.Printf("           %s\n", m.Description)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	color.Green("healthy")
	return nil
}

func getJSON(ctx context.Context, cfg *config.Config, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.Server.HTTPAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("parley configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	defaults := config.Default()

	outputFile := prompt(reader, "Config file path", config.ResolvePath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Println("\n--- Engine ---")
	defaultModel := prompt(reader, "Default model ("+strings.Join(catalog.KnownModels(), "/")+")", defaults.Engine.DefaultModel)
	turnTimeout := prompt(reader, "Turn timeout", defaults.Engine.TurnTimeoutRaw)

	fmt.Println("\n--- Turn ledger ---")
	ledgerEnabled := isYes(prompt(reader, "Record finished turns in SQLite?", "no"))
	ledgerPath := defaults.Ledger.Path
	if ledgerEnabled {
		ledgerPath = prompt(reader, "Ledger database path", ledgerPath)
	}

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# parley configuration\n")
	cfg.WriteString("# Generated by parley init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  shutdown_timeout: %q\n", defaults.Server.ShutdownTimeoutRaw))
	cfg.WriteString("\n")

	cfg.WriteString("engine:\n")
	cfg.WriteString(fmt.Sprintf("  default_model: %q\n", defaultModel))
	cfg.WriteString(fmt.Sprintf("  turn_timeout: %q\n", turnTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	cfg.WriteString("  openai:\n    api_key: \"${OPENAI_API_KEY}\"\n")
	cfg.WriteString("  anthropic:\n    api_key: \"${ANTHROPIC_API_KEY}\"\n")
	cfg.WriteString("  gemini:\n    api_key: \"${GEMINI_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  echo:\n    delay: %q\n", defaults.Providers.Echo.DelayRaw))
	cfg.WriteString("\n")

	cfg.WriteString("ledger:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", ledgerEnabled))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", ledgerPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// catch typos before the first serve
	if _, err := config.Load(outputFile); err != nil {
		color.Yellow("\nwarning: generated config does not load: %v", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  parley serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
