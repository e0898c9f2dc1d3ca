// Worklens: Work Item Mirror MCP Server
//
// An MCP server that mirrors Azure DevOps work items into a local
// SQLite store, enriches them with AI summaries and embeddings, and
// exposes structured and semantic search tools over stdio.
//
// Usage:
//
//	worklens serve    # Start MCP server (stdio transport)
//	worklens update   # Update to the latest version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	flag "github.com/spf13/pflag"

	"github.com/adolab/worklens/internal/config"
	"github.com/adolab/worklens/internal/logging"
	wlserver "github.com/adolab/worklens/internal/server"
	"github.com/adolab/worklens/internal/updater"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "update":
		runUpdate()
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("worklens v%s\n", wlserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	envFile := fs.String("env-file", "", "path to .env file with credentials")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	} else {
		// Best effort: a .env next to the binary is optional.
		_ = godotenv.Load()
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Logs go to stderr: MCP's stdio transport owns stdout.
	log := logging.NewStderr(cfg.LogLevel)

	app, err := wlserver.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer app.Close()

	// Interrupt cancels the context so the background sync stops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	go checkForUpdates()

	// Kick off an initial sync so the mirror is warm by the time the
	// first tool call arrives. Failures are logged, not fatal: the
	// client can retry with the sync tool.
	app.Syncer.StartBackground(ctx)

	log.Info().Str("version", wlserver.Version).Msg("worklens serving on stdio")

	return server.ServeStdio(app.MCP)
}

// checkForUpdates prints a notice to stderr when a newer release
// exists; stdout stays reserved for the MCP transport.
func checkForUpdates() {
	result := updater.CheckVersion(wlserver.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "A new version of worklens is available: v%s (current: v%s)\n",
			result.LatestVersion, result.CurrentVersion)
		fmt.Fprintln(os.Stderr, "Run 'worklens update' to upgrade.")
	}
}

func runUpdate() {
	fmt.Printf("Checking for updates (current: v%s)...\n", wlserver.Version)
	if err := updater.SelfUpdate(wlserver.Version); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Updated successfully. Restart worklens to use the new version.")
}

func printUsage() {
	fmt.Println(`worklens - Azure DevOps work item mirror with AI-assisted search

Usage:
  worklens serve [flags]   Start the MCP server (stdio transport)
  worklens update          Update to the latest version
  worklens version         Print version
  worklens help            Show this help

Flags for serve:
  --config string      Path to config file (YAML)
  --env-file string    Path to .env file with credentials
  --log-level string   Override configured log level

Environment:
  AZURE_DEVOPS_PAT     Personal access token for the tracker
  OPENAI_API_KEY       OpenAI API key (embeddings, default chat)
  ANTHROPIC_API_KEY    Anthropic API key (when chat_provider: anthropic)`)
}
