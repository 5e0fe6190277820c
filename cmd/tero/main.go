// Package main provides the CLI entry point for tero, an agent conversation
// server with OAuth-authorized tools and replayable test suites.
//
// # Basic Usage
//
// Start the server:
//
//	tero serve --config tero.yaml
//
// Apply the database schema:
//
//	tero migrate
//
// Run the maintenance sweeps once:
//
//	tero sweep
//
// # Environment Variables
//
// The configuration file is expanded with the process environment, so
// secrets can be referenced as ${VAR}:
//
//   - TERO_CONFIG: Path to configuration file (default: tero.yaml)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: referenced from llm.providers
//   - TERO_ENCRYPTION_KEY: age identity referenced from secrets.encryption_key
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "tero.yaml"

func main() {
	// Replaced by the configured logger once a command loads its config.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tero",
		Short: "tero - AI agents with authorized tools",
		Long: `tero answers conversations with configurable AI agents that call external
tools (documents, web search, Jira, browser automation, MCP servers).

Tools that need user authorization go through an OAuth redirect flow, and
agents can be checked against stored conversation fixtures with test suites.`,
		Version:      versionString(),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildSweepCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TERO_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
