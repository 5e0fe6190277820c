package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the HTTP API and
// the periodic sweeps.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tero server",
		Long: `Start the tero HTTP server.

The server will:
1. Load configuration from the specified file (or tero.yaml)
2. Open the database and apply the schema
3. Initialize LLM providers and the tool catalog
4. Schedule the OAuth and orphaned test suite sweeps
5. Serve the API, metrics and health checks

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tero serve

  # Start with custom config and debug logging
  tero serve --config /etc/tero/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that applies the schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		Long: `Create any missing tables and indexes in the configured database.

The schema only uses CREATE ... IF NOT EXISTS statements, so running it
repeatedly is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildSweepCmd creates the "sweep" command that runs the maintenance
// sweeps once, for deployments that schedule them externally.
func buildSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Prune expired OAuth data and recover orphaned test suites",
		Long: `Run the maintenance sweeps once and exit.

The OAuth sweep deletes tokens, pending authorization states and
dynamically registered clients older than their configured TTL. The test
suite sweep fails every run left RUNNING for longer than
testsuite.orphan_after.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildConfigCmd groups the configuration helpers.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and check configuration files",
	}
	cmd.AddCommand(
		buildConfigSchemaCmd(),
		buildConfigValidateCmd(),
	)
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Long: `Print the JSON Schema describing tero.yaml.

Point your editor's YAML language server at the output to get completion
and validation while editing the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report problems",
		Long: `Load the configuration, resolve its includes and apply defaults, then
check it the same way serve does. Nothing is opened or started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tero %s\n", versionString())
		},
	}
}
