// Package main implements the bandersnatch command-line tool for
// verifying and reconciling PyPI package mirrors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/redbaron4/bandersnatch/internal/verify"
)

const (
	defaultConfigPath = "/etc/bandersnatch/bandersnatch.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bandersnatch",
	Short: "Maintain a local PyPI mirror",
	Long: `bandersnatch maintains a local mirror of a PyPI-compatible package index.

The verify subcommand re-fetches authoritative per-package metadata and
garbage-collects local distribution files that are no longer referenced.`,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify mirror metadata and remove unowned files",
	Long: `Re-fetches the metadata document for every package known to the local
mirror, rebuilds the set of legitimately owned distribution files, and
(with --delete) removes every local file absent from that set.

Usage:
  # Report what a reconciliation would do
  bandersnatch verify --delete --dry-run

  # Actually delete unowned files, with 8 concurrent verifiers
  bandersnatch verify --delete --workers 8

  # Use a custom configuration file
  bandersnatch verify --config /path/to/bandersnatch.toml`,
	Run: runVerify,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("bandersnatch %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output and non-error logs")

	verifyCmd.Flags().Bool("delete", false, "delete unowned files after verification")
	verifyCmd.Flags().Bool("dry-run", false, "report deletions without performing them")
	verifyCmd.Flags().Int("workers", 0, "number of concurrent verifiers (overrides configuration)")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

func loadConfig(verboseErrors bool) (*verify.Config, error) {
	config := verify.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
			return nil, err
		}
		errorMsg := formatError(err, verboseErrors)
		slog.Error("failed to decode config file", "error", errorMsg, "path", configPath)
		return nil, err
	}

	// Undecoded keys usually mean a typo in a section or key name.
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Error("configuration contains unknown keys", "keys", fmt.Sprintf("%v", undecoded), "path", configPath)
		return nil, errors.New("configuration validation failed")
	}

	if err := config.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		return nil, err
	}

	// Override log level if specified on command line
	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply command-line log level", "level", logLevel, "error", err)
			return nil, err
		}
	}

	return config, nil
}

func runVerify(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(verboseErrors)
	if err != nil {
		os.Exit(1)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply quiet log level", "error", err)
			os.Exit(1)
		}
	}

	var overrides verify.Overrides
	overrides.Workers, _ = cmd.Flags().GetInt("workers")
	if cmd.Flags().Changed("delete") {
		v, _ := cmd.Flags().GetBool("delete")
		overrides.Delete = &v
	}
	if cmd.Flags().Changed("dry-run") {
		v, _ := cmd.Flags().GetBool("dry-run")
		overrides.DryRun = &v
	}

	report, err := verify.Run(context.Background(), config, overrides, quiet)
	if err != nil {
		errorMsg := formatError(err, verboseErrors)
		slog.Error("verify run failed", "error", errorMsg)
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	failures := report.Count(verify.StatusFetchFailed) +
		report.Count(verify.StatusStoreFailed) +
		report.Count(verify.StatusDeleteFailed)
	if failures > 0 {
		slog.Warn("verify completed with per-item failures",
			"fetch_failed", report.Count(verify.StatusFetchFailed),
			"store_failed", report.Count(verify.StatusStoreFailed),
			"delete_failed", report.Count(verify.StatusDeleteFailed))
		os.Exit(2)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(verboseErrors)
	if err != nil {
		os.Exit(1)
	}

	if err := config.Check(); err != nil {
		slog.Error("the toml configuration file is not valid", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
