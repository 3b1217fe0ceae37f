package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand.
var (
	flagConfig      string
	flagMovieID     string
	flagStorage     string
	flagStorageRoot string
	flagRedisAddr   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "renku",
	Short: "Renku - incremental orchestrator for AI-generated movies",
	Long: `Renku plans and executes multi-stage AI-asset pipelines. A blueprint
declares producers, their artifacts, and the edges between them; Renku expands
it into a job graph, decides which jobs are dirty against the last manifest,
and re-runs only those.

State lives in an append-only event log with content-addressed blobs, so every
revision of a movie stays reproducible and auditable.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing; the printer package
	// prints formatted colored errors directly.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to renku.yml (optional)")
	rootCmd.PersistentFlags().StringVar(&flagMovieID, "movie-id", "", "Movie identifier")
	rootCmd.PersistentFlags().StringVar(&flagStorage, "storage", "", "Storage backend: local, redis, or memory")
	rootCmd.PersistentFlags().StringVar(&flagStorageRoot, "storage-root", "", "Root directory for the local backend")
	rootCmd.PersistentFlags().StringVar(&flagRedisAddr, "redis-addr", "", "Redis address for the redis backend (host:port)")
}
