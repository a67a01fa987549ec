package cmd

import (
	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "misconcept",
	Short: "Misconception clustering and IRT calibration engine",
	Long: `misconcept groups free-text student answers into misconception clusters,
calibrates question difficulty with a 2PL IRT model and analyses single
answers against an ideal answer.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides MISCONCEPT_DB env var)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(difficultyCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(artifactCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then the configured path (config file or MISCONCEPT_DB), then the default
// XDG path.
func resolveDBPath(cmd *cobra.Command, configured string) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if configured != "" {
		return configured, store.EnsureDir(configured)
	}
	return store.DefaultDBPath()
}
