package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	userID       string
	serviceToken string
)

var rootCmd = &cobra.Command{
	Use:   "scoreshelf",
	Short: "Sheet music library with AI-assisted PDF ingestion",
	Long: `scoreshelf ingests scanned sheet music PDFs into a music library.

An upload is classified by a vision model, split into per-instrument parts,
scored for confidence and either committed automatically, verified by a
second model, or queued for a librarian to review.

  scoreshelf serve --with-worker     # API server and pipeline worker
  scoreshelf worker                  # pipeline worker only
  scoreshelf api uploads upload score.pdf --user librarian`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scoreshelf/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scoreshelf home directory (default: ~/.scoreshelf)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)
	rootCmd.PersistentFlags().StringVar(
		&userID, "user", "", "user id sent as X-User-ID",
	)
	rootCmd.PersistentFlags().StringVar(
		&serviceToken, "service-token", os.Getenv("SCORESHELF_SERVICE_TOKEN"), "internal service token (overrides --user on the server)",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
		api.SetIdentity(userID, serviceToken)
	}

	rootCmd.AddCommand(versionCmd)
}
