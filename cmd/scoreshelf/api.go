package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running scoreshelf server via HTTP.

These commands require a running server (scoreshelf serve). Use --server to
specify a custom server URL and --user or --service-token to identify
yourself.

Examples:
  scoreshelf api health
  scoreshelf api uploads upload suite.pdf --user librarian
  scoreshelf api uploads list --status ALL -o table
  scoreshelf api uploads approve <session-id> --title "First Suite"
  scoreshelf api queues stats -o table`,
}

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Smart upload sessions and review",
}

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Job queues and dead letters",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Configuration settings commands",
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Prompt template overrides",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func addAll(parent *cobra.Command, eps []api.Endpoint) {
	for _, ep := range eps {
		parent.AddCommand(ep.Command(getServerURL))
	}
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ListStagesEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	addAll(uploadsCmd, endpoints.SmartUploadCommands())
	addAll(queuesCmd, endpoints.QueueCommands())
	addAll(settingsCmd, endpoints.SettingsCommands())
	addAll(promptsCmd, endpoints.PromptCommands())

	apiCmd.AddCommand(uploadsCmd)
	apiCmd.AddCommand(queuesCmd)
	apiCmd.AddCommand(settingsCmd)
	apiCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(apiCmd)
}
