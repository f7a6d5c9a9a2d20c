package endpoints

import (
	"github.com/jackzampolin/scoreshelf/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	eps := []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},
	}
	eps = append(eps, SmartUploadCommands()...)
	eps = append(eps, QueueCommands()...)
	eps = append(eps, SettingsCommands()...)
	eps = append(eps, PromptCommands()...)
	return append(eps,
		&ListStagesEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	)
}

// SmartUploadCommands returns the upload and review endpoints.
// This groups them under the "uploads" subcommand.
func SmartUploadCommands() []api.Endpoint {
	return []api.Endpoint{
		&UploadEndpoint{},
		&SecondPassEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&ApproveEndpoint{},
		&RejectEndpoint{},
		&ReopenEndpoint{},
		&BulkApproveEndpoint{},
		&PreviewEndpoint{},
		&SessionCallsEndpoint{},
		&ExportEndpoint{},
	}
}

// QueueCommands returns job queue endpoints.
// This groups them under the "queues" subcommand.
func QueueCommands() []api.Endpoint {
	return []api.Endpoint{
		&QueueStatsEndpoint{},
		&ClearQueueEndpoint{},
		&GetJobEndpoint{},
		&ListDeadLettersEndpoint{},
		&RetryDeadLetterEndpoint{},
		&CallSummaryEndpoint{},
	}
}

// SettingsCommands returns endpoints for settings operations.
// This groups settings-related commands under "settings" subcommand.
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}

// PromptCommands returns prompt override endpoints.
func PromptCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
		&SetPromptEndpoint{},
		&ResetPromptEndpoint{},
	}
}
