// Package prompts manages AI prompts: embedded .tmpl defaults registered by
// each pipeline stage, with optional overrides stored as settings under
// "prompts.<key>".
//
// Resolution order:
//  1. Settings override (editable through /api/settings)
//  2. Embedded default (from .tmpl files in code)
package prompts

// OverridePrefix is the settings key prefix for prompt overrides.
const OverridePrefix = "prompts."

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   `json:"key"` // Hierarchical key: smart_upload.first_pass.system
	Text        string   `json:"text"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`
}

// ResolvedPrompt is the text a stage will actually send.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"isOverride"`
	// Hash identifies the exact text for traceability in logs.
	Hash string `json:"hash"`
}
