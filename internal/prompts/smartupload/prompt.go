// Package smartupload holds the prompts and output schemas for the two AI
// passes of the smart upload pipeline.
package smartupload

import (
	_ "embed"

	"github.com/jackzampolin/scoreshelf/internal/prompts"
)

//go:embed first_pass_system.tmpl
var firstPassSystem string

//go:embed first_pass_user.tmpl
var firstPassUser string

//go:embed second_pass_system.tmpl
var secondPassSystem string

//go:embed second_pass_user.tmpl
var secondPassUser string

// Prompt keys
const (
	FirstPassSystemKey  = "smart_upload.first_pass.system"
	FirstPassUserKey    = "smart_upload.first_pass.user"
	SecondPassSystemKey = "smart_upload.second_pass.system"
	SecondPassUserKey   = "smart_upload.second_pass.user"
)

// FirstPassData fills the first-pass user prompt. FileName must already be
// sanitized and delimited.
type FirstPassData struct {
	FileName     string
	PageCount    int
	SampledPages string
}

// SecondPassData fills the second-pass user prompt. FileName and Previous
// must already be sanitized and delimited.
type SecondPassData struct {
	FileName     string
	PageCount    int
	SampledPages string
	Previous     string
	ImageLegend  string
}

// RegisterPrompts registers the smart upload prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         FirstPassSystemKey,
		Text:        firstPassSystem,
		Description: "First pass system prompt - identifies the piece and splits the upload into parts",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         FirstPassUserKey,
		Text:        firstPassUser,
		Description: "First pass user prompt template",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         SecondPassSystemKey,
		Text:        secondPassSystem,
		Description: "Second pass system prompt - verifies and corrects the first pass",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         SecondPassUserKey,
		Text:        secondPassUser,
		Description: "Second pass user prompt template",
	})
}
