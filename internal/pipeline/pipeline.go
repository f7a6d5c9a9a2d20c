// Package pipeline runs the smart upload flow: intake, the AI first pass,
// the optional AI second pass, and post-decision cleanup. Each step after
// intake is a job on its own queue, executed by a jobs.Worker.
package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/prompts"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

// Job types.
const (
	JobTypeFirstPass  = "first_pass"
	JobTypeSecondPass = "second_pass"
	JobTypeCleanup    = review.JobTypeCleanup
)

// AutoApproveReviewer is recorded as the reviewer of auto-approved pieces.
const AutoApproveReviewer = "system:auto-approve"

// Payload is the first- and second-pass job payload.
type Payload struct {
	SessionID string `json:"sessionId"`
}

// Config wires a Pipeline.
type Config struct {
	Store     *store.Store
	Settings  config.Store
	Jobs      *jobs.Manager
	Blobs     blob.Store
	Providers *providers.Registry
	Prompts   *prompts.Resolver
	Review    *review.Service
	Renderer  pdf.Renderer
	Splitter  pdf.Splitter
	Validator pdf.Validator
	Notifier  notify.Notifier
	// Calls records each AI call. Nil disables recording.
	Calls     *llmcall.Recorder
	Logger    *slog.Logger
}

// Pipeline owns the stages and the operations that start them.
type Pipeline struct {
	store     *store.Store
	settings  config.Store
	jobs      *jobs.Manager
	blobs     blob.Store
	providers *providers.Registry
	prompts   *prompts.Resolver
	review    *review.Service
	renderer  pdf.Renderer
	splitter  pdf.Splitter
	validator pdf.Validator
	notifier  notify.Notifier
	calls     *llmcall.Recorder
	logger    *slog.Logger
	now       func() time.Time

	stages *Registry
}

// New validates cfg and builds the pipeline with its three stages.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case cfg.Jobs == nil:
		return nil, errors.New("pipeline: job manager is required")
	case cfg.Blobs == nil:
		return nil, errors.New("pipeline: blob store is required")
	case cfg.Providers == nil:
		return nil, errors.New("pipeline: provider registry is required")
	case cfg.Review == nil:
		return nil, errors.New("pipeline: review service is required")
	}

	p := &Pipeline{
		store:     cfg.Store,
		settings:  cfg.Settings,
		jobs:      cfg.Jobs,
		blobs:     cfg.Blobs,
		providers: cfg.Providers,
		prompts:   cfg.Prompts,
		review:    cfg.Review,
		renderer:  cfg.Renderer,
		splitter:  cfg.Splitter,
		validator: cfg.Validator,
		notifier:  cfg.Notifier,
		calls:     cfg.Calls,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		stages:    NewRegistry(),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.renderer == nil {
		p.renderer = pdf.Pdftoppm{}
	}
	if p.splitter == nil {
		p.splitter = pdf.PDFCPU{}
	}
	if p.validator == nil {
		p.validator = pdf.PDFCPU{}
	}
	if p.notifier == nil {
		p.notifier = notify.Log{Logger: p.logger}
	}
	if p.prompts == nil {
		p.prompts = prompts.NewResolver(cfg.Settings, p.logger)
	}
	smartupload.RegisterPrompts(p.prompts)

	for _, s := range []Stage{
		&firstPassStage{p: p},
		&secondPassStage{p: p},
		&cleanupStage{p: p},
	} {
		if err := p.stages.Register(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Stages returns the stage registry.
func (p *Pipeline) Stages() *Registry { return p.stages }

// Register binds every stage to w in dependency order. Each job type may use
// as many slots as its queue has.
func (p *Pipeline) Register(w *jobs.Worker) error {
	ordered, err := p.stages.Ordered()
	if err != nil {
		return err
	}
	for _, s := range ordered {
		qs := p.jobs.QueueSettings(s.Queue())
		w.Register(s.Queue(), s.Name(), s.Handle, jobs.HandlerOptions{
			Concurrency: qs.Concurrency,
			OnExhausted: s.Exhausted,
		})
		p.logger.Debug("registered stage", "stage", s.Name(), "queue", s.Queue(), "concurrency", qs.Concurrency)
	}
	return nil
}
