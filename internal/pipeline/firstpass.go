package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
	"github.com/jackzampolin/scoreshelf/internal/structured"
)

var extractionSchema = smartupload.RawSchema(smartupload.ExtractionSchema)

type firstPassStage struct{ p *Pipeline }

func (s *firstPassStage) Name() string           { return JobTypeFirstPass }
func (s *firstPassStage) Dependencies() []string { return nil }
func (s *firstPassStage) Queue() string          { return config.QueueFirstPass }
func (s *firstPassStage) Description() string {
	return "Classify and split an upload with the vision model, then route it"
}

func (s *firstPassStage) Handle(ctx context.Context, job *jobs.Record) error {
	var pl Payload
	if err := job.Decode(&pl); err != nil {
		return err
	}
	return s.p.FirstPass(ctx, job.ID, pl.SessionID)
}

// Exhausted fails the parse once the job has no attempts left.
func (s *firstPassStage) Exhausted(ctx context.Context, job *jobs.Record, cause error) {
	var pl Payload
	if err := job.Decode(&pl); err != nil {
		return
	}
	p := s.p
	reason := fmt.Sprintf("first pass failed after %d attempts: %v", job.AttemptsMade, cause)
	logger := p.logger.With("session_id", pl.SessionID, "job_id", job.ID)
	err := p.store.FailParse(ctx, pl.SessionID, reason)
	if errors.Is(err, store.ErrIneligible) {
		// Parsed already; routing is what kept failing.
		reason = fmt.Sprintf("routing failed after %d attempts: %v", job.AttemptsMade, cause)
		err = p.store.RecordFailure(ctx, pl.SessionID, reason)
	}
	if err != nil {
		logger.Warn("failed to record first pass failure", "error", err)
		return
	}
	p.notifyBestEffort(ctx, logger, notify.Event{Kind: notify.KindParseFailed, SessionID: pl.SessionID, Message: reason})
}

// FirstPass classifies and splits one session. Provider failures are
// returned so the queue retries them; unusable model output is recorded as
// a parse with no parts and routed to the second pass.
func (p *Pipeline) FirstPass(ctx context.Context, jobID, sessionID string) error {
	logger := p.logger.With("session_id", sessionID, "job_id", jobID)

	settings, err := config.ResolvePipeline(ctx, p.settings)
	if err != nil {
		return err
	}

	if err := p.store.BeginParse(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrIneligible) {
			// A previous attempt parsed but failed while routing.
			sess, gerr := p.store.GetSession(ctx, sessionID)
			if gerr == nil && sess.ParseStatus == session.ParseParsed {
				logger.Info("first pass already recorded, resuming routing")
				return p.routeParsed(ctx, logger, sess, settings, true)
			}
			return jobs.Permanent(err)
		}
		if errors.Is(err, store.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}

	task, err := config.ResolveTask(ctx, p.settings, config.TaskFirstPass)
	if err != nil {
		return err
	}
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	doc, err := p.blobs.Download(ctx, sess.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return jobs.Permanent(fmt.Errorf("original upload missing: %w", err))
		}
		return err
	}
	pageCount, err := p.splitter.PageCount(ctx, doc)
	if err != nil {
		return jobs.Permanent(err)
	}

	sample := pdf.SamplePages(pageCount, settings.SamplePages)
	images, err := structured.WithTimeout(ctx, task.Timeout, func(ctx context.Context) ([][]byte, error) {
		return p.renderer.Render(ctx, doc, sample)
	})
	if err != nil {
		return fmt.Errorf("render sample pages: %w", err)
	}

	client, err := p.providers.Resolve(task.Provider, task.FallbackProviders...)
	if err != nil {
		return err
	}
	system, _, err := p.prompts.RenderPrompt(ctx, smartupload.FirstPassSystemKey, struct{}{})
	if err != nil {
		return err
	}
	user, up, err := p.prompts.RenderPrompt(ctx, smartupload.FirstPassUserKey, smartupload.FirstPassData{
		FileName:     Untrusted(sess.FileName),
		PageCount:    pageCount,
		SampledPages: pageList(sample),
	})
	if err != nil {
		return err
	}

	res := providers.GenerateStructuredOutput[smartupload.Extraction](ctx, client, user, extractionSchema, system, callOptions(task, images, smartupload.ExtractionSchemaName))
	p.calls.Record(ctx, llmcall.FromStructured(res, llmcall.RecordOptions{
		SessionID:  sessionID,
		JobID:      jobID,
		Task:       config.TaskFirstPass,
		PromptKey:  smartupload.FirstPassUserKey,
		PromptHash: up.Hash,
	}))
	logger = logger.With("provider", res.Provider, "model", res.Model, "prompt_hash", up.Hash[:12])

	var (
		result  store.ParseResult
		outcome session.Outcome
	)
	switch {
	case res.Error != nil && !malformed(res.RawResponse, res.Error):
		return fmt.Errorf("first pass call: %w", res.Error)
	case res.Error != nil:
		note := fmt.Sprintf("model output unusable after %d attempts: %v", res.Attempts, res.Error)
		logger.Warn("first pass output unusable", "error", res.Error)
		result = store.ParseResult{
			Metadata:  session.Metadata{Notes: []string{note}},
			Parts:     []session.Part{},
			PageCount: pageCount,
			Note:      note,
		}
		outcome = session.Outcome{ParseFailed: true}
	default:
		ext := *res.Data
		cutting, dropped := checkRanges(ext.Parts, pageCount)
		meta := metadataOf(ext, dropped)
		partList, unknown, err := p.splitParts(ctx, doc, meta.Title, partsPrefix(sessionID), cutting)
		if err != nil {
			return err
		}
		score := Score(Evidence{
			Reported:     ext.Confidence,
			Dropped:      len(dropped),
			Unknown:      unknown,
			MissingTitle: meta.Title == "",
			CoveredPages: coveredPages(cutting),
			PageCount:    pageCount,
		})
		result = store.ParseResult{
			Metadata:   meta,
			Parts:      partList,
			Cutting:    cutting,
			Confidence: score,
			PageCount:  pageCount,
		}
		outcome = session.Outcome{Confidence: score, PartCount: len(partList)}
		logger.Info("first pass extracted", "reported", ext.Confidence, "score", score,
			"parts", len(partList), "dropped", len(dropped), "unknown", unknown)
	}

	result.Routing = session.Route(outcome, thresholds(settings))
	if err := p.store.CompleteParse(ctx, sessionID, result); err != nil {
		return err
	}
	sess, err = p.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	logger.Info("first pass complete", "routing", sess.RoutingDecision, "confidence", sess.ConfidenceScore)
	return p.routeParsed(ctx, logger, sess, settings, false)
}

// routeParsed acts on a stored routing decision. It is safe to repeat:
// Commit is idempotent and the second-pass claim refuses a duplicate.
// Notifications are skipped when resuming.
func (p *Pipeline) routeParsed(ctx context.Context, logger *slog.Logger, sess *session.Session, settings config.PipelineSettings, resumed bool) error {
	message := "ready for review"
	switch sess.RoutingDecision {
	case session.RouteAutoApprove:
		res, err := p.review.Commit(ctx, sess.ID, review.CommitOptions{ReviewerID: AutoApproveReviewer, AutoApproved: true})
		switch {
		case err == nil:
			logger.Info("auto-approved", "piece_id", res.PieceID, "idempotent", res.WasIdempotent)
			return nil
		case errors.Is(err, store.ErrIneligible):
			logger.Info("session decided before auto-approve", "error", err)
			return nil
		case errors.Is(err, review.ErrNoTitle), errors.Is(err, review.ErrNoParts):
			logger.Warn("auto-approve refused, leaving for review", "error", err)
			message = err.Error()
		default:
			return fmt.Errorf("auto-approve: %w", err)
		}
	case session.RouteLowConfidenceSecondPass:
		if settings.AutoSecondPass {
			_, err := p.EnqueueSecondPass(ctx, sess.ID)
			if errors.Is(err, store.ErrIneligible) {
				logger.Info("second pass not claimed", "error", err)
				return nil
			}
			return err
		}
		message = fmt.Sprintf("low confidence (%d), second pass available", sess.ConfidenceScore)
	case session.RouteNoParseSecondPass:
		message = "no parts extracted, second pass available"
	}

	if !resumed {
		p.notifyBestEffort(ctx, logger, notify.Event{
			Kind:      notify.KindReviewNeeded,
			SessionID: sess.ID,
			Title:     sess.Metadata.Title,
			Message:   message,
		})
	}
	return nil
}

func thresholds(s config.PipelineSettings) session.Thresholds {
	return session.Thresholds{AutoApprove: s.AutoApproveThreshold, SecondPass: s.SecondPassThreshold}
}

func callOptions(task config.TaskConfig, images [][]byte, schemaName string) providers.CallOptions {
	return providers.CallOptions{
		Model:       task.Model,
		Temperature: task.Temperature,
		MaxTokens:   task.MaxTokens,
		Timeout:     task.Timeout,
		MaxRetries:  task.MaxRetries,
		Images:      images,
		SchemaName:  schemaName,
	}
}

// malformed reports whether a structured call failed on the model's output
// rather than on the way to the model.
func malformed(raw string, err error) bool {
	return raw != "" || errors.Is(err, structured.ErrEmptyOutput)
}

func (p *Pipeline) notifyBestEffort(ctx context.Context, logger *slog.Logger, e notify.Event) {
	if e.At.IsZero() {
		e.At = p.now()
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("notification failed", "kind", e.Kind, "error", err)
	}
}
