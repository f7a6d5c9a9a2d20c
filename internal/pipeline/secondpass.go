package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/parts"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
	"github.com/jackzampolin/scoreshelf/internal/structured"
)

var verificationSchema = smartupload.RawSchema(smartupload.VerificationSchema)

// SecondPassResult is returned when a second pass is queued.
type SecondPassResult struct {
	SessionID string                   `json:"sessionId"`
	Status    session.SecondPassStatus `json:"status"`
	JobID     string                   `json:"jobId"`
}

// EnqueueSecondPass claims the second pass for a session and dispatches its
// job. The claim is refused with store.ErrIneligible unless the first pass
// finished, the session is pending review, and no second pass is queued,
// running or verified; a refused claim creates no job. If dispatch fails
// after the claim, the claim is rolled back to FAILED.
func (p *Pipeline) EnqueueSecondPass(ctx context.Context, sessionID string) (*SecondPassResult, error) {
	jobID := uuid.NewString()
	logger := p.logger.With("session_id", sessionID, "job_id", jobID)

	if err := p.store.ClaimSecondPass(ctx, sessionID, jobID); err != nil {
		return nil, err
	}
	if _, err := p.jobs.Enqueue(ctx, config.QueueSecondPass, JobTypeSecondPass, Payload{SessionID: sessionID}, jobs.Options{ID: jobID}); err != nil {
		if ferr := p.store.FailSecondPass(context.WithoutCancel(ctx), sessionID, jobID, "dispatch failed: "+err.Error()); ferr != nil {
			logger.Error("failed to roll back second pass claim", "error", ferr)
		}
		return nil, fmt.Errorf("enqueue second pass: %w", err)
	}
	logger.Info("second pass queued")
	return &SecondPassResult{SessionID: sessionID, Status: session.SecondPassQueued, JobID: jobID}, nil
}

type secondPassStage struct{ p *Pipeline }

func (s *secondPassStage) Name() string           { return JobTypeSecondPass }
func (s *secondPassStage) Dependencies() []string { return []string{JobTypeFirstPass} }
func (s *secondPassStage) Queue() string          { return config.QueueSecondPass }
func (s *secondPassStage) Description() string {
	return "Verify and correct a parsed upload with the second model, then re-route it"
}

func (s *secondPassStage) Handle(ctx context.Context, job *jobs.Record) error {
	var pl Payload
	if err := job.Decode(&pl); err != nil {
		return err
	}
	return s.p.SecondPass(ctx, job.ID, pl.SessionID)
}

func (s *secondPassStage) Exhausted(ctx context.Context, job *jobs.Record, cause error) {
	var pl Payload
	if err := job.Decode(&pl); err != nil {
		return
	}
	p := s.p
	reason := fmt.Sprintf("second pass failed after %d attempts: %v", job.AttemptsMade, cause)
	logger := p.logger.With("session_id", pl.SessionID, "job_id", job.ID)
	if err := p.store.FailSecondPass(ctx, pl.SessionID, job.ID, reason); err != nil {
		logger.Warn("failed to record second pass failure", "error", err)
		return
	}
	p.notifyBestEffort(ctx, logger, notify.Event{Kind: notify.KindVerifyFailed, SessionID: pl.SessionID, Message: reason})
}

// SecondPass verifies one session. Only the job holding the claim may run
// it; results are applied only while the session is still pending review.
func (p *Pipeline) SecondPass(ctx context.Context, jobID, sessionID string) error {
	logger := p.logger.With("session_id", sessionID, "job_id", jobID)

	settings, err := config.ResolvePipeline(ctx, p.settings)
	if err != nil {
		return err
	}
	if err := p.startSecondPass(ctx, jobID, sessionID); err != nil {
		var resume *resumeVerified
		if errors.As(err, &resume) {
			logger.Info("second pass already recorded, resuming routing")
			return p.routeParsed(ctx, logger, resume.sess, settings, true)
		}
		return err
	}

	task, err := config.ResolveTask(ctx, p.settings, config.TaskSecondPass)
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

	pages, legend := verificationPages(sess, pdf.SamplePages(pageCount, settings.SamplePages))
	images, err := structured.WithTimeout(ctx, task.Timeout, func(ctx context.Context) ([][]byte, error) {
		return p.renderer.Render(ctx, doc, pages)
	})
	if err != nil {
		return fmt.Errorf("render verification pages: %w", err)
	}

	client, err := p.providers.Resolve(task.Provider, task.FallbackProviders...)
	if err != nil {
		return err
	}
	system, _, err := p.prompts.RenderPrompt(ctx, smartupload.SecondPassSystemKey, struct{}{})
	if err != nil {
		return err
	}
	user, up, err := p.prompts.RenderPrompt(ctx, smartupload.SecondPassUserKey, smartupload.SecondPassData{
		FileName:     Untrusted(sess.FileName),
		PageCount:    pageCount,
		SampledPages: pageList(pages),
		Previous:     UntrustedBlock(describeSession(sess)),
		ImageLegend:  legend,
	})
	if err != nil {
		return err
	}

	res := providers.GenerateStructuredOutput[smartupload.Verification](ctx, client, user, verificationSchema, system, callOptions(task, images, smartupload.VerificationSchemaName))
	p.calls.Record(ctx, llmcall.FromStructured(res, llmcall.RecordOptions{
		SessionID:  sessionID,
		JobID:      jobID,
		Task:       config.TaskSecondPass,
		PromptKey:  smartupload.SecondPassUserKey,
		PromptHash: up.Hash,
	}))
	logger = logger.With("provider", res.Provider, "model", res.Model, "prompt_hash", up.Hash[:12])

	var (
		result  store.ParseResult
		outcome session.Outcome
	)
	switch {
	case res.Error != nil && !malformed(res.RawResponse, res.Error):
		return fmt.Errorf("second pass call: %w", res.Error)
	case res.Error != nil:
		note := fmt.Sprintf("verifier output unusable after %d attempts: %v", res.Attempts, res.Error)
		logger.Warn("second pass output unusable, keeping first pass", "error", res.Error)
		result = keepFirstPass(sess, note)
		outcome = session.Outcome{Confidence: sess.ConfidenceScore, PartCount: len(sess.Parts), ParseFailed: true}
	default:
		ver := *res.Data
		cutting, dropped := checkRanges(ver.Parts, pageCount)
		if len(cutting) == 0 && len(sess.Parts) > 0 {
			note := "verifier returned no usable ranges, keeping first pass"
			logger.Warn(note, "dropped", len(dropped))
			result = keepFirstPass(sess, note)
			outcome = session.Outcome{Confidence: sess.ConfidenceScore, PartCount: len(sess.Parts), ParseFailed: true}
			break
		}

		notes := append([]string{}, dropped...)
		for _, issue := range ver.Issues {
			notes = append(notes, "verifier: "+issue)
		}
		meta := metadataOf(ver.Extraction, notes)

		partList := sess.Parts
		changed := ver.Changed || meta.Title != sess.Metadata.Title || !sameCutting(cutting, sess.CuttingInstructions)
		if changed {
			partList, _, err = p.splitParts(ctx, doc, meta.Title, verifiedPrefix(sessionID), cutting)
			if err != nil {
				return err
			}
		}
		unknown := countUnknown(cutting)
		score := Score(Evidence{
			Reported:     ver.Confidence,
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
		logger.Info("second pass verified", "changed", changed, "reported", ver.Confidence, "score", score,
			"parts", len(partList), "issues", len(ver.Issues))
	}

	result.Routing = session.RouteVerified(outcome, thresholds(settings))
	applied, err := p.store.CompleteSecondPass(ctx, sessionID, jobID, result)
	if err != nil {
		return err
	}
	if !applied {
		logger.Info("session decided during second pass, results not applied")
		return nil
	}
	sess, err = p.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return p.routeParsed(ctx, logger, sess, settings, false)
}

// resumeVerified signals that a previous attempt of this job already stored
// its result.
type resumeVerified struct{ sess *session.Session }

func (r *resumeVerified) Error() string { return "second pass already verified" }

// startSecondPass moves the claim to RUNNING. A job re-injected from the
// dead-letter queue finds its claim FAILED and re-claims it under the same
// id first.
func (p *Pipeline) startSecondPass(ctx context.Context, jobID, sessionID string) error {
	err := p.store.StartSecondPass(ctx, sessionID, jobID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return jobs.Permanent(err)
	case !errors.Is(err, store.ErrIneligible):
		return err
	}

	sess, gerr := p.store.GetSession(ctx, sessionID)
	if gerr != nil || sess.SecondPassJobID != jobID {
		return jobs.Permanent(err)
	}
	switch sess.SecondPassStatus {
	case session.SecondPassVerified:
		if sess.ReviewStatus == session.ReviewPending {
			return &resumeVerified{sess: sess}
		}
		return jobs.Permanent(err)
	case session.SecondPassFailed:
		if cerr := p.store.ClaimSecondPass(ctx, sessionID, jobID); cerr != nil {
			return jobs.Permanent(cerr)
		}
		return p.store.StartSecondPass(ctx, sessionID, jobID)
	}
	return jobs.Permanent(err)
}

func keepFirstPass(sess *session.Session, note string) store.ParseResult {
	meta := sess.Metadata
	meta.Notes = append(append([]string{}, meta.Notes...), note)
	return store.ParseResult{
		Metadata:   meta,
		Parts:      sess.Parts,
		Cutting:    sess.CuttingInstructions,
		Confidence: sess.ConfidenceScore,
		PageCount:  sess.PageCount,
		Note:       note,
	}
}

// verificationPages merges the first page of every part into the sample and
// describes each rendered page for the prompt.
func verificationPages(sess *session.Session, sample []int) ([]int, string) {
	starts := make(map[int]string, len(sess.Parts))
	for _, part := range sess.Parts {
		if _, ok := starts[part.PageStart]; !ok {
			starts[part.PageStart] = part.Instrument
		}
	}
	seen := make(map[int]bool, len(sample)+len(starts))
	var pages []int
	for _, n := range sample {
		if !seen[n] {
			seen[n] = true
			pages = append(pages, n)
		}
	}
	for n := range starts {
		if !seen[n] {
			seen[n] = true
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)

	legend := make([]string, len(pages))
	for i, n := range pages {
		if inst, ok := starts[n]; ok {
			legend[i] = fmt.Sprintf("page %d (proposed start of %s)", n, inst)
		} else {
			legend[i] = fmt.Sprintf("page %d", n)
		}
	}
	return pages, strings.Join(legend, "; ")
}

// describeSession renders the first pass as lines of untrusted text.
func describeSession(sess *session.Session) []string {
	m := sess.Metadata
	lines := []string{
		"title: " + m.Title,
		"composer: " + m.Composer,
		"arranger: " + m.Arranger,
		"publisher: " + m.Publisher,
		fmt.Sprintf("confidence: %d", sess.ConfidenceScore),
	}
	if len(sess.CuttingInstructions) == 0 {
		lines = append(lines, "parts: none were extracted")
	}
	for _, c := range sess.CuttingInstructions {
		lines = append(lines, fmt.Sprintf("part: %s, pages %d-%d", c.Label, c.PageStart, c.PageEnd))
	}
	return lines
}

func sameCutting(a, b []session.CuttingInstruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countUnknown(cutting []session.CuttingInstruction) int {
	n := 0
	for _, c := range cutting {
		if !parts.NormalizeInstrumentLabel(c.Label).Recognized() {
			n++
		}
	}
	return n
}
