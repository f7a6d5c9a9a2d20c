package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/pdf/pdftest"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

const testPages = 4

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	p        *Pipeline
	store    *store.Store
	settings *store.Settings
	jobs     *jobs.Manager
	blobs    *blob.Local
	first    *providers.MockClient
	second   *providers.MockClient
	renderer *pdftest.Renderer
	notes    *recorder
	calls    *llmcall.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(t.Context(), store.Config{DSN: filepath.Join(dir, "pipeline.db")})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	f := &fixture{
		store:    store.New(db, nil),
		settings: store.NewSettings(db),
		jobs:     jobs.NewManager(jobs.ManagerConfig{DB: db}),
		blobs:    blobs,
		first:    providers.NewMockClient(),
		second:   providers.NewMockClient(),
		renderer: &pdftest.Renderer{},
		notes:    &recorder{},
		calls:    llmcall.NewStore(db),
	}
	f.first.ClientName = "openrouter"
	f.second.ClientName = "anthropic"
	reg := providers.NewRegistry()
	reg.RegisterLLM("openrouter", f.first)
	reg.RegisterLLM("anthropic", f.second)

	splitter := pdftest.Splitter{Pages: testPages}
	rev := review.New(review.Config{
		Store:    f.store,
		Jobs:     f.jobs,
		Blobs:    blobs,
		Renderer: f.renderer,
		Splitter: splitter,
	})
	f.p, err = New(Config{
		Store:     f.store,
		Settings:  f.settings,
		Jobs:      f.jobs,
		Blobs:     blobs,
		Providers: reg,
		Review:    rev,
		Renderer:  f.renderer,
		Splitter:  splitter,
		Validator: pdf.PDFCPU{},
		Notifier:  f.notes,
		Calls:     llmcall.NewRecorder(f.calls, nil),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func extraction(t *testing.T, title string, confidence int, ranges ...smartupload.Range) string {
	t.Helper()
	if ranges == nil {
		ranges = []smartupload.Range{}
	}
	raw, err := json.Marshal(smartupload.Extraction{
		Title: title, Composer: "Gustav Holst", Confidence: confidence, Parts: ranges, Notes: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func verification(t *testing.T, title string, confidence int, changed bool, ranges ...smartupload.Range) string {
	t.Helper()
	raw, err := json.Marshal(smartupload.Verification{
		Extraction: smartupload.Extraction{
			Title: title, Composer: "Gustav Holst", Confidence: confidence, Parts: ranges, Notes: []string{},
		},
		Changed: changed,
		Issues:  []string{"part 2 label corrected"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

// fullSet covers every page of the fixture document.
var fullSet = []smartupload.Range{
	{Label: "Conductor Score", PageStart: 1, PageEnd: 1},
	{Label: "Clarinet 1", PageStart: 2, PageEnd: 2},
	{Label: "1st Trumpet", PageStart: 3, PageEnd: 3},
	{Label: "Tuba", PageStart: 4, PageEnd: 4},
}

func (f *fixture) upload(t *testing.T) *UploadResult {
	t.Helper()
	res, err := f.p.Upload(t.Context(), UploadInput{
		FileName:   "Holst Suite.pdf",
		MimeType:   "application/pdf",
		Data:       pdftest.Blank(testPages),
		UploadedBy: "librarian",
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return res
}

// parsed uploads a file and runs the first pass against reply.
func (f *fixture) parsed(t *testing.T, reply string) *session.Session {
	t.Helper()
	f.first.Responses = []string{reply}
	res := f.upload(t)
	if err := f.p.FirstPass(t.Context(), res.JobID, res.SessionID); err != nil {
		t.Fatalf("FirstPass() error = %v", err)
	}
	return f.get(t, res.SessionID)
}

func (f *fixture) get(t *testing.T, id string) *session.Session {
	t.Helper()
	sess, err := f.store.GetSession(t.Context(), id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	return sess
}

func (f *fixture) jobCount(t *testing.T, queue string) int {
	t.Helper()
	st, err := f.jobs.Stats(t.Context(), queue)
	if err != nil {
		t.Fatal(err)
	}
	return st.Waiting + st.Delayed + st.Active + st.Completed + st.Failed + st.DeadLettered
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	res := f.upload(t)

	if res.Status != session.ParseAwaiting {
		t.Errorf("Status = %s, want %s", res.Status, session.ParseAwaiting)
	}
	sess := f.get(t, res.SessionID)
	if sess.FirstPassJobID != res.JobID {
		t.Errorf("FirstPassJobID = %q, want %q", sess.FirstPassJobID, res.JobID)
	}
	if sess.StorageKey != "smart-upload/"+res.SessionID+"/original.pdf" {
		t.Errorf("StorageKey = %q", sess.StorageKey)
	}
	if ok, _ := f.blobs.Exists(ctx, sess.StorageKey); !ok {
		t.Error("original upload not stored")
	}
	job, err := f.jobs.Get(ctx, res.JobID)
	if err != nil {
		t.Fatalf("jobs.Get() error = %v", err)
	}
	if job.Queue != config.QueueFirstPass || job.Type != JobTypeFirstPass {
		t.Errorf("job = %s/%s, want first pass", job.Queue, job.Type)
	}
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	if err := f.settings.Set(ctx, "smart_upload.max_upload_mb", 1, ""); err != nil {
		t.Fatal(err)
	}

	big := append(pdftest.Blank(1), make([]byte, 2<<20)...)
	tests := []struct {
		name string
		in   UploadInput
	}{
		{"empty", UploadInput{FileName: "a.pdf", MimeType: "application/pdf"}},
		{"no name", UploadInput{MimeType: "application/pdf", Data: pdftest.Blank(1)}},
		{"too large", UploadInput{FileName: "a.pdf", MimeType: "application/pdf", Data: big}},
		{"not a pdf type", UploadInput{FileName: "notes.txt", MimeType: "text/plain", Data: []byte("hello")}},
		{"garbage pdf", UploadInput{FileName: "a.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4 nothing here")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.p.Upload(ctx, tt.in)
			var ue *UploadError
			if !errors.As(err, &ue) || !errors.Is(err, ErrInvalidUpload) {
				t.Fatalf("Upload() error = %v, want UploadError", err)
			}
			if ue.Field != "file" {
				t.Errorf("Field = %q, want file", ue.Field)
			}
		})
	}

	n, err := f.store.CountSessions(ctx, store.SessionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("sessions = %d after rejected uploads, want 0", n)
	}
}

func TestFirstPass_AutoApprove(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 95, fullSet...))

	if sess.ParseStatus != session.ParseParsed {
		t.Fatalf("ParseStatus = %s, want PARSED", sess.ParseStatus)
	}
	if sess.ConfidenceScore != 95 {
		t.Errorf("ConfidenceScore = %d, want 95", sess.ConfidenceScore)
	}
	if sess.RoutingDecision != session.RouteAutoApprove {
		t.Errorf("RoutingDecision = %s, want auto_approve", sess.RoutingDecision)
	}
	if sess.ReviewStatus != session.ReviewApproved || !sess.AutoApproved {
		t.Errorf("review = %s auto=%v, want APPROVED auto", sess.ReviewStatus, sess.AutoApproved)
	}
	if len(sess.Parts) != 4 {
		t.Fatalf("parts = %d, want 4", len(sess.Parts))
	}
	if got := sess.Parts[1].Instrument; got != "1st Bb Clarinet" {
		t.Errorf("Parts[1].Instrument = %q, want normalized clarinet", got)
	}
	if !strings.HasPrefix(sess.Parts[0].StorageKey, "smart-upload/"+sess.ID+"/parts/") {
		t.Errorf("part key = %q", sess.Parts[0].StorageKey)
	}

	piece, err := f.store.FindPieceBySession(ctx, sess.ID)
	if err != nil || piece == nil {
		t.Fatalf("FindPieceBySession() = %v, %v", piece, err)
	}
	if _, err := f.jobs.Get(ctx, "cleanup-"+sess.ID+"-committed"); err != nil {
		t.Errorf("cleanup job not enqueued: %v", err)
	}

	req := f.first.Requests()[0]
	user := req.Messages[len(req.Messages)-1]
	if len(user.Images) != testPages {
		t.Errorf("images sent = %d, want %d", len(user.Images), testPages)
	}
	if !strings.Contains(user.Content, "<untrusted_input>Holst Suite.pdf</untrusted_input>") {
		t.Errorf("file name not delimited in prompt: %q", user.Content)
	}

	calls, err := f.calls.List(ctx, llmcall.QueryFilter{SessionID: sess.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Fatalf("recorded calls = %d, want 1", len(calls))
	}
	if c := calls[0]; c.Task != config.TaskFirstPass || c.Provider != "openrouter" || !c.Success || c.PromptHash == "" || c.JobID == "" {
		t.Errorf("recorded call = %+v", c)
	}
}

func TestFirstPass_NoPartsRoutesToSecondPass(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "Unknown March", 20))

	if sess.RoutingDecision != session.RouteNoParseSecondPass {
		t.Fatalf("RoutingDecision = %s, want no_parse_second_pass", sess.RoutingDecision)
	}
	if sess.SecondPassStatus != session.SecondPassNone {
		t.Errorf("SecondPassStatus = %q, want none until requested", sess.SecondPassStatus)
	}
	if kinds := f.notes.kinds(); len(kinds) != 1 || kinds[0] != notify.KindReviewNeeded {
		t.Errorf("notifications = %v, want [review_needed]", kinds)
	}

	res, err := f.p.EnqueueSecondPass(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EnqueueSecondPass() error = %v", err)
	}
	if res.Status != session.SecondPassQueued {
		t.Errorf("Status = %s, want QUEUED", res.Status)
	}
	if _, err := f.p.EnqueueSecondPass(ctx, sess.ID); !errors.Is(err, store.ErrIneligible) {
		t.Errorf("second EnqueueSecondPass() error = %v, want ErrIneligible", err)
	}
	if n := f.jobCount(t, config.QueueSecondPass); n != 1 {
		t.Errorf("second pass jobs = %d, want 1", n)
	}
	if got := f.get(t, sess.ID).SecondPassJobID; got != res.JobID {
		t.Errorf("SecondPassJobID = %q, want %q", got, res.JobID)
	}
}

func TestFirstPass_MalformedOutput(t *testing.T) {
	f := newFixture(t)
	sess := f.parsed(t, "Sorry, I can't read this score.")

	if sess.ParseStatus != session.ParseParsed {
		t.Errorf("ParseStatus = %s, want PARSED", sess.ParseStatus)
	}
	if sess.RoutingDecision != session.RouteNoParseSecondPass {
		t.Errorf("RoutingDecision = %s, want no_parse_second_pass", sess.RoutingDecision)
	}
	if len(sess.Parts) != 0 {
		t.Errorf("parts = %d, want 0", len(sess.Parts))
	}
	if !strings.Contains(sess.LastError, "unusable") {
		t.Errorf("LastError = %q, want unusable note", sess.LastError)
	}
}

func TestFirstPass_LowConfidenceQueuesSecondPass(t *testing.T) {
	f := newFixture(t)
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 30, smartupload.Range{Label: "Clarinet 1", PageStart: 1, PageEnd: 4}))

	if sess.RoutingDecision != session.RouteLowConfidenceSecondPass {
		t.Fatalf("RoutingDecision = %s, want low_confidence_second_pass", sess.RoutingDecision)
	}
	if sess.SecondPassStatus != session.SecondPassQueued || sess.SecondPassJobID == "" {
		t.Errorf("second pass = %q job %q, want QUEUED with job", sess.SecondPassStatus, sess.SecondPassJobID)
	}

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		if err := f.settings.Set(t.Context(), "smart_upload.auto_second_pass", false, ""); err != nil {
			t.Fatal(err)
		}
		sess := f.parsed(t, extraction(t, "First Suite in Eb", 30, smartupload.Range{Label: "Clarinet 1", PageStart: 1, PageEnd: 4}))
		if sess.SecondPassStatus != session.SecondPassNone {
			t.Errorf("SecondPassStatus = %q, want none", sess.SecondPassStatus)
		}
		if n := f.jobCount(t, config.QueueSecondPass); n != 0 {
			t.Errorf("second pass jobs = %d, want 0", n)
		}
	})
}

func TestFirstPass_DropsInvalidRanges(t *testing.T) {
	f := newFixture(t)
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 90,
		smartupload.Range{Label: "Flute", PageStart: 1, PageEnd: 2},
		smartupload.Range{Label: "Oboe", PageStart: 2, PageEnd: 3},
		smartupload.Range{Label: "Bassoon", PageStart: 3, PageEnd: 9},
	))

	if len(sess.Parts) != 1 || sess.Parts[0].Instrument != "Flute" {
		t.Fatalf("parts = %+v, want only the flute", sess.Parts)
	}
	// 90 - 2*15 dropped - ceil(20*2/4) coverage
	if sess.ConfidenceScore != 50 {
		t.Errorf("ConfidenceScore = %d, want 50", sess.ConfidenceScore)
	}
	if sess.RoutingDecision != session.RouteManualReview {
		t.Errorf("RoutingDecision = %s, want manual_review", sess.RoutingDecision)
	}
	dropped := 0
	for _, n := range sess.Metadata.Notes {
		if strings.HasPrefix(n, "dropped") {
			dropped++
		}
	}
	if dropped != 2 {
		t.Errorf("dropped notes = %d, want 2 (%v)", dropped, sess.Metadata.Notes)
	}
}

func TestFirstPass_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.first.Err = errors.New("upstream down")
	res := f.upload(t)

	err := f.p.FirstPass(ctx, res.JobID, res.SessionID)
	if err == nil || jobs.IsPermanent(err) {
		t.Fatalf("FirstPass() error = %v, want retryable error", err)
	}
	if got := f.get(t, res.SessionID).ParseStatus; got != session.ParseParsing {
		t.Errorf("ParseStatus = %s, want PARSING while retrying", got)
	}

	job, err := f.jobs.Get(ctx, res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	job.AttemptsMade = job.MaxAttempts
	stage, _ := f.p.Stages().Get(JobTypeFirstPass)
	stage.Exhausted(ctx, job, err)

	sess := f.get(t, res.SessionID)
	if sess.ParseStatus != session.ParseFailed || !strings.Contains(sess.LastError, "first pass failed") {
		t.Errorf("session = %s %q, want FAILED with reason", sess.ParseStatus, sess.LastError)
	}
	if kinds := f.notes.kinds(); len(kinds) != 1 || kinds[0] != notify.KindParseFailed {
		t.Errorf("notifications = %v, want [parse_failed]", kinds)
	}

	// FAILED sessions can be parsed again.
	f.first.Err = nil
	f.first.Responses = []string{extraction(t, "First Suite in Eb", 60, fullSet...)}
	if err := f.p.FirstPass(ctx, res.JobID, res.SessionID); err != nil {
		t.Fatalf("FirstPass() retry error = %v", err)
	}
	if got := f.get(t, res.SessionID).ParseStatus; got != session.ParseParsed {
		t.Errorf("ParseStatus = %s, want PARSED", got)
	}
}

func TestFirstPass_ExhaustedAfterParse(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 70, fullSet...))

	job, err := f.jobs.Get(ctx, sess.FirstPassJobID)
	if err != nil {
		t.Fatal(err)
	}
	job.AttemptsMade = job.MaxAttempts
	stage, _ := f.p.Stages().Get(JobTypeFirstPass)
	stage.Exhausted(ctx, job, errors.New("auto-approve: copy parts to library: bucket unavailable"))

	got := f.get(t, sess.ID)
	if got.ParseStatus != session.ParseParsed || got.ReviewStatus != session.ReviewPending {
		t.Errorf("statuses = %s/%s, want PARSED/PENDING_REVIEW", got.ParseStatus, got.ReviewStatus)
	}
	if !strings.Contains(got.LastError, "routing failed") || !strings.Contains(got.LastError, "bucket unavailable") {
		t.Errorf("LastError = %q, want routing failure reason", got.LastError)
	}
	kinds := f.notes.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != notify.KindParseFailed {
		t.Errorf("notifications = %v, want parse_failed last", kinds)
	}
}

func TestFirstPass_Rerun(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 95, fullSet...))
	calls := f.first.RequestCount()

	if err := f.p.FirstPass(ctx, sess.FirstPassJobID, sess.ID); err != nil {
		t.Fatalf("FirstPass() rerun error = %v", err)
	}
	if f.first.RequestCount() != calls {
		t.Error("rerun called the model again")
	}
	piece, err := f.store.FindPieceBySession(ctx, sess.ID)
	if err != nil || piece == nil {
		t.Fatalf("FindPieceBySession() = %v, %v", piece, err)
	}

	err = f.p.FirstPass(ctx, "job-x", "no-such-session")
	if !jobs.IsPermanent(err) {
		t.Errorf("FirstPass(unknown) error = %v, want permanent", err)
	}
}

func TestSecondPass_VerifiesAndApproves(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "", 20))
	res, err := f.p.EnqueueSecondPass(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	f.second.Responses = []string{verification(t, "First Suite in Eb", 96, true, fullSet...)}
	if err := f.p.SecondPass(ctx, res.JobID, sess.ID); err != nil {
		t.Fatalf("SecondPass() error = %v", err)
	}

	got := f.get(t, sess.ID)
	if got.SecondPassStatus != session.SecondPassVerified {
		t.Errorf("SecondPassStatus = %s, want VERIFIED", got.SecondPassStatus)
	}
	if got.ReviewStatus != session.ReviewApproved {
		t.Errorf("ReviewStatus = %s, want APPROVED", got.ReviewStatus)
	}
	if len(got.Parts) != 4 || !strings.HasPrefix(got.Parts[0].StorageKey, "smart-upload/"+sess.ID+"/parts/verified/") {
		t.Errorf("parts = %+v, want 4 verified parts", got.Parts)
	}
	if got.Metadata.Title != "First Suite in Eb" {
		t.Errorf("Title = %q", got.Metadata.Title)
	}

	req := f.second.Requests()[0]
	user := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(user, "parts: none were extracted") || strings.Count(user, untrustedOpen) != 2 {
		t.Errorf("previous output not delimited in prompt: %q", user)
	}

	// VERIFIED sessions cannot be queued again.
	before := f.jobCount(t, config.QueueSecondPass)
	if _, err := f.p.EnqueueSecondPass(ctx, sess.ID); !errors.Is(err, store.ErrIneligible) {
		t.Errorf("EnqueueSecondPass(VERIFIED) error = %v, want ErrIneligible", err)
	}
	if after := f.jobCount(t, config.QueueSecondPass); after != before {
		t.Errorf("second pass jobs = %d, want %d", after, before)
	}
}

func TestSecondPass_RunningRejectsEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "", 20))
	res, err := f.p.EnqueueSecondPass(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.StartSecondPass(ctx, sess.ID, res.JobID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.p.EnqueueSecondPass(ctx, sess.ID); !errors.Is(err, store.ErrIneligible) {
		t.Errorf("EnqueueSecondPass(RUNNING) error = %v, want ErrIneligible", err)
	}
	got := f.get(t, sess.ID)
	if got.SecondPassStatus != session.SecondPassRunning || got.SecondPassJobID != res.JobID {
		t.Errorf("session changed: %s %s", got.SecondPassStatus, got.SecondPassJobID)
	}
	if n := f.jobCount(t, config.QueueSecondPass); n != 1 {
		t.Errorf("second pass jobs = %d, want 1", n)
	}
}

func TestSecondPass_DecisionDuringRun(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "", 20))
	res, err := f.p.EnqueueSecondPass(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Reject(ctx, sess.ID, "reviewer", "duplicate"); err != nil {
		t.Fatal(err)
	}

	f.second.Responses = []string{verification(t, "First Suite in Eb", 96, true, fullSet...)}
	if err := f.p.SecondPass(ctx, res.JobID, sess.ID); err != nil {
		t.Fatalf("SecondPass() error = %v", err)
	}
	got := f.get(t, sess.ID)
	if got.ReviewStatus != session.ReviewRejected || len(got.Parts) != 0 {
		t.Errorf("review = %s parts = %d, want results not applied", got.ReviewStatus, len(got.Parts))
	}
	if got.SecondPassStatus != session.SecondPassVerified {
		t.Errorf("SecondPassStatus = %s, want VERIFIED", got.SecondPassStatus)
	}
}

func TestSecondPass_MalformedKeepsFirstPass(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 30, smartupload.Range{Label: "Clarinet 1", PageStart: 1, PageEnd: 4}))

	f.second.Responses = []string{"no json here"}
	if err := f.p.SecondPass(ctx, sess.SecondPassJobID, sess.ID); err != nil {
		t.Fatalf("SecondPass() error = %v", err)
	}
	got := f.get(t, sess.ID)
	if got.RoutingDecision != session.RouteManualReview {
		t.Errorf("RoutingDecision = %s, want manual_review", got.RoutingDecision)
	}
	if len(got.Parts) != 1 || got.Parts[0].StorageKey != sess.Parts[0].StorageKey {
		t.Errorf("parts = %+v, want first pass kept", got.Parts)
	}
	if got.ReviewStatus != session.ReviewPending {
		t.Errorf("ReviewStatus = %s, want PENDING_REVIEW", got.ReviewStatus)
	}
}

func TestSecondPass_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "", 20))
	res, err := f.p.EnqueueSecondPass(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	job, err := f.jobs.Get(ctx, res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	stage, _ := f.p.Stages().Get(JobTypeSecondPass)
	stage.Exhausted(ctx, job, errors.New("render timeout"))
	if got := f.get(t, sess.ID); got.SecondPassStatus != session.SecondPassFailed {
		t.Fatalf("SecondPassStatus = %s, want FAILED", got.SecondPassStatus)
	}

	// The same job re-injected from the dead-letter queue re-claims.
	f.second.Responses = []string{verification(t, "First Suite in Eb", 70, true, fullSet...)}
	if err := f.p.SecondPass(ctx, res.JobID, sess.ID); err != nil {
		t.Fatalf("SecondPass() retry error = %v", err)
	}
	got := f.get(t, sess.ID)
	if got.SecondPassStatus != session.SecondPassVerified || got.RoutingDecision != session.RouteManualReview {
		t.Errorf("session = %s %s, want VERIFIED manual_review", got.SecondPassStatus, got.RoutingDecision)
	}

	if err := f.p.SecondPass(ctx, "other-job", sess.ID); !jobs.IsPermanent(err) {
		t.Errorf("SecondPass(foreign job) error = %v, want permanent", err)
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sess := f.parsed(t, extraction(t, "First Suite in Eb", 95, fullSet...))

	job, err := f.jobs.Get(ctx, "cleanup-"+sess.ID+"-committed")
	if err != nil {
		t.Fatal(err)
	}
	stage, _ := f.p.Stages().Get(JobTypeCleanup)
	if err := stage.Handle(ctx, job); err != nil {
		t.Fatalf("cleanup Handle() error = %v", err)
	}

	left, err := f.blobs.List(ctx, partsPrefix(sess.ID)+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("temporary parts left = %v", left)
	}
	lib, err := f.blobs.List(ctx, review.LibraryPrefix(sess.ID)+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(lib) != 4 {
		t.Errorf("library files = %d, want 4", len(lib))
	}
	kinds := f.notes.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != notify.KindCommitted {
		t.Errorf("notifications = %v, want committed last", kinds)
	}

	t.Run("notify failure retries", func(t *testing.T) {
		f.notes.err = errors.New("webhook down")
		defer func() { f.notes.err = nil }()
		err := f.p.Cleanup(ctx, review.CleanupPayload{SessionID: sess.ID, Kind: notify.KindRejected})
		if err == nil || jobs.IsPermanent(err) {
			t.Errorf("Cleanup() error = %v, want retryable", err)
		}
	})
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	w := jobs.NewWorker(jobs.WorkerConfig{Manager: f.jobs})
	if err := f.p.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	queues := strings.Join(w.Queues(), ",")
	for _, q := range []string{config.QueueFirstPass, config.QueueSecondPass, config.QueueCleanup} {
		if !strings.Contains(queues, q) {
			t.Errorf("worker queues %q missing %s", queues, q)
		}
	}

	infos, err := f.p.Stages().Infos()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 || infos[0].Name != JobTypeFirstPass {
		t.Errorf("Infos() = %+v, want first pass first", infos)
	}
}
