package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/session"
)

// ErrInvalidUpload is wrapped by every UploadError.
var ErrInvalidUpload = errors.New("invalid upload")

// UploadError reports one rejected upload field.
type UploadError struct {
	Field   string
	Message string
}

func (e *UploadError) Error() string { return e.Field + ": " + e.Message }
func (e *UploadError) Unwrap() error { return ErrInvalidUpload }

// UploadInput is one uploaded file.
type UploadInput struct {
	FileName   string
	MimeType   string
	Data       []byte
	UploadedBy string
}

// UploadResult is returned to the uploader for polling.
type UploadResult struct {
	SessionID string              `json:"sessionId"`
	Status    session.ParseStatus `json:"status"`
	JobID     string              `json:"jobId"`
}

const pdfMime = "application/pdf"

// Upload validates and stores the file, creates its session and enqueues
// the first pass. If the enqueue fails the session stays AWAITING_PARSE and
// the error is returned.
func (p *Pipeline) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	settings, err := config.ResolvePipeline(ctx, p.settings)
	if err != nil {
		return nil, err
	}
	name, err := p.validateUpload(ctx, in, settings.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	jobID := uuid.NewString()
	logger := p.logger.With("session_id", id, "job_id", jobID)

	key := originalKey(id)
	if err := p.blobs.Upload(ctx, key, in.Data, pdfMime); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	sess := session.New(id, key, name, int64(len(in.Data)), pdfMime, in.UploadedBy, p.now())
	sess.FirstPassJobID = jobID
	if err := p.store.CreateSession(ctx, sess); err != nil {
		if derr := p.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			logger.Warn("failed to remove orphaned upload", "key", key, "error", derr)
		}
		return nil, err
	}

	if _, err := p.jobs.Enqueue(ctx, config.QueueFirstPass, JobTypeFirstPass, Payload{SessionID: id}, jobs.Options{ID: jobID}); err != nil {
		logger.Error("failed to enqueue first pass", "error", err)
		return nil, fmt.Errorf("enqueue first pass: %w", err)
	}

	logger.Info("upload accepted", "file_name", name, "size", len(in.Data), "uploaded_by", in.UploadedBy)
	return &UploadResult{SessionID: id, Status: sess.ParseStatus, JobID: jobID}, nil
}

func (p *Pipeline) validateUpload(ctx context.Context, in UploadInput, maxBytes int64) (string, error) {
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(in.FileName, `\`, "/")))
	switch {
	case name == "" || name == "." || name == "/":
		return "", &UploadError{Field: "file", Message: "file name is required"}
	case len(in.Data) == 0:
		return "", &UploadError{Field: "file", Message: "file is empty"}
	case maxBytes > 0 && int64(len(in.Data)) > maxBytes:
		return "", &UploadError{Field: "file", Message: fmt.Sprintf("file exceeds %d MB", maxBytes>>20)}
	}

	mime := strings.ToLower(strings.TrimSpace(strings.Split(in.MimeType, ";")[0]))
	isPDFName := strings.EqualFold(path.Ext(name), ".pdf")
	if mime != pdfMime && !(isPDFName && (mime == "" || mime == "application/octet-stream")) {
		return "", &UploadError{Field: "file", Message: "only PDF uploads are supported"}
	}
	if err := p.validator.Validate(ctx, in.Data); err != nil {
		return "", &UploadError{Field: "file", Message: err.Error()}
	}
	return name, nil
}
