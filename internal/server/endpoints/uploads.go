package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/pipeline"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// UploadEndpoint handles POST /api/smart-upload/uploads.
type UploadEndpoint struct{}

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/uploads", e.handler
}

func (e *UploadEndpoint) RequiresInit() bool { return true }

func (e *UploadEndpoint) Actions() []string { return []string{auth.ActionUpload} }

// handler godoc
//
//	@Summary		Upload a PDF
//	@Description	Store a PDF, create its ingestion session and queue the first pass
//	@Tags			smart-upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"PDF file"
//	@Success		202		{object}	pipeline.UploadResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/smart-upload/uploads [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p := svcctx.PipelineFrom(r.Context())
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeValidation(w, FieldError{Field: "file", Message: "expected a multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidation(w, FieldError{Field: "file", Message: "file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeValidation(w, FieldError{Field: "file", Message: "failed to read upload: " + err.Error()})
		return
	}

	res, err := p.Upload(r.Context(), pipeline.UploadInput{
		FileName:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		Data:       data,
		UploadedBy: actorID(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF for smart ingestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.EqualFold(filepath.Ext(path), ".pdf") {
				return fmt.Errorf("expected a .pdf file: %s", path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp pipeline.UploadResult
			if err := client.Upload(cmd.Context(), smartUploadPrefix+"/uploads", "file", filepath.Base(path), data, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SecondPassRequest names the session to verify.
type SecondPassRequest struct {
	SessionID string `json:"sessionId"`
}

// SecondPassEndpoint handles POST /api/smart-upload/second-pass.
type SecondPassEndpoint struct{}

func (e *SecondPassEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/second-pass", e.handler
}

func (e *SecondPassEndpoint) RequiresInit() bool { return true }

func (e *SecondPassEndpoint) Actions() []string {
	return []string{auth.ActionUpload, auth.ActionConfig}
}

// handler godoc
//
//	@Summary		Queue a second pass
//	@Description	Claim verification for a parsed session. Refused unless the first pass finished, the session is pending review and no second pass is queued, running or verified.
//	@Tags			smart-upload
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SecondPassRequest	true	"Session to verify"
//	@Success		202		{object}	pipeline.SecondPassResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/smart-upload/second-pass [post]
func (e *SecondPassEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SecondPassRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, FieldError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeValidation(w, FieldError{Field: "sessionId", Message: "is required"})
		return
	}

	p := svcctx.PipelineFrom(r.Context())
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}
	res, err := p.EnqueueSecondPass(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (e *SecondPassEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "second-pass <session-id>",
		Short: "Queue AI verification for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp pipeline.SecondPassResult
			if err := client.Post(cmd.Context(), smartUploadPrefix+"/second-pass", SecondPassRequest{SessionID: args[0]}, &resp); err != nil {
				var se *api.StatusError
				if errors.As(err, &se) && se.Code == http.StatusBadRequest {
					return fmt.Errorf("session %s is not eligible: %s", args[0], se.Message)
				}
				return err
			}
			return api.Output(resp)
		},
	}
}
