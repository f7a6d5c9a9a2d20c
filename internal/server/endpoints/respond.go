package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/pipeline"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

// ErrorResponse is a standard error response.
type ErrorResponse = api.ErrorResponse

// FieldError is one invalid input field.
type FieldError = api.FieldError

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeValidation writes a 400 with itemized fields.
func writeValidation(w http.ResponseWriter, fields ...FieldError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var uerr *pipeline.UploadError
	switch {
	case errors.As(err, &uerr):
		writeValidation(w, FieldError{Field: uerr.Field, Message: uerr.Message})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrForeignKey):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrIneligible),
		errors.Is(err, review.ErrNoTitle),
		errors.Is(err, review.ErrNoParts),
		errors.Is(err, review.ErrPageOutOfRange),
		errors.Is(err, review.ErrInvalidFilter),
		errors.Is(err, jobs.ErrNotDeadLetter),
		errors.Is(err, config.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrDeadLetterProtected):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// actorID returns the authenticated user id.
func actorID(r *http.Request) string {
	p, _ := auth.FromContext(r.Context())
	return p.UserID
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, *FieldError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &FieldError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

const smartUploadPrefix = "/api/smart-upload"
