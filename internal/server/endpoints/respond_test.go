package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing session", fmt.Errorf("session s1: %w", store.ErrNotFound), http.StatusNotFound},
		{"missing blob", fmt.Errorf("smart-upload/s1/parts/Tuba.pdf: %w", blob.ErrNotFound), http.StatusNotFound},
		{"foreign key", review.ErrForeignKey, http.StatusNotFound},
		{"ineligible", fmt.Errorf("%w: second pass running", store.ErrIneligible), http.StatusBadRequest},
		{"page out of range", review.ErrPageOutOfRange, http.StatusBadRequest},
		{"dead letter queue", jobs.ErrDeadLetterProtected, http.StatusForbidden},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
