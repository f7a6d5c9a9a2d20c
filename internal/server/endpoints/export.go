package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportEndpoint handles GET /api/smart-upload/export.xlsx.
type ExportEndpoint struct{}

func (e *ExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/export.xlsx", e.handler
}

func (e *ExportEndpoint) RequiresInit() bool { return true }

func (e *ExportEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		Export sessions
//	@Description	Workbook with a Sessions sheet and a Parts sheet. status filters by review status; empty exports every session.
//	@Tags			smart-upload
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Param			status	query	string	false	"Review status"
//	@Success		200
//	@Failure		400	{object}	ErrorResponse
//	@Router			/api/smart-upload/export.xlsx [get]
func (e *ExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var f store.SessionFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		rs, err := session.ParseReviewStatus(raw)
		if err != nil {
			writeValidation(w, FieldError{Field: "status", Message: err.Error()})
			return
		}
		f.ReviewStatus = rs
	}

	svc := svcctx.ExportFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "export not available")
		return
	}
	data, err := svc.SessionsXLSX(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	name := fmt.Sprintf("smart-upload-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxMime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *ExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download sessions as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := smartUploadPrefix + "/export.xlsx"
			if status != "" {
				path += "?" + url.Values{"status": {status}}.Encode()
			}
			client := api.NewClient(getServerURL())
			data, err := client.GetRaw(cmd.Context(), path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Review status filter")
	cmd.Flags().StringVar(&out, "out", "sessions.xlsx", "Output file")
	return cmd
}
