package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// SessionsResponse is one page of sessions.
type SessionsResponse review.Page

func (s SessionsResponse) TableHeader() []string {
	return []string{"Session", "File", "Size", "Parse", "Second Pass", "Review", "Score", "Title", "Parts", "Uploaded"}
}

func (s SessionsResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(s.Sessions))
	for _, sess := range s.Sessions {
		sp := string(sess.SecondPassStatus)
		if sp == "" {
			sp = "-"
		}
		rows = append(rows, []any{
			sess.ID,
			sess.FileName,
			humanize.Bytes(uint64(sess.FileSize)),
			sess.ParseStatus,
			sp,
			sess.ReviewStatus,
			sess.ConfidenceScore,
			sess.Metadata.Title,
			len(sess.Parts),
			humanize.Time(sess.CreatedAt),
		})
	}
	return rows
}

// ListSessionsEndpoint handles GET /api/smart-upload/sessions.
type ListSessionsEndpoint struct{}

func (e *ListSessionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/sessions", e.handler
}

func (e *ListSessionsEndpoint) RequiresInit() bool { return true }

func (e *ListSessionsEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		List sessions
//	@Description	Sessions newest first with global status counts. status defaults to PENDING_REVIEW; ALL disables the filter.
//	@Tags			smart-upload
//	@Produce		json
//	@Param			status	query		string	false	"Review status or ALL"
//	@Param			page	query		int		false	"1-based page"
//	@Param			limit	query		int		false	"Page size (max 100)"
//	@Success		200		{object}	SessionsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/smart-upload/sessions [get]
func (e *ListSessionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	page, ferr := queryInt(r, "page", 1)
	if ferr != nil {
		writeValidation(w, *ferr)
		return
	}
	limit, ferr := queryInt(r, "limit", review.DefaultLimit)
	if ferr != nil {
		writeValidation(w, *ferr)
		return
	}

	svc := svcctx.ReviewFrom(r.Context())
	res, err := svc.ListPending(r.Context(), review.Filter{
		Status: r.URL.Query().Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, review.ErrInvalidFilter) {
			writeValidation(w, FieldError{Field: "status", Message: err.Error()})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ListSessionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingestion sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := smartUploadPrefix + "/sessions"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			client := api.NewClient(getServerURL())
			var resp SessionsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Review status filter (PENDING_REVIEW, APPROVED, REJECTED, ALL)")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	return cmd
}

// GetSessionEndpoint handles GET /api/smart-upload/sessions/{id}.
type GetSessionEndpoint struct{}

func (e *GetSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/sessions/{id}", e.handler
}

func (e *GetSessionEndpoint) RequiresInit() bool { return true }

func (e *GetSessionEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary	Get a session
//	@Tags		smart-upload
//	@Produce	json
//	@Param		id	path		string	true	"Session ID"
//	@Success	200	{object}	session.Session
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/smart-upload/sessions/{id} [get]
func (e *GetSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess, err := svcctx.ReviewFrom(r.Context()).GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *GetSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Get a session with its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp session.Session
			if err := client.Get(cmd.Context(), smartUploadPrefix+"/sessions/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ApproveEndpoint handles POST /api/smart-upload/sessions/{id}/approve.
type ApproveEndpoint struct{}

func (e *ApproveEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/sessions/{id}/approve", e.handler
}

func (e *ApproveEndpoint) RequiresInit() bool { return true }

func (e *ApproveEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		Approve a session
//	@Description	Commit a session into the library. Committing again returns the same piece with wasIdempotent set.
//	@Tags			smart-upload
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		review.Override	false	"Metadata overrides"
//	@Success		200		{object}	review.CommitResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/smart-upload/sessions/{id}/approve [post]
func (e *ApproveEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var o review.Override
	if err := decodeBody(r, &o); err != nil && !errors.Is(err, io.EOF) {
		writeValidation(w, FieldError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	res, err := svcctx.ReviewFrom(r.Context()).Approve(r.Context(), r.PathValue("id"), o, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ApproveEndpoint) Command(getServerURL func() string) *cobra.Command {
	var o review.Override
	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Approve a session and commit it to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp review.CommitResult
			path := smartUploadPrefix + "/sessions/" + url.PathEscape(args[0]) + "/approve"
			if err := client.Post(cmd.Context(), path, o, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&o.Title, "title", "", "Override the extracted title")
	cmd.Flags().StringVar(&o.Composer, "composer", "", "Override the extracted composer")
	cmd.Flags().StringVar(&o.Arranger, "arranger", "", "Override the extracted arranger")
	cmd.Flags().StringVar(&o.Publisher, "publisher", "", "Override the extracted publisher")
	return cmd
}

// RejectRequest carries an optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// RejectEndpoint handles POST /api/smart-upload/sessions/{id}/reject.
type RejectEndpoint struct{}

func (e *RejectEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/sessions/{id}/reject", e.handler
}

func (e *RejectEndpoint) RequiresInit() bool { return true }

func (e *RejectEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary	Reject a session
//	@Tags		smart-upload
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Session ID"
//	@Param		request	body		RejectRequest	false	"Reason"
//	@Success	200		{object}	session.Session
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/smart-upload/sessions/{id}/reject [post]
func (e *RejectEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeValidation(w, FieldError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	sess, err := svcctx.ReviewFrom(r.Context()).Reject(r.Context(), r.PathValue("id"), actorID(r), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *RejectEndpoint) Command(getServerURL func() string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <session-id>",
		Short: "Reject a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp session.Session
			path := smartUploadPrefix + "/sessions/" + url.PathEscape(args[0]) + "/reject"
			if err := client.Post(cmd.Context(), path, RejectRequest{Reason: reason}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	return cmd
}

// ReopenEndpoint handles POST /api/smart-upload/sessions/{id}/reopen.
type ReopenEndpoint struct{}

func (e *ReopenEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/sessions/{id}/reopen", e.handler
}

func (e *ReopenEndpoint) RequiresInit() bool { return true }

func (e *ReopenEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary	Return a rejected session to review
//	@Tags		smart-upload
//	@Produce	json
//	@Param		id	path		string	true	"Session ID"
//	@Success	200	{object}	session.Session
//	@Failure	400	{object}	ErrorResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/smart-upload/sessions/{id}/reopen [post]
func (e *ReopenEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sess, err := svcctx.ReviewFrom(r.Context()).Reopen(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *ReopenEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <session-id>",
		Short: "Return a rejected session to the review queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp session.Session
			path := smartUploadPrefix + "/sessions/" + url.PathEscape(args[0]) + "/reopen"
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// BulkApproveRequest lists sessions to approve.
type BulkApproveRequest struct {
	SessionIDs []string `json:"sessionIds"`
}

func (req BulkApproveRequest) validate() []FieldError {
	if len(req.SessionIDs) == 0 {
		return []FieldError{{Field: "sessionIds", Message: "must contain at least one session id"}}
	}
	var fields []FieldError
	for i, id := range req.SessionIDs {
		if strings.TrimSpace(id) == "" {
			fields = append(fields, FieldError{Field: fmt.Sprintf("sessionIds[%d]", i), Message: "must not be empty"})
		}
	}
	return fields
}

// BulkApproveEndpoint handles POST /api/smart-upload/bulk-approve.
type BulkApproveEndpoint struct{}

func (e *BulkApproveEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/bulk-approve", e.handler
}

func (e *BulkApproveEndpoint) RequiresInit() bool { return true }

func (e *BulkApproveEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		Approve many sessions
//	@Description	Each session commits independently; failures are reported in skipped.
//	@Tags			smart-upload
//	@Accept			json
//	@Produce		json
//	@Param			request	body		BulkApproveRequest	true	"Session IDs"
//	@Success		200		{object}	review.BulkResult
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/smart-upload/bulk-approve [post]
func (e *BulkApproveEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req BulkApproveRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, FieldError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	if fields := req.validate(); len(fields) > 0 {
		writeValidation(w, fields...)
		return
	}
	res := svcctx.ReviewFrom(r.Context()).BulkApprove(r.Context(), req.SessionIDs, actorID(r))
	writeJSON(w, http.StatusOK, res)
}

func (e *BulkApproveEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-approve <session-id>...",
		Short: "Approve several sessions at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp review.BulkResult
			if err := client.Post(cmd.Context(), smartUploadPrefix+"/bulk-approve", BulkApproveRequest{SessionIDs: args}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PreviewEndpoint handles GET /api/smart-upload/sessions/{id}/preview.
type PreviewEndpoint struct{}

func (e *PreviewEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/sessions/{id}/preview", e.handler
}

func (e *PreviewEndpoint) RequiresInit() bool { return true }

func (e *PreviewEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		Render a page preview
//	@Description	Render one page (0-indexed) of the original upload or one of the session's parts as a base64 PNG.
//	@Tags			smart-upload
//	@Produce		json
//	@Param			id			path		string	true	"Session ID"
//	@Param			storageKey	query		string	true	"Storage key owned by the session"
//	@Param			page		query		int		false	"0-indexed page"
//	@Success		200			{object}	review.Preview
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/api/smart-upload/sessions/{id}/preview [get]
func (e *PreviewEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("storageKey")
	if key == "" {
		writeValidation(w, FieldError{Field: "storageKey", Message: "is required"})
		return
	}
	page, ferr := queryInt(r, "page", 0)
	if ferr != nil {
		writeValidation(w, *ferr)
		return
	}
	res, err := svcctx.ReviewFrom(r.Context()).Preview(r.Context(), r.PathValue("id"), key, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *PreviewEndpoint) Command(getServerURL func() string) *cobra.Command {
	var key, out string
	var page int
	cmd := &cobra.Command{
		Use:   "preview <session-id>",
		Short: "Render a page and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			q := url.Values{"storageKey": {key}, "page": {strconv.Itoa(page)}}
			var resp review.Preview
			path := smartUploadPrefix + "/sessions/" + url.PathEscape(args[0]) + "/preview?" + q.Encode()
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if err := os.WriteFile(out, resp.Image, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote page %d/%d to %s\n", resp.Page+1, resp.TotalPages, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Storage key of the original or a part")
	cmd.Flags().IntVar(&page, "page", 0, "0-indexed page")
	cmd.Flags().StringVar(&out, "out", "preview.png", "Output file")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
