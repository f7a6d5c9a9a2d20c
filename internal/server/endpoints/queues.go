package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// QueueStatsResponse lists stats for every queue.
type QueueStatsResponse struct {
	Queues []jobs.QueueStats `json:"queues"`
}

func (q QueueStatsResponse) TableHeader() []string {
	return []string{"Queue", "Waiting", "Active", "Delayed", "Completed", "Failed", "Dead Lettered"}
}

func (q QueueStatsResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(q.Queues))
	for _, s := range q.Queues {
		rows = append(rows, []any{
			s.Queue,
			humanize.Comma(int64(s.Waiting)),
			humanize.Comma(int64(s.Active)),
			humanize.Comma(int64(s.Delayed)),
			humanize.Comma(int64(s.Completed)),
			humanize.Comma(int64(s.Failed)),
			humanize.Comma(int64(s.DeadLettered)),
		})
	}
	return rows
}

// QueueStatsEndpoint handles GET /api/smart-upload/queues.
type QueueStatsEndpoint struct{}

func (e *QueueStatsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/queues", e.handler
}

func (e *QueueStatsEndpoint) RequiresInit() bool { return true }

func (e *QueueStatsEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary	Queue statistics
//	@Tags		queues
//	@Produce	json
//	@Success	200	{object}	QueueStatsResponse
//	@Router		/api/smart-upload/queues [get]
func (e *QueueStatsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	stats, err := svcctx.JobManagerFrom(r.Context()).AllStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatsResponse{Queues: stats})
}

func (e *QueueStatsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp QueueStatsResponse
			if err := client.Get(cmd.Context(), smartUploadPrefix+"/queues", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ClearQueueResponse reports how many jobs were deleted.
type ClearQueueResponse struct {
	Queue   string `json:"queue"`
	Deleted int64  `json:"deleted"`
}

// ClearQueueEndpoint handles POST /api/smart-upload/queues/{name}/clear.
type ClearQueueEndpoint struct{}

func (e *ClearQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/queues/{name}/clear", e.handler
}

func (e *ClearQueueEndpoint) RequiresInit() bool { return true }

func (e *ClearQueueEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary		Clear a queue
//	@Description	Delete jobs in the given statuses (default completed, failed, dead_lettered). Active jobs are kept. The dead-letter queue is protected.
//	@Tags			queues
//	@Produce		json
//	@Param			name	path		string	true	"Queue name"
//	@Param			status	query		string	false	"Comma-separated statuses"
//	@Success		200		{object}	ClearQueueResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Router			/api/smart-upload/queues/{name}/clear [post]
func (e *ClearQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := jobs.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				writeValidation(w, FieldError{Field: "status", Message: err.Error()})
				return
			}
			statuses = append(statuses, st)
		}
	}
	queue := r.PathValue("name")
	n, err := svcctx.JobManagerFrom(r.Context()).Clear(r.Context(), queue, statuses)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearQueueResponse{Queue: queue, Deleted: n})
}

func (e *ClearQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	var statuses string
	cmd := &cobra.Command{
		Use:   "clear <queue>",
		Short: "Delete finished jobs from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := smartUploadPrefix + "/queues/" + url.PathEscape(args[0]) + "/clear"
			if statuses != "" {
				path += "?" + url.Values{"status": {statuses}}.Encode()
			}
			var resp ClearQueueResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&statuses, "status", "", "Comma-separated statuses to delete")
	return cmd
}

// GetJobEndpoint handles GET /api/smart-upload/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

func (e *GetJobEndpoint) Actions() []string {
	return []string{auth.ActionUpload, auth.ActionReview}
}

// handler godoc
//
//	@Summary	Get a job
//	@Tags		queues
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{object}	jobs.Record
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/smart-upload/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, err := svcctx.JobManagerFrom(r.Context()).Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]any
			if err := client.Get(cmd.Context(), smartUploadPrefix+"/jobs/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeadLettersResponse lists pending dead letters.
type DeadLettersResponse struct {
	DeadLetters []*jobs.Record `json:"deadLetters"`
}

func (d DeadLettersResponse) TableHeader() []string {
	return []string{"ID", "Origin Queue", "Origin Job", "Type", "Error", "Created"}
}

func (d DeadLettersResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(d.DeadLetters))
	for _, j := range d.DeadLetters {
		rows = append(rows, []any{j.ID, j.OriginQueue, j.OriginJobID, j.Type, j.LastError, humanize.Time(j.CreatedAt)})
	}
	return rows
}

// ListDeadLettersEndpoint handles GET /api/smart-upload/dead-letters.
type ListDeadLettersEndpoint struct{}

func (e *ListDeadLettersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/dead-letters", e.handler
}

func (e *ListDeadLettersEndpoint) RequiresInit() bool { return true }

func (e *ListDeadLettersEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary	List dead letters
//	@Tags		queues
//	@Produce	json
//	@Param		limit	query		int	false	"Max entries (default 100)"
//	@Success	200		{object}	DeadLettersResponse
//	@Router		/api/smart-upload/dead-letters [get]
func (e *ListDeadLettersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, ferr := queryInt(r, "limit", 0)
	if ferr != nil {
		writeValidation(w, *ferr)
		return
	}
	list, err := svcctx.JobManagerFrom(r.Context()).ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Record{}
	}
	writeJSON(w, http.StatusOK, DeadLettersResponse{DeadLetters: list})
}

func (e *ListDeadLettersEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List jobs that exhausted their attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := smartUploadPrefix + "/dead-letters"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			if api.GetOutputFormat() == api.OutputFormatTable {
				var resp DeadLettersResponse
				if err := client.Get(cmd.Context(), path, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}
			// payloads stay readable as nested maps in yaml
			var raw map[string]any
			if err := client.Get(cmd.Context(), path, &raw); err != nil {
				return err
			}
			return api.Output(raw)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries")
	return cmd
}

// RetryDeadLetterEndpoint handles POST /api/smart-upload/dead-letters/{id}/retry.
type RetryDeadLetterEndpoint struct{}

func (e *RetryDeadLetterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", smartUploadPrefix + "/dead-letters/{id}/retry", e.handler
}

func (e *RetryDeadLetterEndpoint) RequiresInit() bool { return true }

func (e *RetryDeadLetterEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary		Retry a dead letter
//	@Description	Re-inject the origin job into its queue with fresh attempts. The job keeps its id.
//	@Tags			queues
//	@Produce		json
//	@Param			id	path		string	true	"Dead letter ID"
//	@Success		200	{object}	jobs.Record
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/smart-upload/dead-letters/{id}/retry [post]
func (e *RetryDeadLetterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, err := svcctx.JobManagerFrom(r.Context()).RetryDeadLetter(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *RetryDeadLetterEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dead-letter-id>",
		Short: "Re-queue a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]any
			path := smartUploadPrefix + "/dead-letters/" + url.PathEscape(args[0]) + "/retry"
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
