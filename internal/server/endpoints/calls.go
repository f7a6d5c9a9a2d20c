package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/llmcall"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// CallsResponse lists the AI calls made for a session.
type CallsResponse struct {
	SessionID string          `json:"sessionId"`
	Calls     []*llmcall.Call `json:"calls"`
}

func (c CallsResponse) TableHeader() []string {
	return []string{"Task", "Provider", "Model", "Attempts", "Tokens In", "Tokens Out", "Latency", "OK", "When"}
}

func (c CallsResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(c.Calls))
	for _, call := range c.Calls {
		rows = append(rows, []any{
			call.Task,
			call.Provider,
			call.Model,
			call.Attempts,
			humanize.Comma(int64(call.InputTokens)),
			humanize.Comma(int64(call.OutputTokens)),
			(time.Duration(call.LatencyMs) * time.Millisecond).String(),
			call.Success,
			humanize.Time(call.Timestamp),
		})
	}
	return rows
}

// SessionCallsEndpoint handles GET /api/smart-upload/sessions/{id}/calls.
type SessionCallsEndpoint struct{}

func (e *SessionCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/sessions/{id}/calls", e.handler
}

func (e *SessionCallsEndpoint) RequiresInit() bool { return true }

func (e *SessionCallsEndpoint) Actions() []string { return []string{auth.ActionReview} }

// handler godoc
//
//	@Summary		List a session's AI calls
//	@Description	Every structured AI call made for the session, oldest first, with the prompt hash that produced it.
//	@Tags			smart-upload
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	CallsResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/smart-upload/sessions/{id}/calls [get]
func (e *SessionCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := svcctx.ReviewFrom(r.Context()).GetSession(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	calls, err := svcctx.CallsFrom(r.Context()).List(r.Context(), llmcall.QueryFilter{SessionID: id})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallsResponse{SessionID: id, Calls: calls})
}

func (e *SessionCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "calls <session-id>",
		Short: "List the AI calls made for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CallsResponse
			if err := client.Get(cmd.Context(), smartUploadPrefix+"/sessions/"+url.PathEscape(args[0])+"/calls", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CallSummaryResponse aggregates AI calls per provider and model.
type CallSummaryResponse struct {
	Since     *time.Time        `json:"since,omitempty"`
	Providers []llmcall.Summary `json:"providers"`
}

func (c CallSummaryResponse) TableHeader() []string {
	return []string{"Provider", "Model", "Calls", "Errors", "Tokens In", "Tokens Out", "Cost", "Avg Latency"}
}

func (c CallSummaryResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(c.Providers))
	for _, s := range c.Providers {
		rows = append(rows, []any{
			s.Provider,
			s.Model,
			humanize.Comma(int64(s.Count)),
			s.ErrorCount,
			humanize.Comma(int64(s.InputTokens)),
			humanize.Comma(int64(s.OutputTokens)),
			fmt.Sprintf("$%.4f", s.TotalCostUSD),
			(time.Duration(s.AvgLatencyMs) * time.Millisecond).Round(time.Millisecond).String(),
		})
	}
	return rows
}

// CallSummaryEndpoint handles GET /api/smart-upload/calls/summary.
type CallSummaryEndpoint struct{}

func (e *CallSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", smartUploadPrefix + "/calls/summary", e.handler
}

func (e *CallSummaryEndpoint) RequiresInit() bool { return true }

func (e *CallSummaryEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary		Summarize AI usage
//	@Description	Call counts, failures, tokens and cost per provider and model. window is a Go duration such as 24h; empty covers every call.
//	@Tags			smart-upload
//	@Produce		json
//	@Param			window	query		string	false	"Look-back window"
//	@Success		200		{object}	CallSummaryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/smart-upload/calls/summary [get]
func (e *CallSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeValidation(w, FieldError{Field: "window", Message: "must be a positive duration such as 24h"})
			return
		}
		t := time.Now().UTC().Add(-d)
		since = &t
	}
	sums, err := svcctx.CallsFrom(r.Context()).Summarize(r.Context(), since)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallSummaryResponse{Since: since, Providers: sums})
}

func (e *CallSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize AI calls per provider and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := smartUploadPrefix + "/calls/summary"
			if window != "" {
				path += "?window=" + url.QueryEscape(window)
			}
			client := api.NewClient(getServerURL())
			var resp CallSummaryResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&window, "window", "", "Look-back window, e.g. 24h")
	return cmd
}
