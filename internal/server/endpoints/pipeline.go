package endpoints

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/pipeline"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// StagesResponse lists pipeline stages in dependency order.
type StagesResponse struct {
	Stages []pipeline.StageInfo `json:"stages"`
}

func (s StagesResponse) TableHeader() []string {
	return []string{"Stage", "Queue", "Depends On", "Description"}
}

func (s StagesResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(s.Stages))
	for _, st := range s.Stages {
		rows = append(rows, []any{st.Name, st.Queue, strings.Join(st.Dependencies, ", "), st.Description})
	}
	return rows
}

// ListStagesEndpoint handles GET /api/pipeline/stages.
type ListStagesEndpoint struct{}

func (e *ListStagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/pipeline/stages", e.handler
}

func (e *ListStagesEndpoint) RequiresInit() bool { return true }

func (e *ListStagesEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary	List pipeline stages
//	@Tags		pipeline
//	@Produce	json
//	@Success	200	{object}	StagesResponse
//	@Router		/api/pipeline/stages [get]
func (e *ListStagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p := svcctx.PipelineFrom(r.Context())
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}
	infos, err := p.Stages().Infos()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StagesResponse{Stages: infos})
}

func (e *ListStagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List pipeline stages and their queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StagesResponse
			if err := client.Get(cmd.Context(), "/api/pipeline/stages", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
