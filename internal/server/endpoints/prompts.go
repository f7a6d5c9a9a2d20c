package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/prompts"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// PromptResponse is a prompt as the stages will use it.
type PromptResponse struct {
	Key         string   `json:"key"`
	Text        string   `json:"text"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash,omitempty"`
	IsOverride  bool     `json:"isOverride"`
}

// PromptsListResponse contains all prompts.
type PromptsListResponse struct {
	Prompts []PromptResponse `json:"prompts"`
}

func (p PromptsListResponse) TableHeader() []string {
	return []string{"Key", "Override", "Variables", "Description"}
}

func (p PromptsListResponse) TableRows() [][]any {
	rows := make([][]any, 0, len(p.Prompts))
	for _, pr := range p.Prompts {
		rows = append(rows, []any{pr.Key, pr.IsOverride, len(pr.Variables), pr.Description})
	}
	return rows
}

// SetPromptRequest is the request body for a prompt override.
type SetPromptRequest struct {
	Text string `json:"text"`
}

func promptKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return "", false
	}
	return key, true
}

func resolvedPrompt(r *http.Request, resolver *prompts.Resolver, e prompts.EmbeddedPrompt) (PromptResponse, error) {
	res, err := resolver.Resolve(r.Context(), e.Key)
	if err != nil {
		return PromptResponse{}, err
	}
	return PromptResponse{
		Key:         res.Key,
		Text:        res.Text,
		Description: e.Description,
		Variables:   res.Variables,
		Hash:        res.Hash,
		IsOverride:  res.IsOverride,
	}, nil
}

// ListPromptsEndpoint handles GET /api/prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts", e.handler
}

func (e *ListPromptsEndpoint) RequiresInit() bool { return true }

func (e *ListPromptsEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary		List all prompts
//	@Description	Get all registered prompts resolved against their overrides
//	@Tags			prompts
//	@Produce		json
//	@Success		200	{object}	PromptsListResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/prompts [get]
func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resolver := svcctx.PromptResolverFrom(r.Context())
	if resolver == nil {
		writeError(w, http.StatusInternalServerError, "prompt resolver not available")
		return
	}

	embedded := resolver.AllEmbedded()
	resp := PromptsListResponse{Prompts: make([]PromptResponse, 0, len(embedded))}
	for _, p := range embedded {
		pr, err := resolvedPrompt(r, resolver, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Prompts = append(resp.Prompts, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPromptsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptsListResponse
			if err := client.Get(cmd.Context(), "/api/prompts", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetPromptEndpoint handles GET /api/prompts/{key...}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts/{key...}", e.handler
}

func (e *GetPromptEndpoint) RequiresInit() bool { return true }

func (e *GetPromptEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary	Get a prompt
//	@Tags		prompts
//	@Produce	json
//	@Param		key	path		string	true	"Prompt key"
//	@Success	200	{object}	PromptResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/prompts/{key} [get]
func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(w, r)
	if !ok {
		return
	}
	resolver := svcctx.PromptResolverFrom(r.Context())
	embedded, ok := resolver.GetEmbedded(key)
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	pr, err := resolvedPrompt(r, resolver, embedded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (e *GetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a prompt by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptResponse
			if err := client.Get(cmd.Context(), "/api/prompts/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SetPromptEndpoint handles PUT /api/prompts/{key...}.
type SetPromptEndpoint struct{}

func (e *SetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/prompts/{key...}", e.handler
}

func (e *SetPromptEndpoint) RequiresInit() bool { return true }

func (e *SetPromptEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary		Override a prompt
//	@Description	Store replacement text for a prompt. The text must parse as a template.
//	@Tags			prompts
//	@Accept			json
//	@Produce		json
//	@Param			key		path		string				true	"Prompt key"
//	@Param			request	body		SetPromptRequest	true	"Override text"
//	@Success		200		{object}	PromptResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/prompts/{key} [put]
func (e *SetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(w, r)
	if !ok {
		return
	}
	var req SetPromptRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, FieldError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	if req.Text == "" {
		writeValidation(w, FieldError{Field: "text", Message: "is required"})
		return
	}
	resolver := svcctx.PromptResolverFrom(r.Context())
	embedded, ok := resolver.GetEmbedded(key)
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if _, err := prompts.Parse(key, req.Text); err != nil {
		writeValidation(w, FieldError{Field: "text", Message: err.Error()})
		return
	}
	if err := resolver.SetOverride(r.Context(), key, req.Text); err != nil {
		if errors.Is(err, prompts.ErrUnknownPrompt) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pr, err := resolvedPrompt(r, resolver, embedded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (e *SetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Override a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptResponse
			if err := client.Put(cmd.Context(), "/api/prompts/"+url.PathEscape(args[0]), SetPromptRequest{Text: text}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Override text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// ResetPromptEndpoint handles DELETE /api/prompts/{key...}.
type ResetPromptEndpoint struct{}

func (e *ResetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/prompts/{key...}", e.handler
}

func (e *ResetPromptEndpoint) RequiresInit() bool { return true }

func (e *ResetPromptEndpoint) Actions() []string { return []string{auth.ActionConfig} }

// handler godoc
//
//	@Summary	Remove a prompt override
//	@Tags		prompts
//	@Produce	json
//	@Param		key	path		string	true	"Prompt key"
//	@Success	200	{object}	PromptResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/prompts/{key} [delete]
func (e *ResetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(w, r)
	if !ok {
		return
	}
	resolver := svcctx.PromptResolverFrom(r.Context())
	embedded, ok := resolver.GetEmbedded(key)
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err := resolver.ResetOverride(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pr, err := resolvedPrompt(r, resolver, embedded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (e *ResetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Restore a prompt to its built-in text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/prompts/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			cmd.Printf("Prompt %s reset\n", args[0])
			return nil
		},
	}
}
