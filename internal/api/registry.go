package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds endpoints to the registry.
func (r *Registry) Register(eps ...Endpoint) {
	r.endpoints = append(r.endpoints, eps...)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// authMiddleware wraps Protected endpoints and runs before initMiddleware,
// so capability checks never depend on server state.
func (r *Registry) RegisterRoutes(
	mux *http.ServeMux,
	initMiddleware func(http.HandlerFunc) http.HandlerFunc,
	authMiddleware func(http.HandlerFunc, ...string) http.HandlerFunc,
) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		if p, ok := ep.(Protected); ok && authMiddleware != nil {
			handler = authMiddleware(handler, p.Actions()...)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a flat cobra.Command tree for all registered endpoints.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
	}
	for _, ep := range r.endpoints {
		apiCmd.AddCommand(ep.Command(getServerURL))
	}
	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
