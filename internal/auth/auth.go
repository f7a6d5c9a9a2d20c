// Package auth identifies callers and checks their capabilities. Identity
// comes from a trusted X-User-ID header set by the fronting proxy, or from
// the internal service token used by other backend processes.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// Actions a caller may be granted.
const (
	ActionUpload = "upload"
	ActionReview = "review"
	ActionConfig = "config"
)

// Header names.
const (
	HeaderUserID       = "X-User-ID"
	HeaderServiceToken = "X-Internal-Service-Token"
)

// AnyUser is the grant key that applies to every authenticated user.
const AnyUser = "*"

// Principal is an authenticated caller.
type Principal struct {
	UserID string `json:"userId"`
	// Service is true for callers that presented the internal service token.
	Service bool `json:"service"`
}

// Authorizer decides whether a user may perform an action.
type Authorizer interface {
	HasPermission(ctx context.Context, userID, action string) bool
}

// Grants is a static Authorizer: user id to actions, with "*" as a user id
// or action matching anything.
type Grants map[string][]string

// HasPermission implements Authorizer.
func (g Grants) HasPermission(_ context.Context, userID, action string) bool {
	for _, key := range []string{userID, AnyUser} {
		actions := g[key]
		if slices.Contains(actions, action) || slices.Contains(actions, AnyUser) {
			return true
		}
	}
	return false
}

// ServiceUserID is the user id recorded for service-token callers.
const ServiceUserID = "system:service"

// PrincipalFromRequest authenticates r. A matching service token wins over
// the user header. An empty configured token never matches.
func PrincipalFromRequest(r *http.Request, serviceToken string) (Principal, bool) {
	if tok := r.Header.Get(HeaderServiceToken); tok != "" && serviceToken != "" {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(serviceToken)) == 1 {
			return Principal{UserID: ServiceUserID, Service: true}, true
		}
		return Principal{}, false
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
		return Principal{UserID: id}, true
	}
	return Principal{}, false
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Guard authenticates requests and checks capabilities before handlers run.
type Guard struct {
	Authorizer   Authorizer
	ServiceToken string
}

// Allowed reports whether p may perform any of actions. Service callers may
// perform everything.
func (g *Guard) Allowed(ctx context.Context, p Principal, actions ...string) bool {
	if p.Service {
		return true
	}
	if g.Authorizer == nil {
		return false
	}
	for _, a := range actions {
		if g.Authorizer.HasPermission(ctx, p.UserID, a) {
			return true
		}
	}
	return false
}

// Require wraps next so it only runs for callers holding one of actions.
// Missing identity is 401, missing capability is 403.
func (g *Guard) Require(next http.HandlerFunc, actions ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromRequest(r, g.ServiceToken)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !g.Allowed(r.Context(), p, actions...) {
			writeError(w, http.StatusForbidden, "missing permission: "+strings.Join(actions, " or "))
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), p)))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
