package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vexscan/api/pkg/apierror"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

type decisionKey struct{}

// Decider resolves the access decision for a request target.
// *app.AuthorizationService implements it.
type Decider interface {
	Decide(ctx context.Context, principal access.Principal, workspaceID shared.ID) (access.Decision, error)
	DecideForFinding(ctx context.Context, principal access.Principal, findingID shared.ID) (access.Decision, error)
	DecideForEvidence(ctx context.Context, principal access.Principal, evidenceID shared.ID) (access.Decision, error)
}

// resolver produces the decision for one request from the parsed id.
type resolver func(ctx context.Context, p access.Principal, id shared.ID) (access.Decision, error)

// RequireFindingAccess decides access to the workspace owning the finding in
// URL parameter param.
func RequireFindingAccess(d Decider, param string, log *logger.Logger) func(http.Handler) http.Handler {
	return requireAccess(urlParam(param), "finding", d.DecideForFinding, log)
}

// RequireEvidenceAccess decides access through the evidence bundle in URL
// parameter param, then its finding.
func RequireEvidenceAccess(d Decider, param string, log *logger.Logger) func(http.Handler) http.Handler {
	return requireAccess(urlParam(param), "evidence", d.DecideForEvidence, log)
}

// RequireWorkspaceAccess decides access to the workspace named by query
// parameter param. The parameter is mandatory.
func RequireWorkspaceAccess(d Decider, param string, log *logger.Logger) func(http.Handler) http.Handler {
	return requireAccess(func(r *http.Request) string { return r.URL.Query().Get(param) }, "workspace", d.Decide, log)
}

func requireAccess(idOf func(*http.Request) string, resource string, decide resolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := GetRequestID(r.Context())

			p, ok := GetPrincipal(r.Context())
			if !ok {
				apierror.Unauthorized("").WriteJSONWithRequestID(w, reqID)
				return
			}

			raw := idOf(r)
			if raw == "" {
				apierror.BadRequest(resource+" id is required").WriteJSONWithRequestID(w, reqID)
				return
			}
			id, err := shared.IDFromString(raw)
			if err != nil {
				apierror.BadRequest("Invalid "+resource+" id").WriteJSONWithRequestID(w, reqID)
				return
			}

			decision, err := decide(r.Context(), p, id)
			if err != nil {
				accessError(err, resource, log, reqID).WriteJSONWithRequestID(w, reqID)
				return
			}
			if !decision.Allowed {
				apierror.Forbidden("").WriteJSONWithRequestID(w, reqID)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), decision)))
		})
	}
}

func accessError(err error, resource string, log *logger.Logger, reqID string) *apierror.Error {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return apierror.NotFound(capitalize(resource))
	case errors.Is(err, shared.ErrForbidden):
		return apierror.Forbidden("")
	case errors.Is(err, shared.ErrUnauthorized):
		return apierror.Unauthorized("Unknown user")
	default:
		log.Error("access decision failed", "error", err, "resource", resource, "request_id", reqID)
		return apierror.InternalError(err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func urlParam(name string) func(*http.Request) string {
	return func(r *http.Request) string { return URLParam(r, name) }
}

// URLParam reads a path parameter from chi, falling back to the standard
// library mux.
func URLParam(r *http.Request, name string) string {
	if v := chi.URLParam(r, name); v != "" {
		return v
	}
	return r.PathValue(name)
}

// GetDecision returns the access decision made for this request.
func GetDecision(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(access.Decision)
	return d, ok
}

// WithDecision stores d in ctx.
func WithDecision(ctx context.Context, d access.Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}
