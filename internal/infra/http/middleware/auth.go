package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vexscan/api/internal/metrics"
	"github.com/vexscan/api/pkg/apierror"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/jwt"
	"github.com/vexscan/api/pkg/logger"
)

type principalKey struct{}

// TokenValidator verifies bearer tokens. *jwt.Generator implements it.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Authenticate requires a valid bearer token and stores the caller as an
// access.Principal. The user id is also stored under the logger key so
// context-aware log lines carry it.
func Authenticate(v TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := GetRequestID(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				metrics.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
				apierror.Unauthorized("").WriteJSONWithRequestID(w, reqID)
				return
			}

			claims, err := v.Validate(token)
			if err != nil {
				reason, msg := "invalid_token", "Invalid token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					reason, msg = "expired_token", "Token has expired"
				}
				metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
				log.Debug("token rejected", "reason", reason, "request_id", reqID)
				apierror.Unauthorized(msg).WriteJSONWithRequestID(w, reqID)
				return
			}

			userID, err := shared.IDFromString(claims.UserID())
			if err != nil {
				metrics.AuthFailuresTotal.WithLabelValues("bad_subject").Inc()
				apierror.Unauthorized("Invalid token subject").WriteJSONWithRequestID(w, reqID)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, access.Principal{UserID: userID, Email: claims.Email})
			ctx = context.WithValue(ctx, logger.ContextKeyUserID, userID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(access.Principal)
	return p, ok
}

// WithPrincipal stores p in ctx. Handler tests use it to skip token parsing.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}
