package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// guard runs the request gate for a protected route. Handlers behind it can
// rely on auth.IdentityFromContext.
func (a *API) guard(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A missing or malformed header leaves the token empty; the gate
			// rejects it like any other unverifiable token.
			token, _ := extractBearerToken(r.Header.Get(authHeader))

			res := a.svc.Gate().Evaluate(r.Context(), token, req)
			obs.ObserveGate("http", res.State.String())
			if res.State != auth.GateAuthorized {
				obs.From(r.Context()).Debug("request denied",
					zap.String("state", res.State.String()),
					zap.String("required", req.String()),
					zap.Error(res.Err))
				writeServiceError(w, r, res.Err)
				return
			}

			ctx := auth.ContextWithIdentity(r.Context(), res.Identity)
			ctx = obs.ToContext(ctx, obs.From(ctx).With(zap.String("subject", res.Identity.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
