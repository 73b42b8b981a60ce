package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
	"warden.dev/internal/ratelimit"
)

const serviceName = "warden-api"

// AuthService is the slice of auth.Service the HTTP layer calls.
type AuthService interface {
	Gate() *auth.Gate
	Register(ctx context.Context, in auth.RegisterInput) (auth.Identity, error)
	Login(ctx context.Context, email, password string) (auth.Token, auth.Identity, error)
	ListUsers(ctx context.Context) ([]auth.Identity, error)
	AssignRole(ctx context.Context, userID, roleID string) (auth.Identity, error)
	DeleteUser(ctx context.Context, id string) (auth.Identity, error)
	CreateRole(ctx context.Context, name string, permissions []string) (auth.Role, error)
	ListRoles(ctx context.Context) ([]auth.Role, error)
}

// Pinger reports readiness of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP layer.
type Options struct {
	Version      string
	Ready        Pinger
	Limiter      ratelimit.Limiter
	CORSOrigins  []string
	MaxBodyBytes int64
	// TrustedProxies gates X-Forwarded-For when keying the rate limiter.
	TrustedProxies TrustedProxies
}

// API is the HTTP layer.
type API struct {
	svc       AuthService
	opts      Options
	validator *validator.Validate
}

func New(svc AuthService, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &API{svc: svc, opts: opts, validator: newValidator()}
}

// route binds a handler to its access policy. Protected routes carry their
// required roles here, at registration, and nowhere else.
type route struct {
	method  string
	pattern string
	public  bool
	limited bool
	require auth.Requirement
	handler http.HandlerFunc
}

func (a *API) routes() []route {
	admin := auth.RequireRoles(auth.RoleAdmin)
	return []route{
		{method: http.MethodPost, pattern: "/v1/auth/register", public: true, limited: true, handler: a.handleRegister},
		{method: http.MethodPost, pattern: "/v1/auth/login", public: true, limited: true, handler: a.handleLogin},
		{method: http.MethodGet, pattern: "/v1/auth/me", handler: a.handleMe},

		{method: http.MethodGet, pattern: "/v1/users", require: admin, handler: a.handleListUsers},
		{method: http.MethodPost, pattern: "/v1/users/assign-role", require: admin, handler: a.handleAssignRole},
		{method: http.MethodDelete, pattern: "/v1/users/{id}", require: admin, handler: a.handleDeleteUser},

		{method: http.MethodPost, pattern: "/v1/roles", require: admin, handler: a.handleCreateRole},
		{method: http.MethodGet, pattern: "/v1/roles", require: admin, handler: a.handleListRoles},

		{method: http.MethodGet, pattern: "/healthz", public: true, handler: a.Healthz},
		{method: http.MethodGet, pattern: "/readyz", public: true, handler: a.Ready},
		{method: http.MethodGet, pattern: "/v1/info", public: true, handler: a.Info},
	}
}

// Handler assembles the router with middleware and metrics.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, SecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return CORS(next, a.opts.CORSOrigins) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	for _, rt := range a.routes() {
		var h http.Handler = rt.handler
		if !rt.public {
			h = a.guard(rt.require)(h)
		}
		if rt.limited && a.opts.Limiter != nil {
			h = RateLimit(h, a.opts.Limiter, a.opts.TrustedProxies)
		}
		r.Method(rt.method, rt.pattern, h)
	}
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready.Ping(ctx); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
