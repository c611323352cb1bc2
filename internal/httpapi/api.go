package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"daypack.app/api/spec"
	"daypack.app/internal/auth"
	"daypack.app/internal/obs"
	"daypack.app/internal/tasks"
)

// ReadyProbe is a simple readiness check (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// CookieConfig controls the cookies the API writes. The CSRF cookie is
// deliberately not HttpOnly: clients must be able to read it back.
type CookieConfig struct {
	SessionName string
	CSRFName    string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

func defaultCookieConfig() CookieConfig {
	return CookieConfig{
		SessionName: "dp_session",
		CSRFName:    "dp_csrftoken",
		Path:        "/",
		SameSite:    http.SameSiteLaxMode,
	}
}

// API is the HTTP layer of the reference backend.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	tasks      tasks.Service
	cookies    CookieConfig

	rateBurst  int
	ratePerSec int
}

// New wires handlers for the auth contract and the demo task surface.
func New(rp ReadyProbe, version string, authSvc *auth.Service, taskSvc tasks.Service) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		tasks:      taskSvc,
		cookies:    defaultCookieConfig(),
		rateBurst:  50,
		ratePerSec: 25,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/csrf", a.handleCSRF)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/tasks", a.handleTasks)
	a.mux.HandleFunc("/v1/tasks/", a.handleTaskAction)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetCookieConfig overrides cookie parameters (used when serving behind TLS).
func (a *API) SetCookieConfig(cfg CookieConfig) {
	base := defaultCookieConfig()
	if cfg.SessionName == "" {
		cfg.SessionName = base.SessionName
	}
	if cfg.CSRFName == "" {
		cfg.CSRFName = base.CSRFName
	}
	if cfg.Path == "" {
		cfg.Path = base.Path
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = base.SameSite
	}
	a.cookies = cfg
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "daypack-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "daypack-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}
