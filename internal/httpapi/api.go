// Package httpapi is the HTTP surface of the service: middleware chain,
// request gate and route handlers. Handlers stay thin; authorization and
// lifecycle invariants live in internal/auth and internal/org.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/obs"
	"incidentry.org/internal/org"
)

// ReadyProbe reports readiness, pinging the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the API needs.
type Config struct {
	Resolver  *auth.Resolver
	Lifecycle *org.Manager
	Incidents *incident.Service
	Limiter   Limiter
	Ready     ReadyProbe
	Version   string

	// Issuer enables the dev-only POST /v1/auth/token endpoint. Leave nil in
	// production: tokens come from the external identity provider.
	Issuer *auth.TokenVerifier
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	resolver  *auth.Resolver
	lifecycle *org.Manager
	incidents *incident.Service
	limiter   Limiter
	ready     ReadyProbe
	version   string
	issuer    *auth.TokenVerifier
}

// New wires routes. Collaborators must be non-nil except Issuer and Limiter;
// a nil Limiter disables rate limiting.
func New(cfg Config) *API {
	a := &API{
		mux:       http.NewServeMux(),
		resolver:  cfg.Resolver,
		lifecycle: cfg.Lifecycle,
		incidents: cfg.Incidents,
		limiter:   cfg.Limiter,
		ready:     cfg.Ready,
		version:   cfg.Version,
		issuer:    cfg.Issuer,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/time", a.handleTime)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/token", a.handleDevToken)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/v1/incidents", a.handleIncidents)
	a.mux.HandleFunc("/v1/incidents/", a.handleIncidentResource)
	a.mux.HandleFunc("/v1/threat-actors", a.handleThreatActors)
	a.mux.HandleFunc("/v1/threat-actors/", a.handleThreatActorResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	if a.limiter != nil {
		h = RateLimit(h, a.limiter)
	}
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "incidentry-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "incidentry-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
