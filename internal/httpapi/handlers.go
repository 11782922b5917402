package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"rideops.org/api/spec"
	"rideops.org/internal/audit"
	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
	"rideops.org/internal/obs"
	"rideops.org/internal/stream"
	"rideops.org/internal/token"
)

// ReadyProbe — простая проверка готовности (ping БД, если она настроена).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config collects everything the HTTP layer is wired with.
type Config struct {
	ReadyProbe    ReadyProbe
	Version       string
	Catalog       *catalog.Catalog
	Identities    *identity.Service
	IdentityStore identity.Store
	Tokens        *token.Manager
	Ledger        *audit.Ledger
	Stream        *stream.Stream
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	catalog    *catalog.Catalog
	identities *identity.Service
	idStore    identity.Store
	tokens     *token.Manager
	ledger     *audit.Ledger
	stream     *stream.Stream
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		catalog:    cfg.Catalog,
		identities: cfg.Identities,
		idStore:    cfg.IdentityStore,
		tokens:     cfg.Tokens,
		ledger:     cfg.Ledger,
		stream:     cfg.Stream,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// login
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	// admin account management (role-gated)
	a.mux.HandleFunc("/v1/admins", a.handleAdminsCollection)
	a.mux.HandleFunc("/v1/admins/", a.handleAdminResource)

	// protected back-office operations (guard chains per call site)
	a.mux.HandleFunc("/v1/drivers/", a.handleDriverResource)
	a.mux.HandleFunc("/v1/tariffs/", a.handleTariffResource)
	a.mux.HandleFunc("/v1/finance/reports/export", a.handleFinanceExport)

	// audit read surface
	a.mux.HandleFunc("/v1/audit/entries", a.handleAuditEntries)
	a.mux.HandleFunc("/v1/audit/entries/", a.handleAuditEntryResource)
	a.mux.HandleFunc("/v1/audit/security-events", a.handleSecurityEvents)
	a.mux.HandleFunc("/v1/audit/failed-logins", a.handleFailedLogins)
	a.mux.HandleFunc("/v1/audit/unauthorized", a.handleUnauthorized)
	a.mux.HandleFunc("/v1/audit/stats/actions", a.handleActionStats)
	a.mux.HandleFunc("/v1/audit/stats/actors/", a.handleActorStats)
	a.mux.HandleFunc("/v1/audit/stream", a.Stream)

	// корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера: mux, обёрнутый метриками.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "rideops-admin-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "rideops-admin-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
