package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/authz"
	"rideops.org/internal/catalog"
)

type reviewRequest struct {
	Notes string `json:"notes"`
}

type entriesResponse struct {
	Items []audit.Entry `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

// auditReader gates the ledger read surface; reads themselves are not
// audit-worthy, so the routine entry is suppressed.
func (a *API) auditReader(w http.ResponseWriter, r *http.Request) *authz.Context {
	rc := a.guardContext(r, "")
	rc.SuppressRoutineAudit = true
	if !a.authorize(w, r, rc, authz.NewPermission(a.ledger, catalog.PermViewAuditLog)) {
		return nil
	}
	return rc
}

func (a *API) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.auditReader(w, r) == nil {
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	var items []audit.Entry
	switch {
	case q.Get("actor_id") != "":
		items, err = a.ledger.EntriesByActor(r.Context(), q.Get("actor_id"), limit)
	case q.Get("action") != "":
		items, err = a.ledger.EntriesByAction(r.Context(), q.Get("action"), limit)
	case q.Get("severity") != "":
		items, err = a.ledger.EntriesBySeverity(r.Context(), audit.Severity(q.Get("severity")), limit)
	default:
		writeError(w, r, http.StatusBadRequest, "one of actor_id, action or severity is required")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) handleAuditEntryResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audit/entries/"), "/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if a.auditReader(w, r) == nil {
			return
		}
		entry, err := a.ledger.Entry(r.Context(), parts[0])
		if err != nil {
			handleAuditError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case len(parts) == 2 && parts[1] == "review":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reviewEntry(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) reviewEntry(w http.ResponseWriter, r *http.Request, id string) {
	rc := a.guardContext(r, "REVIEW_AUDIT_ENTRY")
	if !a.authorize(w, r, rc, authz.NewPermission(a.ledger, catalog.PermReviewAuditLog)) {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errBodyRequired) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := a.ledger.Review(r.Context(), id, rc.Identity.ID, req.Notes)
	if err != nil {
		handleAuditError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	a.windowQuery(w, r, a.ledger.SecurityEvents)
}

func (a *API) handleFailedLogins(w http.ResponseWriter, r *http.Request) {
	a.windowQuery(w, r, a.ledger.FailedLogins)
}

func (a *API) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	a.windowQuery(w, r, a.ledger.UnauthorizedAttempts)
}

func (a *API) windowQuery(w http.ResponseWriter, r *http.Request, query func(context.Context, time.Duration, int) ([]audit.Entry, error)) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.auditReader(w, r) == nil {
		return
	}
	hours, err := parsePositiveInt(r.URL.Query().Get("hours"), 24, 1, 24*365)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := query(r.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) handleActionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.auditReader(w, r) == nil {
		return
	}
	days, err := parsePositiveInt(r.URL.Query().Get("days"), 30, 1, 730)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := a.ledger.ActionRollup(r.Context(), days)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": stats, "days": days})
}

func (a *API) handleActorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actorID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audit/stats/actors/"), "/")
	if actorID == "" || strings.Contains(actorID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if a.auditReader(w, r) == nil {
		return
	}
	days, err := parsePositiveInt(r.URL.Query().Get("days"), 30, 1, 730)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := a.ledger.ActorCategoryRollup(r.Context(), actorID, days)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor_id": actorID, "categories": counts, "days": days})
}

// Stream handles Server-Sent Events for live audit entries.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	if a.auditReader(w, r) == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	min := audit.Severity(r.URL.Query().Get("min_severity"))
	ch := a.stream.SubscribeSeverity(ctx, min)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for entry := range ch {
		payload, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func handleAuditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrAlreadyReviewed):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
