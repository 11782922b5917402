package httpapi

import (
	"net/http"
	"strings"
	"time"

	"rideops.org/internal/authz"
	"rideops.org/internal/catalog"
)

// The handlers below are the protected call sites. Each assembles exactly the
// guard subset its operation needs; the domain side effect itself lives in
// the driver/tariff/finance services of the wider platform, so here the
// decision and its audit trail are the product.

type driverActionRequest struct {
	OrganizationID string `json:"organization_id"`
	Region         string `json:"region"`
	Reason         string `json:"reason,omitempty"`
}

type decisionResponse struct {
	Operation string    `json:"operation"`
	TargetID  string    `json:"target_id"`
	Allowed   bool      `json:"allowed"`
	DecidedAt time.Time `json:"decided_at"`
}

func (a *API) handleDriverResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/drivers/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	driverID := parts[0]

	switch parts[1] {
	case "approve":
		a.driverAction(w, r, driverID, "APPROVE_DRIVER_APPLICATION", catalog.PermApproveDrivers)
	case "suspend":
		a.driverAction(w, r, driverID, "SUSPEND_DRIVER", catalog.PermSuspendDrivers)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// driverAction gates a driver-scoped operation behind permission, tenant and
// region checks.
func (a *API) driverAction(w http.ResponseWriter, r *http.Request, driverID, operation string, perm catalog.Permission) {
	var req driverActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rc := a.guardContext(r, operation)
	rc.TargetOrganization = strings.TrimSpace(req.OrganizationID)
	rc.TargetRegion = strings.TrimSpace(req.Region)
	if !a.authorize(w, r, rc,
		authz.NewPermission(a.ledger, perm),
		authz.NewOrganization(a.ledger),
		authz.NewRegion(a.ledger),
	) {
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Operation: operation,
		TargetID:  driverID,
		Allowed:   true,
		DecidedAt: time.Now().UTC(),
	})
}

func (a *API) handleTariffResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tariffs/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "moderate" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	rc := a.guardContext(r, "MODERATE_TARIFF")
	if !a.authorize(w, r, rc, authz.NewPermission(a.ledger, catalog.PermModerateTariffs)) {
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Operation: "MODERATE_TARIFF",
		TargetID:  parts[0],
		Allowed:   true,
		DecidedAt: time.Now().UTC(),
	})
}

func (a *API) handleFinanceExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	// Exports honor the identity's validity window even when the token itself
	// is still fresh.
	rc := a.guardContext(r, "EXPORT_FINANCIAL_REPORT")
	if !a.authorize(w, r, rc,
		authz.NewTimeAccess(),
		authz.NewPermission(a.ledger, catalog.PermViewFinancialReports, catalog.PermExportReports),
	) {
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"operation":    "EXPORT_FINANCIAL_REPORT",
		"scheduled_at": time.Now().UTC(),
	})
}
