package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"rideops.org/internal/authz"
	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
)

type createAdminRequest struct {
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	Name             string   `json:"name"`
	Role             string   `json:"role"`
	OrganizationID   string   `json:"organization_id"`
	AllowedIPs       []string `json:"allowed_ips"`
	AllowedRegions   []string `json:"allowed_regions"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// adminView is the external representation of an identity; the password hash
// and lockout internals never leave the service.
type adminView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	Permissions      []string   `json:"permissions"`
	HierarchyLevel   int        `json:"hierarchy_level"`
	OrganizationID   string     `json:"organization_id,omitempty"`
	OrganizationKind string     `json:"organization_kind"`
	AllowedRegions   []string   `json:"allowed_regions,omitempty"`
	Status           string     `json:"status"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newAdminView(id *identity.Identity) adminView {
	perms := make([]string, len(id.Permissions))
	for i, p := range id.Permissions {
		perms[i] = string(p)
	}
	return adminView{
		ID:               id.ID,
		Email:            id.Email,
		Name:             id.Name,
		Role:             string(id.Role),
		Permissions:      perms,
		HierarchyLevel:   id.HierarchyLevel,
		OrganizationID:   id.OrganizationID,
		OrganizationKind: string(id.OrganizationKind),
		AllowedRegions:   id.AllowedRegions,
		Status:           string(id.Status(time.Now().UTC())),
		LastLogin:        id.LastLogin,
		CreatedAt:        id.CreatedAt,
	}
}

// adminGuard gates identity management behind the two top platform roles.
func (a *API) adminGuard() authz.Guard {
	return authz.NewRole(a.ledger, catalog.RoleSuperAdmin, catalog.RoleOpsManager)
}

func (a *API) handleAdminsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	rc := a.guardContext(r, "CREATE_ADMIN_ACCOUNT")
	if !a.authorize(w, r, rc, a.adminGuard()) {
		return
	}

	var req createAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.identities.Create(r.Context(), identity.CreateParams{
		Email:            req.Email,
		Password:         req.Password,
		Name:             req.Name,
		Role:             catalog.Role(req.Role),
		OrganizationID:   req.OrganizationID,
		AllowedIPs:       req.AllowedIPs,
		AllowedRegions:   req.AllowedRegions,
		TwoFactorEnabled: req.TwoFactorEnabled,
		CreatedBy:        rc.Identity.ID,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admins/"+created.ID)
	writeJSON(w, http.StatusCreated, newAdminView(created))
}

func (a *API) handleAdminResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admins/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getAdmin(w, r, parts[0])
		case http.MethodDelete:
			a.deactivateAdmin(w, r, parts[0])
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.changeAdminRole(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getAdmin(w http.ResponseWriter, r *http.Request, id string) {
	rc := a.guardContext(r, "")
	rc.SuppressRoutineAudit = true
	if !a.authorize(w, r, rc, a.adminGuard()) {
		return
	}
	rec, err := a.identities.Get(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdminView(rec))
}

func (a *API) deactivateAdmin(w http.ResponseWriter, r *http.Request, id string) {
	rc := a.guardContext(r, "DEACTIVATE_ADMIN_ACCOUNT")
	if !a.authorize(w, r, rc, a.adminGuard()) {
		return
	}
	if err := a.identities.Deactivate(r.Context(), id); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changeAdminRole(w http.ResponseWriter, r *http.Request, id string) {
	rc := a.guardContext(r, "CHANGE_ADMIN_ROLE")
	if !a.authorize(w, r, rc, a.adminGuard()) {
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.identities.ChangeRole(r.Context(), id, catalog.Role(req.Role))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdminView(updated))
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
