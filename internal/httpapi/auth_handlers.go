package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/identity"
	"rideops.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  adminView `json:"identity"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	origin := clientIP(r)
	id, err := a.identities.Authenticate(r.Context(), email, req.Password, origin)
	if err != nil {
		a.appendLoginFailure(r, email, err)
		switch {
		case errors.Is(err, identity.ErrLocked):
			writeError(w, r, http.StatusLocked, "account is temporarily locked")
		case errors.Is(err, identity.ErrInactive):
			writeError(w, r, http.StatusUnauthorized, "account is deactivated")
		case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrBadCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, r, http.StatusServiceUnavailable, "login temporarily unavailable")
		}
		return
	}

	signed, expiresAt, err := a.tokens.Issue(id.ID, id.Email, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.appendEntry(r, &audit.Entry{
		ActorID:    id.ID,
		ActorEmail: id.Email,
		Action:     audit.ActionLogin,
		Status:     audit.StatusSuccess,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		Identity:  newAdminView(id),
	})
}

// appendLoginFailure records the failed attempt. The response to the caller
// never depends on the outcome of the write.
func (a *API) appendLoginFailure(r *http.Request, email string, cause error) {
	e := &audit.Entry{
		ActorEmail: email,
		Action:     audit.ActionFailedLogin,
		Status:     audit.StatusFailed,
		Details:    map[string]any{"reason": loginFailureReason(cause)},
	}
	a.appendEntry(r, e)
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrLocked):
		return "account_locked"
	case errors.Is(err, identity.ErrInactive):
		return "account_deactivated"
	case errors.Is(err, identity.ErrNotFound):
		return "unknown_account"
	case errors.Is(err, identity.ErrBadCredentials):
		return "bad_credentials"
	default:
		return "infrastructure_error"
	}
}

// appendEntry stamps request context onto the entry and writes it.
func (a *API) appendEntry(r *http.Request, e *audit.Entry) {
	if a.ledger == nil {
		return
	}
	e.OriginIP = clientIP(r)
	e.UserAgent = r.UserAgent()
	e.CorrelationID = RequestIDFromContext(r.Context())
	e.RequestMethod = r.Method
	e.RequestPath = r.URL.Path
	if err := a.ledger.Append(r.Context(), e); err != nil {
		obs.LogError("append audit entry", err, map[string]any{"action": e.Action})
	}
}
