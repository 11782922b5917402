package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"rideops.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// guardContext builds the pipeline context from the inbound request. The
// Authenticate guard resolves Identity later.
func (a *API) guardContext(r *http.Request, operation string) *authz.Context {
	cred, _ := extractBearerToken(r.Header.Get(authHeader))
	return &authz.Context{
		Credential:    cred,
		ClientAddress: clientIP(r),
		UserAgent:     r.UserAgent(),
		Operation:     operation,
		CorrelationID: RequestIDFromContext(r.Context()),
	}
}

// authorize runs Authenticate and UpdateLastLogin followed by the call site's
// guards. On failure it renders the response and returns false; the handler
// must not proceed.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, rc *authz.Context, guards ...authz.Guard) bool {
	chain := make([]authz.Guard, 0, len(guards)+2)
	chain = append(chain, authz.NewAuthenticate(a.tokens, a.idStore, a.ledger))
	chain = append(chain, authz.NewUpdateLastLogin(a.idStore))
	chain = append(chain, guards...)

	if err := authz.NewPipeline(chain...).Evaluate(r.Context(), rc); err != nil {
		writeAuthzError(w, r, err)
		return false
	}
	return true
}

func writeAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch authz.ClassOf(err) {
	case authz.ClassAuthentication:
		if errors.Is(err, authz.ErrAccountLocked) {
			writeError(w, r, http.StatusLocked, err.Error())
			return
		}
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case authz.ClassAuthorization:
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusServiceUnavailable, "authorization temporarily unavailable")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
