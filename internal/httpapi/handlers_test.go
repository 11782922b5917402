package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
	"rideops.org/internal/stream"
	"rideops.org/internal/token"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	identities *identity.Service
	auditStore *audit.InMemory
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	cat := catalog.New()
	idStore := identity.NewInMemory()
	identities, err := identity.NewService(idStore, cat)
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	tokens, err := token.NewManager("test-secret")
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}
	auditStore := audit.NewInMemory()
	feed := stream.New()
	ledger, err := audit.NewLedger(auditStore, audit.WithPublisher(feed))
	if err != nil {
		t.Fatalf("audit.NewLedger: %v", err)
	}

	api := New(Config{
		Version:       "test",
		Catalog:       cat,
		Identities:    identities,
		IdentityStore: idStore,
		Tokens:        tokens,
		Ledger:        ledger,
		Stream:        feed,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:    srv.URL,
		client:     srv.Client(),
		t:          t,
		identities: identities,
		auditStore: auditStore,
	}
}

func (c *apiClient) createAccount(role catalog.Role, orgID string, regions []string) *identity.Identity {
	c.t.Helper()
	id, err := c.identities.Create(context.Background(), identity.CreateParams{
		Email:          string(role) + "@rideops.example",
		Password:       "correct horse battery",
		Name:           "Test " + string(role),
		Role:           role,
		OrganizationID: orgID,
		AllowedRegions: regions,
	})
	if err != nil {
		c.t.Fatalf("create %s: %v", role, err)
	}
	return id
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": "correct horse battery",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func timeZero() time.Time { return time.Time{} }

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "rideops-admin-api" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginAndDriverApprovalFlow(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleFleetOwner, "greenride", nil)

	tok := api.login("fleet-owner@rideops.example")

	// Own tenant: allowed.
	resp := api.post("/v1/drivers/drv-1/approve", map[string]any{
		"organization_id": "greenride",
		"region":          "almaty",
	}, bearerHeader(tok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status: %d", resp.StatusCode)
	}
	decision := decode[decisionResponse](t, resp)
	if !decision.Allowed || decision.TargetID != "drv-1" {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	// Foreign tenant: 403 with a HIGH denial entry in the ledger.
	resp = api.post("/v1/drivers/drv-2/approve", map[string]any{
		"organization_id": "metrotaxi",
	}, bearerHeader(tok))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-tenant approve status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	denials, err := api.auditStore.ListUnauthorized(context.Background(), timeZero(), 10)
	if err != nil {
		t.Fatalf("ListUnauthorized: %v", err)
	}
	if len(denials) != 1 || denials[0].Action != audit.ActionUnauthorizedOrganization || denials[0].Severity != audit.SeverityHigh {
		t.Fatalf("unexpected denials: %+v", denials)
	}
}

func TestLoginFailureLeavesLedgerTrail(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleSupportAgent, "", nil)

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "support-agent@rideops.example",
		"password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	failed, err := api.auditStore.ListByAction(context.Background(), audit.ActionFailedLogin, timeZero(), 10)
	if err != nil {
		t.Fatalf("ListByAction: %v", err)
	}
	if len(failed) != 1 || failed[0].Status != audit.StatusFailed {
		t.Fatalf("unexpected failed-login entries: %+v", failed)
	}
	if failed[0].Category != audit.CategorySecurity {
		t.Fatalf("failed login not classified as security: %+v", failed[0])
	}
}

func TestLockedAccountGets423(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleSupportAgent, "", nil)

	for i := 0; i < identity.LockThreshold; i++ {
		resp := api.post("/v1/auth/login", map[string]any{
			"email":    "support-agent@rideops.example",
			"password": "wrong",
		}, nil)
		resp.Body.Close()
	}

	// Correct password no longer helps while the lock is active.
	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "support-agent@rideops.example",
		"password": "correct horse battery",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423, got %d", resp.StatusCode)
	}
}

func TestPermissionDenied403(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleSupportAgent, "", nil)
	tok := api.login("support-agent@rideops.example")

	resp := api.post("/v1/tariffs/trf-1/moderate", map[string]any{}, bearerHeader(tok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMissingCredential401(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/finance/reports/export", map[string]any{}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestAdminLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleSuperAdmin, "", nil)
	tok := api.login("super-admin@rideops.example")

	resp := api.post("/v1/admins", map[string]any{
		"email":    "dispatcher@greenride.example",
		"password": "initial pass phrase",
		"name":     "New Dispatcher",
		"role":     "fleet-dispatcher",
		"organization_id": "greenride",
	}, bearerHeader(tok))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create admin status: %d", resp.StatusCode)
	}
	created := decode[adminView](t, resp)
	if created.Role != "fleet-dispatcher" || created.HierarchyLevel != 2 {
		t.Fatalf("role derivation failed: %+v", created)
	}

	// Role change recomputes the permission set.
	resp = api.do(http.MethodPut, "/v1/admins/"+created.ID+"/role", map[string]any{
		"role": "fleet-manager",
	}, bearerHeader(tok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change role status: %d", resp.StatusCode)
	}
	updated := decode[adminView](t, resp)
	if updated.Role != "fleet-manager" || updated.HierarchyLevel != 5 {
		t.Fatalf("role change failed: %+v", updated)
	}

	// Deactivate, then the account cannot log in.
	resp = api.do(http.MethodDelete, "/v1/admins/"+created.ID, nil, bearerHeader(tok))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "dispatcher@greenride.example",
		"password": "initial pass phrase",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deactivated login status: %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireTopRoles(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleSupportAgent, "", nil)
	tok := api.login("support-agent@rideops.example")

	resp := api.post("/v1/admins", map[string]any{
		"email":    "x@rideops.example",
		"password": "p",
		"role":     "support-agent",
	}, bearerHeader(tok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAuditQueryAndReview(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleComplianceOfficer, "", nil)
	owner := api.createAccount(catalog.RoleFleetOwner, "greenride", nil)
	_ = owner

	ownerTok := api.login("fleet-owner@rideops.example")
	// Produce a HIGH denial to review.
	resp := api.post("/v1/drivers/drv-9/approve", map[string]any{
		"organization_id": "metrotaxi",
	}, bearerHeader(ownerTok))
	resp.Body.Close()

	tok := api.login("compliance-officer@rideops.example")

	resp = api.get("/v1/audit/unauthorized", nil, bearerHeader(tok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unauthorized query status: %d", resp.StatusCode)
	}
	payload := decode[entriesResponse](t, resp)
	if len(payload.Items) != 1 || !payload.Items[0].RequiresReview {
		t.Fatalf("unexpected denial list: %+v", payload.Items)
	}
	entryID := payload.Items[0].ID

	// Review once.
	resp = api.post("/v1/audit/entries/"+entryID+"/review", map[string]any{
		"notes": "confirmed cross-tenant probe",
	}, bearerHeader(tok))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review status: %d", resp.StatusCode)
	}
	reviewed := decode[audit.Entry](t, resp)
	if !reviewed.IsReviewed || reviewed.ReviewNotes != "confirmed cross-tenant probe" {
		t.Fatalf("review not applied: %+v", reviewed)
	}

	// Second review is rejected.
	resp = api.post("/v1/audit/entries/"+entryID+"/review", map[string]any{
		"notes": "again",
	}, bearerHeader(tok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double review status: %d", resp.StatusCode)
	}
}

func TestAuditSurfaceNeedsPermission(t *testing.T) {
	api := newTestAPI(t)
	api.createAccount(catalog.RoleFleetDispatcher, "greenride", nil)
	tok := api.login("fleet-dispatcher@rideops.example")

	resp := api.get("/v1/audit/security-events", nil, bearerHeader(tok))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}
