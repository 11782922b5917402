package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
	"rideops.org/internal/token"
)

type fixture struct {
	tokens     *token.Manager
	identities *identity.InMemory
	ledger     *audit.Ledger
	auditStore *audit.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := token.NewManager("test-secret")
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}
	auditStore := audit.NewInMemory()
	ledger, err := audit.NewLedger(auditStore)
	if err != nil {
		t.Fatalf("audit.NewLedger: %v", err)
	}
	return &fixture{
		tokens:     tokens,
		identities: identity.NewInMemory(),
		ledger:     ledger,
		auditStore: auditStore,
	}
}

func (f *fixture) addIdentity(t *testing.T, id *identity.Identity) string {
	t.Helper()
	cat := catalog.New()
	if id.Permissions == nil {
		id.Permissions = cat.Permissions(id.Role)
	}
	if id.HierarchyLevel == 0 {
		id.HierarchyLevel = cat.HierarchyLevel(id.Role)
	}
	if id.OrganizationKind == "" {
		id.OrganizationKind = cat.OrganizationKind(id.Role)
	}
	id.Active = true
	id.Verified = true
	if err := f.identities.Create(context.Background(), id); err != nil {
		t.Fatalf("identities.Create: %v", err)
	}
	return id.ID
}

func (f *fixture) credentialFor(t *testing.T, identityID, email string) string {
	t.Helper()
	signed, _, err := f.tokens.Issue(identityID, email, 15*time.Minute)
	if err != nil {
		t.Fatalf("tokens.Issue: %v", err)
	}
	return signed
}

func (f *fixture) denials(t *testing.T) []audit.Entry {
	t.Helper()
	entries, err := f.auditStore.ListUnauthorized(context.Background(), time.Time{}, 100)
	if err != nil {
		t.Fatalf("ListUnauthorized: %v", err)
	}
	return entries
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	f := newFixture(t)
	f.addIdentity(t, &identity.Identity{ID: "adm-1", Email: "ops@rideops.example", Role: catalog.RoleOpsManager})
	cred := f.credentialFor(t, "adm-1", "ops@rideops.example")

	rc := &Context{Credential: cred, ClientAddress: "10.0.0.1", Operation: "VIEW_ANALYTICS"}
	g := NewAuthenticate(f.tokens, f.identities, f.ledger)
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rc.Identity == nil || rc.Identity.ID != "adm-1" {
		t.Fatalf("identity not resolved: %+v", rc.Identity)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	f.addIdentity(t, &identity.Identity{ID: "adm-ok", Email: "a@x.example", Role: catalog.RoleOpsManager})
	deactivated := &identity.Identity{ID: "adm-off", Email: "b@x.example", Role: catalog.RoleOpsManager}
	f.addIdentity(t, deactivated)
	if err := f.identities.Deactivate(context.Background(), "adm-off", past); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	locked := &identity.Identity{ID: "adm-lock", Email: "c@x.example", Role: catalog.RoleOpsManager, LockUntil: &future}
	f.addIdentity(t, locked)
	notYet := &identity.Identity{ID: "adm-early", Email: "d@x.example", Role: catalog.RoleOpsManager, AccessValidFrom: &future}
	f.addIdentity(t, notYet)
	expired := &identity.Identity{ID: "adm-late", Email: "e@x.example", Role: catalog.RoleOpsManager, AccessValidUntil: &past}
	f.addIdentity(t, expired)

	g := NewAuthenticate(f.tokens, f.identities, f.ledger)
	cases := []struct {
		name       string
		credential string
		want       error
	}{
		{"missing", "", ErrMissingCredential},
		{"garbage", "not-a-token", ErrInvalidCredential},
		{"unknown identity", f.credentialFor(t, "adm-ghost", "ghost@x.example"), ErrInvalidCredential},
		{"deactivated", f.credentialFor(t, "adm-off", "b@x.example"), ErrAccountInactive},
		{"locked", f.credentialFor(t, "adm-lock", "c@x.example"), ErrAccountLocked},
		{"window not yet valid", f.credentialFor(t, "adm-early", "d@x.example"), ErrAccessNotYetValid},
		{"window expired", f.credentialFor(t, "adm-late", "e@x.example"), ErrAccessExpired},
	}
	for _, tc := range cases {
		rc := &Context{Credential: tc.credential, ClientAddress: "10.0.0.1"}
		if err := g.Evaluate(context.Background(), rc); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestAuthenticateIPAllowList(t *testing.T) {
	f := newFixture(t)
	f.addIdentity(t, &identity.Identity{
		ID: "adm-1", Email: "ops@rideops.example", Role: catalog.RoleOpsManager,
		AllowedIPs: []string{"10.0.0.1"},
	})
	cred := f.credentialFor(t, "adm-1", "ops@rideops.example")

	g := NewAuthenticate(f.tokens, f.identities, f.ledger)
	rc := &Context{Credential: cred, ClientAddress: "198.51.100.9", Operation: "VIEW_ANALYTICS"}
	if err := g.Evaluate(context.Background(), rc); !errors.Is(err, ErrIPNotAllowed) {
		t.Fatalf("want ErrIPNotAllowed, got %v", err)
	}

	denials := f.denials(t)
	if len(denials) != 1 {
		t.Fatalf("denial entries: %d, want 1", len(denials))
	}
	d := denials[0]
	if d.Action != audit.ActionUnauthorizedIP || d.Severity != audit.SeverityHigh || !d.RequiresReview {
		t.Fatalf("IP denial must be HIGH and reviewed: %+v", d)
	}

	// The allowed address passes.
	rc = &Context{Credential: cred, ClientAddress: "10.0.0.1"}
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("allowed address rejected: %v", err)
	}
}

func TestPermissionGuard(t *testing.T) {
	f := newFixture(t)
	dispatcher := &identity.Identity{ID: "adm-disp", Email: "disp@fleet.example", Role: catalog.RoleFleetDispatcher, OrganizationID: "greenride"}
	f.addIdentity(t, dispatcher)

	rc := &Context{Identity: dispatcher, Operation: "APPROVE_DRIVER_APPLICATION", ClientAddress: "10.0.0.1"}
	g := NewPermission(f.ledger, catalog.PermApproveDrivers)
	if err := g.Evaluate(context.Background(), rc); !errors.Is(err, ErrMissingPermission) {
		t.Fatalf("want ErrMissingPermission, got %v", err)
	}
	denials := f.denials(t)
	if len(denials) != 1 || denials[0].Severity != audit.SeverityMedium {
		t.Fatalf("want exactly one MEDIUM denial, got %+v", denials)
	}

	// An identity that holds the permission passes and leaves one routine
	// LOW entry.
	ops := &identity.Identity{ID: "adm-ops", Email: "ops@rideops.example", Role: catalog.RoleOpsManager}
	f.addIdentity(t, ops)
	rc = &Context{Identity: ops, Operation: "APPROVE_DRIVER_APPLICATION", ClientAddress: "10.0.0.1"}
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	routine, err := f.auditStore.ListByAction(context.Background(), "APPROVE_DRIVER_APPLICATION", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListByAction: %v", err)
	}
	if len(routine) != 1 || routine[0].Severity != audit.SeverityLow || routine[0].Status != audit.StatusSuccess {
		t.Fatalf("want one LOW routine entry, got %+v", routine)
	}
}

func TestPermissionGuardSuppressedAudit(t *testing.T) {
	f := newFixture(t)
	ops := &identity.Identity{ID: "adm-ops", Email: "ops@rideops.example", Role: catalog.RoleOpsManager}
	f.addIdentity(t, ops)

	rc := &Context{Identity: ops, Operation: "VIEW_DRIVER_LIST", SuppressRoutineAudit: true}
	if err := NewPermission(f.ledger, catalog.PermViewDrivers).Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	entries, _ := f.auditStore.ListByAction(context.Background(), "VIEW_DRIVER_LIST", time.Time{}, 10)
	if len(entries) != 0 {
		t.Fatalf("suppressed operation must not leave routine entries, got %d", len(entries))
	}
}

func TestRoleGuard(t *testing.T) {
	f := newFixture(t)
	agent := &identity.Identity{ID: "adm-agent", Email: "agent@rideops.example", Role: catalog.RoleSupportAgent}
	f.addIdentity(t, agent)

	g := NewRole(f.ledger, catalog.RoleSuperAdmin, catalog.RoleOpsManager)
	rc := &Context{Identity: agent, Operation: "CREATE_ADMIN_ACCOUNT"}
	if err := g.Evaluate(context.Background(), rc); !errors.Is(err, ErrMissingRole) {
		t.Fatalf("want ErrMissingRole, got %v", err)
	}
	denials := f.denials(t)
	if len(denials) != 1 || denials[0].Action != audit.ActionUnauthorizedRole {
		t.Fatalf("unexpected denial entries: %+v", denials)
	}
}

func TestOrganizationGuard(t *testing.T) {
	f := newFixture(t)
	manager := &identity.Identity{ID: "adm-fm", Email: "fm@greenride.example", Role: catalog.RoleFleetManager, OrganizationID: "greenride"}
	f.addIdentity(t, manager)

	g := NewOrganization(f.ledger)

	// Own organization passes.
	rc := &Context{Identity: manager, TargetOrganization: "greenride", Operation: "SUSPEND_DRIVER"}
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("same-tenant access rejected: %v", err)
	}

	// Cross-tenant access is denied with one HIGH entry.
	rc = &Context{Identity: manager, TargetOrganization: "metrotaxi", Operation: "SUSPEND_DRIVER"}
	if err := g.Evaluate(context.Background(), rc); !errors.Is(err, ErrOrganizationMismatch) {
		t.Fatalf("want ErrOrganizationMismatch, got %v", err)
	}
	denials := f.denials(t)
	if len(denials) != 1 || denials[0].Severity != audit.SeverityHigh || !denials[0].RequiresReview {
		t.Fatalf("cross-tenant denial must be HIGH and reviewed: %+v", denials)
	}
}

func TestOrganizationGuardPlatformBypass(t *testing.T) {
	f := newFixture(t)
	super := &identity.Identity{ID: "adm-root", Email: "root@rideops.example", Role: catalog.RoleSuperAdmin}
	f.addIdentity(t, super)

	g := NewOrganization(f.ledger)
	for _, target := range []string{"greenride", "metrotaxi", ""} {
		rc := &Context{Identity: super, TargetOrganization: target}
		if err := g.Evaluate(context.Background(), rc); err != nil {
			t.Fatalf("super-admin must bypass organization scope for %q: %v", target, err)
		}
	}
	if len(f.denials(t)) != 0 {
		t.Fatal("bypass must not write denial entries")
	}
}

func TestRegionGuard(t *testing.T) {
	f := newFixture(t)
	inspector := &identity.Identity{
		ID: "adm-si", Email: "si@transport.example", Role: catalog.RoleSafetyInspector,
		OrganizationID: "transport-authority", AllowedRegions: []string{"almaty", "astana"},
	}
	f.addIdentity(t, inspector)

	g := NewRegion(f.ledger)
	rc := &Context{Identity: inspector, TargetRegion: "almaty"}
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("allowed region rejected: %v", err)
	}
	rc = &Context{Identity: inspector, TargetRegion: "shymkent", Operation: "SUSPEND_DRIVER"}
	if err := g.Evaluate(context.Background(), rc); !errors.Is(err, ErrRegionMismatch) {
		t.Fatalf("want ErrRegionMismatch, got %v", err)
	}
	denials := f.denials(t)
	if len(denials) != 1 || denials[0].Severity != audit.SeverityMedium {
		t.Fatalf("region denial must be MEDIUM: %+v", denials)
	}

	// Empty allowed-region list means unrestricted.
	unrestricted := &identity.Identity{ID: "adm-free", Email: "free@rideops.example", Role: catalog.RoleOpsManager}
	f.addIdentity(t, unrestricted)
	rc = &Context{Identity: unrestricted, TargetRegion: "anywhere"}
	if err := g.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("unrestricted identity rejected: %v", err)
	}
}

type haltGuard struct {
	err    error
	called *bool
}

func (g haltGuard) Name() string { return "halt" }
func (g haltGuard) Evaluate(ctx context.Context, rc *Context) error {
	if g.called != nil {
		*g.called = true
	}
	return g.err
}

func TestPipelineShortCircuits(t *testing.T) {
	reached := false
	p := NewPipeline(
		haltGuard{err: ErrMissingPermission},
		haltGuard{called: &reached},
	)
	if err := p.Evaluate(context.Background(), &Context{}); !errors.Is(err, ErrMissingPermission) {
		t.Fatalf("pipeline did not surface the failure: %v", err)
	}
	if reached {
		t.Fatal("guards after a failure must not run")
	}
}

func TestClassOf(t *testing.T) {
	cases := map[error]Class{
		ErrMissingCredential:    ClassAuthentication,
		ErrAccountLocked:        ClassAuthentication,
		ErrAccessExpired:        ClassAuthentication,
		ErrIPNotAllowed:         ClassAuthorization,
		ErrMissingPermission:    ClassAuthorization,
		ErrOrganizationMismatch: ClassAuthorization,
		ErrRegionMismatch:       ClassAuthorization,
		ErrInfrastructure:       ClassInfrastructure,
		errors.New("pg down"):   ClassInfrastructure,
	}
	for err, want := range cases {
		if got := ClassOf(err); got != want {
			t.Fatalf("ClassOf(%v)=%d, want %d", err, got, want)
		}
	}
}

func TestEndToEndPermissionChain(t *testing.T) {
	f := newFixture(t)
	owner := &identity.Identity{ID: "adm-own", Email: "own@greenride.example", Role: catalog.RoleFleetOwner, OrganizationID: "greenride"}
	f.addIdentity(t, owner)
	cred := f.credentialFor(t, "adm-own", "own@greenride.example")

	chain := NewPipeline(
		NewAuthenticate(f.tokens, f.identities, f.ledger),
		NewUpdateLastLogin(f.identities),
		NewPermission(f.ledger, catalog.PermApproveDrivers),
		NewOrganization(f.ledger),
	)

	// Own tenant: allowed, last login stamped, one routine entry.
	rc := &Context{Credential: cred, ClientAddress: "10.0.0.1", TargetOrganization: "greenride", Operation: "APPROVE_DRIVER_APPLICATION"}
	if err := chain.Evaluate(context.Background(), rc); err != nil {
		t.Fatalf("chain: %v", err)
	}
	stored, _ := f.identities.FindByID(context.Background(), "adm-own")
	if stored.LastLogin == nil {
		t.Fatal("last login not stamped")
	}

	// Foreign tenant: one HIGH denial.
	rc = &Context{Credential: cred, ClientAddress: "10.0.0.1", TargetOrganization: "metrotaxi", Operation: "APPROVE_DRIVER_APPLICATION"}
	if err := chain.Evaluate(context.Background(), rc); !errors.Is(err, ErrOrganizationMismatch) {
		t.Fatalf("want ErrOrganizationMismatch, got %v", err)
	}
	denials := f.denials(t)
	if len(denials) != 1 || denials[0].Action != audit.ActionUnauthorizedOrganization {
		t.Fatalf("unexpected denials: %+v", denials)
	}
}
