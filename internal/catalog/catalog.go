// Package catalog holds the versioned role and permission configuration for
// the back office. The tables are code-level configuration: a Catalog is built
// once at process start and passed into the authorization pipeline, never
// consulted through a package global.
package catalog

// Role is a named administrative persona with a fixed permission set.
type Role string

// Permission is an atomic capability a protected operation can require.
type Permission string

// OrganizationKind classifies which isolation boundary a role operates under.
type OrganizationKind string

const (
	// Platform staff.
	RoleSuperAdmin       Role = "super-admin"
	RoleOpsManager       Role = "ops-manager"
	RoleSupportAgent     Role = "support-agent"
	RoleFinanceManager   Role = "finance-manager"
	RoleMarketingManager Role = "marketing-manager"

	// Fleet tenants.
	RoleFleetOwner      Role = "fleet-owner"
	RoleFleetManager    Role = "fleet-manager"
	RoleFleetDispatcher Role = "fleet-dispatcher"

	// Government and regulatory.
	RoleTaxInspector          Role = "tax-inspector"
	RoleTransportRegulator    Role = "transport-regulator"
	RoleSafetyInspector       Role = "safety-inspector"
	RoleDataProtectionOfficer Role = "data-protection-officer"

	// Audit and compliance.
	RoleInternalAuditor   Role = "internal-auditor"
	RoleComplianceOfficer Role = "compliance-officer"
)

const (
	KindPlatform   OrganizationKind = "platform"
	KindFleet      OrganizationKind = "fleet"
	KindGovernment OrganizationKind = "government"
)

const (
	// User management.
	PermViewUsers   Permission = "users.view"
	PermEditUsers   Permission = "users.edit"
	PermBlockUsers  Permission = "users.block"
	PermDeleteUsers Permission = "users.delete"

	// Driver management.
	PermViewDrivers     Permission = "drivers.view"
	PermApproveDrivers  Permission = "drivers.approve"
	PermSuspendDrivers  Permission = "drivers.suspend"
	PermVerifyDocuments Permission = "drivers.documents.verify"

	// Tariff moderation.
	PermViewTariffs     Permission = "tariffs.view"
	PermModerateTariffs Permission = "tariffs.moderate"
	PermPublishTariffs  Permission = "tariffs.publish"

	// Financial reporting.
	PermViewFinancialReports Permission = "finance.reports.view"
	PermManagePayouts        Permission = "finance.payouts.manage"
	PermIssueRefunds         Permission = "finance.refunds.issue"

	// System administration.
	PermManageSettings Permission = "system.settings.manage"
	PermRunBackups     Permission = "system.backup.run"
	PermManageAdmins   Permission = "admins.manage"

	// Analytics and reporting.
	PermViewAnalytics Permission = "analytics.view"
	PermExportReports Permission = "reports.export"

	// Support.
	PermViewTickets    Permission = "support.tickets.view"
	PermResolveTickets Permission = "support.tickets.resolve"

	// Marketing.
	PermManageCampaigns Permission = "marketing.campaigns.manage"
	PermManagePromos    Permission = "marketing.promos.manage"

	// Audit ledger access.
	PermViewAuditLog   Permission = "audit.log.view"
	PermReviewAuditLog Permission = "audit.log.review"
)

type roleEntry struct {
	permissions []Permission
	level       int
	kind        OrganizationKind
}

// Catalog is the immutable role/permission table. The zero value is unusable;
// construct one with New.
type Catalog struct {
	roles map[Role]roleEntry
}

// New builds the catalog from the fixed configuration below.
func New() *Catalog {
	return &Catalog{roles: map[Role]roleEntry{
		// super-admin holds the full permission universe by construction.
		RoleSuperAdmin: {permissions: allPermissions(), level: 10, kind: KindPlatform},
		RoleOpsManager: {permissions: []Permission{
			PermViewUsers, PermEditUsers, PermBlockUsers,
			PermViewDrivers, PermApproveDrivers, PermSuspendDrivers, PermVerifyDocuments,
			PermViewTariffs, PermModerateTariffs,
			PermViewAnalytics, PermExportReports,
			PermViewTickets,
		}, level: 8, kind: KindPlatform},
		RoleSupportAgent: {permissions: []Permission{
			PermViewUsers, PermViewDrivers,
			PermViewTickets, PermResolveTickets,
		}, level: 3, kind: KindPlatform},
		RoleFinanceManager: {permissions: []Permission{
			PermViewFinancialReports, PermManagePayouts, PermIssueRefunds,
			PermViewAnalytics, PermExportReports,
		}, level: 7, kind: KindPlatform},
		RoleMarketingManager: {permissions: []Permission{
			PermManageCampaigns, PermManagePromos,
			PermViewAnalytics,
		}, level: 5, kind: KindPlatform},

		RoleFleetOwner: {permissions: []Permission{
			PermViewDrivers, PermApproveDrivers, PermSuspendDrivers, PermVerifyDocuments,
			PermViewTariffs,
			PermViewFinancialReports, PermViewAnalytics, PermExportReports,
		}, level: 7, kind: KindFleet},
		RoleFleetManager: {permissions: []Permission{
			PermViewDrivers, PermApproveDrivers, PermSuspendDrivers,
			PermViewTariffs, PermViewAnalytics,
		}, level: 5, kind: KindFleet},
		RoleFleetDispatcher: {permissions: []Permission{
			PermViewDrivers,
		}, level: 2, kind: KindFleet},

		RoleTaxInspector: {permissions: []Permission{
			PermViewFinancialReports, PermExportReports, PermViewAnalytics,
		}, level: 6, kind: KindGovernment},
		RoleTransportRegulator: {permissions: []Permission{
			PermViewDrivers, PermViewTariffs, PermModerateTariffs,
			PermViewAnalytics, PermExportReports,
		}, level: 6, kind: KindGovernment},
		RoleSafetyInspector: {permissions: []Permission{
			PermViewDrivers, PermSuspendDrivers, PermVerifyDocuments,
			PermViewAnalytics,
		}, level: 6, kind: KindGovernment},
		RoleDataProtectionOfficer: {permissions: []Permission{
			PermViewUsers, PermViewAuditLog, PermExportReports,
		}, level: 6, kind: KindGovernment},

		RoleInternalAuditor: {permissions: []Permission{
			PermViewAuditLog, PermViewAnalytics, PermExportReports,
		}, level: 6, kind: KindPlatform},
		RoleComplianceOfficer: {permissions: []Permission{
			PermViewAuditLog, PermReviewAuditLog, PermViewAnalytics, PermExportReports,
		}, level: 7, kind: KindPlatform},
	}}
}

// Permissions returns the permission set configured for the role. An
// unrecognized role yields an empty set; callers never see nil semantics
// distinct from "no access".
func (c *Catalog) Permissions(role Role) []Permission {
	entry, ok := c.roles[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(entry.permissions))
	copy(out, entry.permissions)
	return out
}

// HierarchyLevel returns the coarse 1-10 ranking for the role, or 0 when the
// role is not in the catalog. The level is advisory and never substitutes for
// a permission check.
func (c *Catalog) HierarchyLevel(role Role) int {
	return c.roles[role].level
}

// OrganizationKind reports which isolation boundary the role belongs to.
// Unknown roles map to the fleet kind so that the organization guard stays
// fail-closed for them.
func (c *Catalog) OrganizationKind(role Role) OrganizationKind {
	entry, ok := c.roles[role]
	if !ok {
		return KindFleet
	}
	return entry.kind
}

// IsValid reports whether the role exists in the catalog.
func (c *Catalog) IsValid(role Role) bool {
	_, ok := c.roles[role]
	return ok
}

// Roles lists every role in the catalog. Order is unspecified.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.roles))
	for r := range c.roles {
		out = append(out, r)
	}
	return out
}

func allPermissions() []Permission {
	return []Permission{
		PermViewUsers, PermEditUsers, PermBlockUsers, PermDeleteUsers,
		PermViewDrivers, PermApproveDrivers, PermSuspendDrivers, PermVerifyDocuments,
		PermViewTariffs, PermModerateTariffs, PermPublishTariffs,
		PermViewFinancialReports, PermManagePayouts, PermIssueRefunds,
		PermManageSettings, PermRunBackups, PermManageAdmins,
		PermViewAnalytics, PermExportReports,
		PermViewTickets, PermResolveTickets,
		PermManageCampaigns, PermManagePromos,
		PermViewAuditLog, PermReviewAuditLog,
	}
}
