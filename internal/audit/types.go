// Package audit is the append-only ledger of administrative actions and
// authorization denials, with automatic category and severity classification
// and a one-time review workflow for high-risk entries.
package audit

import (
	"context"
	"errors"
	"time"
)

// Category is the inferred classification bucket of an entry.
type Category string

const (
	CategoryUserManagement   Category = "user_management"
	CategoryDriverManagement Category = "driver_management"
	CategoryFinancial        Category = "financial"
	CategorySystem           Category = "system"
	CategorySecurity         Category = "security"
	CategorySupport          Category = "support"
	CategoryAnalytics        Category = "analytics"
)

// Severity grades how much attention an entry deserves.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3). Unknown values rank
// lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Status records the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusDenied  Status = "denied"
)

// Well-known action names written by the authorization pipeline and the login
// flow. Protected operations contribute their own operation names on top.
const (
	ActionLogin                    = "LOGIN"
	ActionFailedLogin              = "FAILED_LOGIN"
	ActionUnauthorizedIP           = "UNAUTHORIZED_IP_ACCESS"
	ActionUnauthorizedPermission   = "UNAUTHORIZED_PERMISSION_ATTEMPT"
	ActionUnauthorizedRole         = "UNAUTHORIZED_ROLE_ATTEMPT"
	ActionUnauthorizedOrganization = "UNAUTHORIZED_ORGANIZATION_ACCESS"
	ActionUnauthorizedRegion       = "UNAUTHORIZED_REGION_ACCESS"
)

// Entry is one immutable ledger record. Only the five review fields ever
// change after the append, and they transition exactly once.
type Entry struct {
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	ActorEmail     string         `json:"actor_email,omitempty"`
	Action         string         `json:"action"`
	Category       Category       `json:"category"`
	Severity       Severity       `json:"severity"`
	SystemCritical bool           `json:"system_critical,omitempty"`
	Status         Status         `json:"status"`
	Details        map[string]any `json:"details,omitempty"`
	TargetType     string         `json:"target_type,omitempty"`
	TargetID       string         `json:"target_id,omitempty"`
	BeforeState    map[string]any `json:"before_state,omitempty"`
	AfterState     map[string]any `json:"after_state,omitempty"`
	OriginIP       string         `json:"origin_ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	RequestMethod  string         `json:"request_method,omitempty"`
	RequestPath    string         `json:"request_path,omitempty"`
	RequestBody    string         `json:"request_body,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ExecutionMS    int64          `json:"execution_ms,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Geolocation    string         `json:"geolocation,omitempty"`
	IsAutomated    bool           `json:"is_automated"`
	RequiresReview bool           `json:"requires_review"`
	IsReviewed     bool           `json:"is_reviewed"`
	ReviewedBy     string         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNotes    string         `json:"review_notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ActionStat is one row of the global per-action rollup.
type ActionStat struct {
	Action       string    `json:"action"`
	Count        int       `json:"count"`
	Actors       int       `json:"actors"`
	LastOccurred time.Time `json:"last_occurred"`
}

var (
	ErrNotFound        = errors.New("audit: entry not found")
	ErrAlreadyReviewed = errors.New("audit: entry already reviewed")
	ErrInvalidInput    = errors.New("audit: invalid input")
)

// Store describes the append-only persistence the ledger runs on. Every list
// method takes a `since` cutoff; stores never return entries older than it,
// which is how the retention horizon reaches the read surface.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Entry(ctx context.Context, id string) (*Entry, error)
	// MarkReviewed applies the one-time review transition. A second call for
	// the same entry returns ErrAlreadyReviewed.
	MarkReviewed(ctx context.Context, id, reviewer, notes string, at time.Time) error

	ListByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]Entry, error)
	ListByAction(ctx context.Context, action string, since time.Time, limit int) ([]Entry, error)
	ListBySeverity(ctx context.Context, sev Severity, since time.Time, limit int) ([]Entry, error)
	ListByCategory(ctx context.Context, cat Category, since time.Time, limit int) ([]Entry, error)
	ListUnauthorized(ctx context.Context, since time.Time, limit int) ([]Entry, error)

	ActorCategoryRollup(ctx context.Context, actorID string, since time.Time) (map[Category]int, error)
	ActionRollup(ctx context.Context, since time.Time) ([]ActionStat, error)

	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}
