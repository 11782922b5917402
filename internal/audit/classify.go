package audit

import "strings"

// categoryRules map action-name keywords to categories. Rows are checked in
// order; the first match wins and unmatched actions fall into the system
// bucket. Extending coverage is a table edit.
var categoryRules = []struct {
	keywords []string
	category Category
}{
	{[]string{"USER"}, CategoryUserManagement},
	{[]string{"DRIVER"}, CategoryDriverManagement},
	{[]string{"FINANCIAL", "PAYMENT", "PAYOUT"}, CategoryFinancial},
	{[]string{"SYSTEM", "BACKUP", "SETTINGS"}, CategorySystem},
	{[]string{"UNAUTHORIZED", "LOGIN", "PASSWORD", "2FA"}, CategorySecurity},
	{[]string{"SUPPORT", "TICKET"}, CategorySupport},
	{[]string{"REPORT", "ANALYTICS", "EXPORT"}, CategoryAnalytics},
}

var (
	highKeywords   = []string{"UNAUTHORIZED", "FAILED", "DELETE"}
	mediumKeywords = []string{"BLOCK", "REJECT", "CHANGE", "EDIT"}
)

// Classify fills in category and severity when the caller did not supply
// them, then derives RequiresReview from the final severity. An explicit
// severity is authoritative and is never downgraded by inference.
func Classify(e *Entry) {
	action := strings.ToUpper(e.Action)
	if e.Category == "" {
		e.Category = inferCategory(action)
	}
	if e.Severity == "" {
		e.Severity = inferSeverity(action, e.SystemCritical)
	}
	if e.Severity == SeverityHigh || e.Severity == SeverityCritical {
		e.RequiresReview = true
	}
}

func inferCategory(action string) Category {
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(action, kw) {
				return rule.category
			}
		}
	}
	return CategorySystem
}

func inferSeverity(action string, systemCritical bool) Severity {
	if systemCritical {
		return SeverityCritical
	}
	for _, kw := range highKeywords {
		if strings.Contains(action, kw) {
			return SeverityHigh
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(action, kw) {
			return SeverityMedium
		}
	}
	return SeverityLow
}
