package model

// RuleID identifies the gatekeeper rule that produced a violation.
type RuleID string

const (
	RuleProtectedPath RuleID = "protected_path"
	RuleScopeLimit    RuleID = "scope_limit"
)

// Violation records one change that matched a deny rule. Pattern is the
// configured pattern that matched (empty for non-pattern rules).
type Violation struct {
	Rule    RuleID `json:"rule"`
	Pattern string `json:"pattern,omitempty"`
	Change  Change `json:"change"`
}

// ValidationResult is the outcome of gatekeeper validation for one change
// set. It is produced fresh per call and never mutated after return.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
	// RiskScore is a normalized [0,1] estimate of how dangerous the change
	// set is. It is informational when Valid is true but always recorded.
	RiskScore  float64     `json:"risk_score"`
	Violations []Violation `json:"violations,omitempty"`
}
