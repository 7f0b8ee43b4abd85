package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades how far past its threshold a breach landed.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is as severe as other or more so.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Incident records one detected threshold breach (or data-quality gap)
// during monitoring. Incidents are immutable and always paired with exactly
// one audit entry.
type Incident struct {
	ID            string     `json:"id"`
	DeploymentID  string     `json:"deployment_id"`
	Severity      Severity   `json:"severity"`
	Metric        MetricName `json:"metric"`
	BaselineValue float64    `json:"baseline_value"`
	CurrentValue  float64    `json:"current_value"`
	// DeltaPercent is the relative degradation against baseline. For metrics
	// compared absolutely (failed test count) it carries the absolute delta.
	DeltaPercent float64   `json:"delta_percent"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewIncidentID generates a unique incident identifier.
func NewIncidentID() string {
	return "inc-" + uuid.NewString()[:12]
}

// RollbackOutcome is the result of invoking the deployer after a breach
// decision. The decision itself is recorded regardless of outcome.
type RollbackOutcome string

const (
	// RollbackCompleted means the deployer confirmed the rollback.
	RollbackCompleted RollbackOutcome = "completed"
	// RollbackFailed means the deployer was invoked but reported an error.
	RollbackFailed RollbackOutcome = "failed"
	// RollbackSkipped means no deployer is configured; the decision stands
	// recorded for an operator to act on.
	RollbackSkipped RollbackOutcome = "skipped"
)
