package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the category of an audit entry.
type EventType string

const (
	EventValidation      EventType = "validation"
	EventIncident        EventType = "incident"
	EventRemediation     EventType = "remediation"
	EventComplianceCheck EventType = "compliance_check"
)

// AuditEntry is one immutable line in the audit trail (JSONL storage).
//
// Invariants:
// - Entries are write-once; never updated or deleted.
// - Signature covers the canonical serialization of every other field and is
//   recomputed on every integrity check. A mismatch means tampering.
type AuditEntry struct {
	ID            string          `json:"id"`
	TimestampUnix int64           `json:"timestamp_unix"`
	TimestampISO  string          `json:"timestamp_iso"`
	Agent         AgentDescriptor `json:"agent"`
	EventType     EventType       `json:"event_type"`
	Payload       map[string]any  `json:"payload,omitempty"`
	RiskScore     float64         `json:"risk_score"`
	Signature     string          `json:"signature"`
}

// NewEntryID generates a unique audit entry identifier.
func NewEntryID() string {
	return uuid.NewString()
}

// NewAuditEntry stamps a fresh entry at the given time. The signature is
// left empty; the trail computes it on append.
func NewAuditEntry(now time.Time, agent AgentDescriptor, eventType EventType, payload map[string]any, riskScore float64) *AuditEntry {
	now = now.UTC()
	return &AuditEntry{
		ID:            NewEntryID(),
		TimestampUnix: now.UnixMilli(),
		TimestampISO:  now.Format(time.RFC3339Nano),
		Agent:         agent,
		EventType:     eventType,
		Payload:       payload,
		RiskScore:     riskScore,
	}
}

// Time returns the entry timestamp as a time.Time.
func (e *AuditEntry) Time() time.Time {
	return time.UnixMilli(e.TimestampUnix).UTC()
}
