// Package metrics tracks operational counters for the safeguard pipeline:
// validations, audit appends, incidents and session outcomes. Counters are
// process-local and exposed through Snapshot for the HTTP API and doctor.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/safeguard-project/safeguard/pkg/model"
)

var (
	enabledMutex    sync.RWMutex
	enabled         bool
	defaultRegistry *Registry
)

// Init initializes the metrics system.
func Init() {
	enabledMutex.Lock()
	defer enabledMutex.Unlock()
	enabled = true
	defaultRegistry = NewRegistry()
}

// Enabled returns true if metrics are enabled.
func Enabled() bool {
	enabledMutex.RLock()
	defer enabledMutex.RUnlock()
	return enabled
}

// Default returns the default metrics registry.
func Default() *Registry {
	enabledMutex.Lock()
	defer enabledMutex.Unlock()
	if defaultRegistry == nil {
		enabled = true
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Registry holds all safeguard counters.
type Registry struct {
	validationsTotal    atomic.Int64
	validationsRejected atomic.Int64

	auditAppends       atomic.Int64
	auditAppendErrors  atomic.Int64
	notificationsFired atomic.Int64

	sessionsStarted atomic.Int64
	sessionsActive  atomic.Int64

	mu               sync.Mutex
	incidentsBySev   map[model.Severity]int64
	sessionsByStatus map[model.SessionStatus]int64
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		incidentsBySev:   make(map[model.Severity]int64),
		sessionsByStatus: make(map[model.SessionStatus]int64),
	}
}

// RecordValidation records one gatekeeper decision.
func (r *Registry) RecordValidation(valid bool) {
	r.validationsTotal.Add(1)
	if !valid {
		r.validationsRejected.Add(1)
	}
}

// RecordAppend records one audit append attempt.
func (r *Registry) RecordAppend(err error) {
	r.auditAppends.Add(1)
	if err != nil {
		r.auditAppendErrors.Add(1)
	}
}

// RecordNotification records one fired high-risk or incident alert.
func (r *Registry) RecordNotification() {
	r.notificationsFired.Add(1)
}

// RecordIncident records one incident by severity.
func (r *Registry) RecordIncident(severity model.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidentsBySev[severity]++
}

// RecordSessionStart records a monitoring session entering the active state.
func (r *Registry) RecordSessionStart() {
	r.sessionsStarted.Add(1)
	r.sessionsActive.Add(1)
}

// RecordSessionEnd records a session reaching its terminal status.
func (r *Registry) RecordSessionEnd(status model.SessionStatus) {
	r.sessionsActive.Add(-1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionsByStatus[status]++
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() map[string]any {
	r.mu.Lock()
	incidents := make(map[string]int64, len(r.incidentsBySev))
	for sev, n := range r.incidentsBySev {
		incidents[string(sev)] = n
	}
	sessions := make(map[string]int64, len(r.sessionsByStatus))
	for status, n := range r.sessionsByStatus {
		sessions[string(status)] = n
	}
	r.mu.Unlock()

	return map[string]any{
		"validations_total":     r.validationsTotal.Load(),
		"validations_rejected":  r.validationsRejected.Load(),
		"audit_appends":         r.auditAppends.Load(),
		"audit_append_errors":   r.auditAppendErrors.Load(),
		"notifications_fired":   r.notificationsFired.Load(),
		"sessions_started":      r.sessionsStarted.Load(),
		"sessions_active":       r.sessionsActive.Load(),
		"incidents_by_severity": incidents,
		"sessions_by_status":    sessions,
	}
}
