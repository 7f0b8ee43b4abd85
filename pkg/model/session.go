package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a monitoring session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionRolledBack SessionStatus = "rolled_back"
	SessionExpired    SessionStatus = "expired"
	// SessionStopped marks a session cancelled early by the caller. Like the
	// other non-active statuses it is terminal.
	SessionStopped SessionStatus = "stopped"
)

// Terminal reports whether no further transition can occur.
func (s SessionStatus) Terminal() bool {
	return s != SessionActive && s != ""
}

// MonitoringSession is the externally visible state of one deployment watch.
// The monitoring loop that created it owns it exclusively; callers only ever
// see copies.
type MonitoringSession struct {
	DeploymentID   string                 `json:"deployment_id"`
	Version        string                 `json:"version"`
	Agent          AgentDescriptor        `json:"agent"`
	Baseline       Metrics                `json:"baseline"`
	Thresholds     map[MetricName]float64 `json:"thresholds"`
	Status         SessionStatus          `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at"`
	WindowMs       int64                  `json:"window_ms"`
	PollIntervalMs int64                  `json:"poll_interval_ms"`
}

// WindowDuration returns the monitoring window as a duration.
func (s MonitoringSession) WindowDuration() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// PollEvery returns the polling interval as a duration.
func (s MonitoringSession) PollEvery() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

var deploySanitize = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewDeploymentID derives a deployment identifier from a release version.
// The version is sanitized for use in keys and paths; an 8-hex suffix keeps
// repeated deployments of the same version distinct.
func NewDeploymentID(version string) string {
	v := deploySanitize.ReplaceAllString(strings.TrimSpace(version), "-")
	if v == "" {
		v = "unversioned"
	}
	return fmt.Sprintf("deploy-%s-%s", v, uuid.NewString()[:8])
}
