package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// Session is the live handle for one deployment watch. The polling loop
// owns all mutable state; callers observe it through Status and Done.
type Session struct {
	m *Monitor

	deploymentID string
	version      string
	agent        model.AgentDescriptor
	baseline     model.Metrics
	thresholds   map[model.MetricName]float64
	window       time.Duration
	poll         time.Duration
	startedAt    time.Time

	mu      sync.Mutex
	status  model.SessionStatus
	endedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// DeploymentID returns the deployment this session watches.
func (s *Session) DeploymentID() string { return s.deploymentID }

// Done is closed once the session reached a terminal status and its
// goroutine exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns a point-in-time copy of the session state.
func (s *Session) Status() model.MonitoringSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	thresholds := make(map[model.MetricName]float64, len(s.thresholds))
	for name, v := range s.thresholds {
		thresholds[name] = v
	}
	return model.MonitoringSession{
		DeploymentID:   s.deploymentID,
		Version:        s.version,
		Agent:          s.agent,
		Baseline:       s.baseline,
		Thresholds:     thresholds,
		Status:         s.status,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		WindowMs:       s.window.Milliseconds(),
		PollIntervalMs: s.poll.Milliseconds(),
	}
}

// Stop cancels the session. Safe to call at any time, from any goroutine,
// concurrently with an in-flight poll; whichever terminal transition runs
// first wins and the loser is a no-op.
func (s *Session) Stop() {
	if s.transition(model.SessionStopped) {
		s.cancel()
	}
}

// transition moves the session to a terminal status. It reports false when
// a terminal transition already happened.
func (s *Session) transition(status model.SessionStatus) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.endedAt = time.Now().UTC()
	s.mu.Unlock()

	s.m.sessionEnded(status)
	s.m.log.Info("monitoring session ended", map[string]any{
		"deployment_id": s.deploymentID,
		"status":        string(status),
	})
	return true
}

func (s *Session) run(ctx context.Context) {
	defer s.m.wg.Done()
	defer close(s.done)
	defer s.cancel()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	deadline := time.NewTimer(s.window)
	defer deadline.Stop()

	// missing tracks a consecutive run of unavailable samples so only the
	// first miss produces a data-quality incident.
	missing := false

	for {
		select {
		case <-ctx.Done():
			// Stop already moved the status; the transition guard makes
			// this a no-op then.
			s.transition(model.SessionStopped)
			return
		case <-deadline.C:
			s.transition(model.SessionCompleted)
			return
		case <-ticker.C:
			if s.pollOnce(ctx, &missing) {
				return
			}
		}
	}
}

// pollOnce takes one sample and applies the breach rules. It reports
// whether the session reached a terminal status.
func (s *Session) pollOnce(ctx context.Context, missing *bool) bool {
	sampleCtx, cancel := context.WithTimeout(ctx, s.m.sampleTimeout)
	sample, err := s.m.collector.Sample(sampleCtx, s.deploymentID)
	cancel()

	switch {
	case ctx.Err() != nil:
		// Session is being stopped; the next select iteration exits.
		return false
	case errors.Is(err, errclass.ErrDeploymentGone):
		if s.transition(model.SessionExpired) {
			s.m.log.Warn("deployment gone, session expired", map[string]any{
				"deployment_id": s.deploymentID,
			})
		}
		return true
	case err != nil:
		// No data is not a breach. One incident per consecutive run of
		// misses keeps a flapping collector from flooding the trail.
		if !*missing {
			*missing = true
			inc := s.newIncident(model.SeverityLow, "", 0, 0, 0,
				fmt.Sprintf("metric sample unavailable: %v", err))
			s.m.emitIncident(ctx, s.agent, inc, "data_quality")
		}
		return false
	}
	*missing = false

	for _, name := range model.AllMetrics {
		threshold, watched := s.thresholds[name]
		if !watched {
			continue
		}
		baseline := s.baseline.Value(name)
		current := sample.Value(name)
		delta, absolute, breached := compareMetric(name, baseline, current, threshold)
		if !breached {
			continue
		}

		// One breach is enough; waiting for corroboration would trade an
		// outage for a redeploy.
		if !s.transition(model.SessionRolledBack) {
			return true
		}
		recorded := delta
		if !absolute {
			recorded = delta * 100
		}
		inc := s.newIncident(severityFor(delta, threshold), name, baseline, current, recorded,
			fmt.Sprintf("%s degraded beyond threshold: baseline %.4g, current %.4g", name, baseline, current))
		s.m.emitIncident(ctx, s.agent, inc, "")
		s.m.remediate(ctx, s, inc)
		return true
	}
	return false
}

func (s *Session) newIncident(severity model.Severity, metric model.MetricName, baseline, current, delta float64, message string) model.Incident {
	return model.Incident{
		ID:            model.NewIncidentID(),
		DeploymentID:  s.deploymentID,
		Severity:      severity,
		Metric:        metric,
		BaselineValue: baseline,
		CurrentValue:  current,
		DeltaPercent:  delta,
		Message:       message,
		Timestamp:     time.Now().UTC(),
	}
}

// compareMetric computes the degradation of current against baseline and
// whether it breaches the threshold. Relative comparison is the norm; the
// failed test count, and any metric with a zero baseline, compare as
// absolute growth since a relative delta is undefined there.
func compareMetric(name model.MetricName, baseline, current, threshold float64) (delta float64, absolute, breached bool) {
	absolute = name.Absolute() || baseline == 0
	if absolute {
		delta = current - baseline
	} else {
		delta = (current - baseline) / baseline
	}
	return delta, absolute, delta > threshold
}

// severityFor grades a breach by how far past the threshold it landed. A
// zero threshold tolerates nothing, so any breach of one is critical.
func severityFor(delta, threshold float64) model.Severity {
	if threshold <= 0 {
		return model.SeverityCritical
	}
	switch ratio := delta / threshold; {
	case ratio <= 1.5:
		return model.SeverityMedium
	case ratio <= 3:
		return model.SeverityHigh
	default:
		return model.SeverityCritical
	}
}
