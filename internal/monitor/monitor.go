// Package monitor watches deployments after accepted changes and decides
// rollbacks. Each session polls the metric collector on its own goroutine
// and compares samples against the baseline captured at start; any single
// threshold breach decides a rollback. The bias is deliberate: a false
// rollback costs a redeploy, a missed regression costs an outage.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/safeguard-project/safeguard/internal/collector"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/model"
)

const (
	// DefaultSampleTimeout bounds one collector call so a stalled collector
	// cannot absorb a session's polling cadence.
	DefaultSampleTimeout = 10 * time.Second

	// rollbackTimeout bounds the deployer invocation after a breach.
	rollbackTimeout = 30 * time.Second

	// appendTimeout bounds trail writes made from session goroutines.
	appendTimeout = 10 * time.Second
)

// Recorder is the slice of the audit trail the monitor writes through.
type Recorder interface {
	Append(ctx context.Context, entry *model.AuditEntry) (string, error)
}

// Deployer executes rollback decisions. The monitor issues the decision
// and records the outcome; execution mechanics stay external.
type Deployer interface {
	Rollback(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error)
}

// DeployerFunc adapts a function into a Deployer.
type DeployerFunc func(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error)

// Rollback implements Deployer.
func (f DeployerFunc) Rollback(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error) {
	return f(ctx, deploymentID, version)
}

// Monitor runs rollback-monitoring sessions. Sessions share nothing but
// the trail; one slow collector call never delays another session.
type Monitor struct {
	trail         Recorder
	collector     collector.MetricCollector
	deployer      Deployer
	log           *logging.Logger
	reg           *metrics.Registry
	sampleTimeout time.Duration

	mu        sync.Mutex
	sessions  map[string]*Session
	callbacks []func(model.Incident)
	wg        sync.WaitGroup
}

// Option adjusts monitor construction.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// WithDeployer sets the deployer invoked on rollback decisions. Without
// one, decisions are recorded with outcome "skipped".
func WithDeployer(d Deployer) Option {
	return func(m *Monitor) { m.deployer = d }
}

// WithRegistry wires the process-local counters.
func WithRegistry(reg *metrics.Registry) Option {
	return func(m *Monitor) { m.reg = reg }
}

// WithSampleTimeout overrides the per-poll collector timeout.
func WithSampleTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.sampleTimeout = d
		}
	}
}

// New creates a monitor writing through trail and sampling via c.
func New(trail Recorder, c collector.MetricCollector, opts ...Option) *Monitor {
	m := &Monitor{
		trail:         trail,
		collector:     c,
		log:           logging.Default(),
		sampleTimeout: DefaultSampleTimeout,
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnIncident registers a callback invoked for every incident, including
// data-quality ones. Callbacks run on the session goroutine that detected
// the incident and must return quickly.
func (m *Monitor) OnIncident(fn func(model.Incident)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// StartOptions describes one deployment watch.
type StartOptions struct {
	DeploymentID string
	Version      string
	Agent        model.AgentDescriptor
	// Baseline is the comparison snapshot. When nil the monitor samples
	// the collector once at start.
	Baseline   *model.Metrics
	Thresholds map[model.MetricName]float64
	// Window bounds the whole session; PollInterval is the sampling cadence.
	Window       time.Duration
	PollInterval time.Duration
}

func (o StartOptions) validate() error {
	if o.DeploymentID == "" {
		return errclass.ErrInvalidInput.WithMessage("deployment id must not be empty")
	}
	if o.Window <= 0 {
		return errclass.ErrInvalidInput.WithMessage("monitoring window must be positive")
	}
	if o.PollInterval <= 0 {
		return errclass.ErrInvalidInput.WithMessage("poll interval must be positive")
	}
	if o.PollInterval > o.Window {
		return errclass.ErrInvalidInput.WithMessage("poll interval must not exceed the window")
	}
	if len(o.Thresholds) == 0 {
		return errclass.ErrInvalidInput.WithMessage("at least one rollback threshold is required")
	}
	for name, v := range o.Thresholds {
		if v < 0 {
			return errclass.ErrInvalidInput.WithMessagef("threshold for %s must not be negative", name)
		}
	}
	return nil
}

// Start begins watching a deployment. The call returns once the baseline
// is in hand; polling proceeds on a dedicated goroutine whose lifetime is
// detached from ctx. ctx only governs the synchronous baseline sample.
func (m *Monitor) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if m.trail == nil || m.collector == nil {
		return nil, errclass.ErrInvalidInput.WithMessage("monitor requires a trail and a collector")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	baseline := opts.Baseline
	if baseline == nil {
		sampleCtx, cancel := context.WithTimeout(ctx, m.sampleTimeout)
		sampled, err := m.collector.Sample(sampleCtx, opts.DeploymentID)
		cancel()
		if err != nil {
			return nil, err
		}
		baseline = sampled
	}

	thresholds := make(map[model.MetricName]float64, len(opts.Thresholds))
	for name, v := range opts.Thresholds {
		thresholds[name] = v
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		m:            m,
		deploymentID: opts.DeploymentID,
		version:      opts.Version,
		agent:        opts.Agent,
		baseline:     *baseline,
		thresholds:   thresholds,
		window:       opts.Window,
		poll:         opts.PollInterval,
		startedAt:    time.Now().UTC(),
		status:       model.SessionActive,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.sessions[s.deploymentID]; ok && !prev.Status().Status.Terminal() {
		m.mu.Unlock()
		cancel()
		return nil, errclass.ErrInvalidInput.WithMessagef("deployment %s is already monitored", s.deploymentID)
	}
	m.sessions[s.deploymentID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.RecordSessionStart()
	}
	m.log.Info("monitoring session started", map[string]any{
		"deployment_id": s.deploymentID,
		"version":       s.version,
		"window_ms":     s.window.Milliseconds(),
		"poll_ms":       s.poll.Milliseconds(),
	})

	go s.run(runCtx)
	return s, nil
}

// Session returns the handle for a deployment, if the monitor has one.
func (m *Monitor) Session(deploymentID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deploymentID]
	return s, ok
}

// Sessions returns a snapshot of every session the monitor has started,
// newest first. Terminal sessions stay listed until the process exits.
func (m *Monitor) Sessions() []model.MonitoringSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MonitoringSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].DeploymentID < out[j].DeploymentID
	})
	return out
}

// StopAll stops every active session and waits for their goroutines to
// drain. Safe to call more than once.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	m.wg.Wait()
}

func (m *Monitor) sessionEnded(status model.SessionStatus) {
	if m.reg != nil {
		m.reg.RecordSessionEnd(status)
	}
}

// emitIncident fans the incident out to callbacks and pairs it with an
// audit entry. A failed append is logged, never swallowed silently; the
// rollback decision stands regardless.
func (m *Monitor) emitIncident(ctx context.Context, agent model.AgentDescriptor, inc model.Incident, kind string) {
	if m.reg != nil {
		m.reg.RecordIncident(inc.Severity)
	}

	m.mu.Lock()
	callbacks := make([]func(model.Incident), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(inc)
	}

	payload := incidentPayload(inc)
	if kind != "" {
		payload["kind"] = kind
	}
	entry := model.NewAuditEntry(time.Now(), agent, model.EventIncident, payload, 0)
	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if _, err := m.trail.Append(appendCtx, entry); err != nil {
		m.log.ErrorErr("incident audit append failed", err, map[string]any{
			"deployment_id": inc.DeploymentID,
			"incident_id":   inc.ID,
		})
	}
}

// remediate executes and records the rollback decision for a breach.
func (m *Monitor) remediate(ctx context.Context, s *Session, inc model.Incident) {
	outcome := model.RollbackSkipped
	detail := "no deployer configured"
	if m.deployer != nil {
		rbCtx, cancel := context.WithTimeout(ctx, rollbackTimeout)
		var err error
		outcome, err = m.deployer.Rollback(rbCtx, s.deploymentID, s.version)
		cancel()
		if err != nil {
			outcome = model.RollbackFailed
			detail = err.Error()
			m.log.ErrorErr("rollback execution failed", err, map[string]any{
				"deployment_id": s.deploymentID,
				"version":       s.version,
			})
		} else {
			detail = ""
		}
	}

	payload := map[string]any{
		"action":        "rollback",
		"deployment_id": s.deploymentID,
		"version":       s.version,
		"incident_id":   inc.ID,
		"metric":        string(inc.Metric),
		"outcome":       string(outcome),
	}
	if detail != "" {
		payload["detail"] = detail
	}
	entry := model.NewAuditEntry(time.Now(), s.agent, model.EventRemediation, payload, 0)
	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if _, err := m.trail.Append(appendCtx, entry); err != nil {
		m.log.ErrorErr("remediation audit append failed", err, map[string]any{
			"deployment_id": s.deploymentID,
		})
	}

	m.log.Warn("rollback decided", map[string]any{
		"deployment_id": s.deploymentID,
		"version":       s.version,
		"metric":        string(inc.Metric),
		"severity":      string(inc.Severity),
		"outcome":       string(outcome),
	})
}

func incidentPayload(inc model.Incident) map[string]any {
	return map[string]any{
		"incident_id":    inc.ID,
		"deployment_id":  inc.DeploymentID,
		"severity":       string(inc.Severity),
		"metric":         string(inc.Metric),
		"baseline_value": inc.BaselineValue,
		"current_value":  inc.CurrentValue,
		"delta_percent":  inc.DeltaPercent,
		"message":        inc.Message,
	}
}
