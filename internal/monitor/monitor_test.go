package monitor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeguard-project/safeguard/internal/collector"
	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

var testAgent = model.AgentDescriptor{
	ID:          "agent-7",
	Name:        "coder",
	Type:        model.AgentCoder,
	SuccessRate: 0.92,
}

// captureRecorder stands in for the audit trail.
type captureRecorder struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
	fail    error
}

func (r *captureRecorder) Append(ctx context.Context, e *model.AuditEntry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return "", r.fail
	}
	if e.ID == "" {
		e.ID = model.NewEntryID()
	}
	clone := *e
	r.entries = append(r.entries, &clone)
	return e.ID, nil
}

func (r *captureRecorder) byType(eventType model.EventType) []*model.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEntry
	for _, e := range r.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// incidentSink collects OnIncident callbacks.
type incidentSink struct {
	mu        sync.Mutex
	incidents []model.Incident
}

func (s *incidentSink) record(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, inc)
}

func (s *incidentSink) all() []model.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Incident, len(s.incidents))
	copy(out, s.incidents)
	return out
}

func waitDone(t *testing.T, s *monitor.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not reach a terminal status in time")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func errorRateThresholds() map[model.MetricName]float64 {
	return map[model.MetricName]float64{model.MetricErrorRate: 0.5}
}

func TestBreachRollsBack(t *testing.T) {
	rec := &captureRecorder{}
	sink := &incidentSink{}
	col := collector.NewStatic(model.Metrics{ErrorRate: 2.0})

	var rolledBack atomic.Int32
	m := monitor.New(rec, col, monitor.WithDeployer(monitor.DeployerFunc(
		func(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error) {
			rolledBack.Add(1)
			return model.RollbackCompleted, nil
		})))
	m.OnIncident(sink.record)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-v1.2.0-aabbccdd",
		Version:      "v1.2.0",
		Agent:        testAgent,
		Baseline:     &model.Metrics{ErrorRate: 1.0},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	st := s.Status()
	assert.Equal(t, model.SessionRolledBack, st.Status)
	assert.False(t, st.EndedAt.IsZero())

	incidents := sink.all()
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, model.MetricErrorRate, inc.Metric)
	assert.Equal(t, 1.0, inc.BaselineValue)
	assert.Equal(t, 2.0, inc.CurrentValue)
	assert.InDelta(t, 100.0, inc.DeltaPercent, 1e-9)
	assert.True(t, inc.Severity.AtLeast(model.SeverityMedium))

	incEntries := rec.byType(model.EventIncident)
	require.Len(t, incEntries, 1)
	assert.Equal(t, inc.ID, incEntries[0].Payload["incident_id"])

	remEntries := rec.byType(model.EventRemediation)
	require.Len(t, remEntries, 1)
	assert.Equal(t, "rollback", remEntries[0].Payload["action"])
	assert.Equal(t, "completed", remEntries[0].Payload["outcome"])
	assert.Equal(t, int32(1), rolledBack.Load())
}

func TestWindowElapsesWithoutBreach(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.NewStatic(model.Metrics{ErrorRate: 1.0})
	m := monitor.New(rec, col)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-healthy",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{ErrorRate: 1.0},
		Thresholds:   errorRateThresholds(),
		Window:       80 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	st := s.Status()
	assert.Equal(t, model.SessionCompleted, st.Status)
	assert.Empty(t, rec.byType(model.EventIncident))
	assert.Empty(t, rec.byType(model.EventRemediation))
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.NewStatic(model.Metrics{})
	m := monitor.New(rec, col)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-stop",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	s.Stop()
	waitDone(t, s)
	assert.Equal(t, model.SessionStopped, s.Status().Status)

	// second stop is a no-op
	s.Stop()
	assert.Equal(t, model.SessionStopped, s.Status().Status)
	assert.Empty(t, rec.byType(model.EventIncident))
}

func TestStopRacingBreachYieldsOneTerminalStatus(t *testing.T) {
	rec := &captureRecorder{}
	sink := &incidentSink{}
	col := collector.NewStatic(model.Metrics{ErrorRate: 9.0})
	m := monitor.New(rec, col)
	m.OnIncident(sink.record)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-race",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{ErrorRate: 1.0},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)

	s.Stop()
	waitDone(t, s)

	st := s.Status()
	require.True(t, st.Status.Terminal())
	require.Contains(t, []model.SessionStatus{model.SessionStopped, model.SessionRolledBack}, st.Status)

	// the loser is a no-op: at most one incident, and only on the rollback path
	incidents := sink.all()
	if st.Status == model.SessionRolledBack {
		assert.Len(t, incidents, 1)
	} else {
		assert.Empty(t, incidents)
	}

	// status never changes again
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, st.Status, s.Status().Status)
}

func TestCollectorUnavailableIsDataQualityNotBreach(t *testing.T) {
	rec := &captureRecorder{}
	sink := &incidentSink{}

	var mode atomic.Int32 // 0 fail, 1 healthy, 2 fail again
	var calls [3]atomic.Int32
	col := collector.Func(func(ctx context.Context, deploymentID string) (*model.Metrics, error) {
		ph := mode.Load()
		calls[ph].Add(1)
		if ph == 1 {
			return &model.Metrics{}, nil
		}
		return nil, errclass.ErrCollectorUnavailable.WithMessage("collector down")
	})

	m := monitor.New(rec, col)
	m.OnIncident(sink.record)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-gaps",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       30 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return calls[0].Load() >= 3 })
	mode.Store(1)
	waitFor(t, func() bool { return calls[1].Load() >= 3 })
	mode.Store(2)
	waitFor(t, func() bool { return calls[2].Load() >= 3 })
	s.Stop()
	waitDone(t, s)

	// one incident per consecutive run of misses, never a breach
	assert.Equal(t, model.SessionStopped, s.Status().Status)
	incidents := sink.all()
	require.Len(t, incidents, 2)
	for _, inc := range incidents {
		assert.Equal(t, model.SeverityLow, inc.Severity)
		assert.Empty(t, string(inc.Metric))
	}
	entries := rec.byType(model.EventIncident)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "data_quality", e.Payload["kind"])
	}
	assert.Empty(t, rec.byType(model.EventRemediation))
}

func TestDeploymentGoneExpiresSession(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.Func(func(ctx context.Context, deploymentID string) (*model.Metrics, error) {
		return nil, errclass.ErrDeploymentGone.WithMessage("torn down")
	})
	m := monitor.New(rec, col)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-gone",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, model.SessionExpired, s.Status().Status)
	assert.Empty(t, rec.byType(model.EventIncident))
	assert.Empty(t, rec.byType(model.EventRemediation))
}

func TestBaselineSampledWhenNotSupplied(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.NewStatic(model.Metrics{ErrorRate: 5.0, Latency: 200})
	m := monitor.New(rec, col)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-sampled",
		Version:      "v1",
		Agent:        testAgent,
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { s.Stop(); waitDone(t, s) }()

	st := s.Status()
	assert.Equal(t, 5.0, st.Baseline.ErrorRate)
	assert.Equal(t, 200.0, st.Baseline.Latency)
	assert.Equal(t, model.SessionActive, st.Status)
}

func TestStartFailsWhenBaselineSampleFails(t *testing.T) {
	col := collector.NewStatic(model.Metrics{})
	col.Fail(errclass.ErrCollectorUnavailable.WithMessage("down"))
	m := monitor.New(&captureRecorder{}, col)

	_, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-nobaseline",
		Version:      "v1",
		Agent:        testAgent,
		Thresholds:   errorRateThresholds(),
		Window:       time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.ErrorIs(t, err, errclass.ErrCollectorUnavailable)
}

func TestStartRejectsBadOptions(t *testing.T) {
	m := monitor.New(&captureRecorder{}, collector.NewStatic(model.Metrics{}))
	base := monitor.StartOptions{
		DeploymentID: "deploy-x",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       time.Second,
		PollInterval: 100 * time.Millisecond,
	}

	cases := []struct {
		name   string
		mutate func(*monitor.StartOptions)
	}{
		{"empty deployment id", func(o *monitor.StartOptions) { o.DeploymentID = "" }},
		{"zero window", func(o *monitor.StartOptions) { o.Window = 0 }},
		{"zero poll", func(o *monitor.StartOptions) { o.PollInterval = 0 }},
		{"poll exceeds window", func(o *monitor.StartOptions) { o.PollInterval = 2 * time.Second }},
		{"no thresholds", func(o *monitor.StartOptions) { o.Thresholds = nil }},
		{"negative threshold", func(o *monitor.StartOptions) {
			o.Thresholds = map[model.MetricName]float64{model.MetricLatency: -1}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base
			tc.mutate(&opts)
			_, err := m.Start(context.Background(), opts)
			require.ErrorIs(t, err, errclass.ErrInvalidInput)
		})
	}
}

func TestStartRejectsDuplicateActiveDeployment(t *testing.T) {
	m := monitor.New(&captureRecorder{}, collector.NewStatic(model.Metrics{}))
	opts := monitor.StartOptions{
		DeploymentID: "deploy-dup",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	s, err := m.Start(context.Background(), opts)
	require.NoError(t, err)

	_, err = m.Start(context.Background(), opts)
	require.ErrorIs(t, err, errclass.ErrInvalidInput)

	s.Stop()
	waitDone(t, s)

	// a terminal session frees the deployment for a new watch
	s2, err := m.Start(context.Background(), opts)
	require.NoError(t, err)
	s2.Stop()
	waitDone(t, s2)
}

func TestRemediationWithoutDeployerIsSkipped(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.NewStatic(model.Metrics{FailedTests: 2})
	m := monitor.New(rec, col)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-nodeployer",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{FailedTests: 0},
		Thresholds:   map[model.MetricName]float64{model.MetricFailedTests: 0},
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, model.SessionRolledBack, s.Status().Status)
	rems := rec.byType(model.EventRemediation)
	require.Len(t, rems, 1)
	assert.Equal(t, "skipped", rems[0].Payload["outcome"])
	assert.Equal(t, "no deployer configured", rems[0].Payload["detail"])
}

func TestFailedTestsBreachIsCritical(t *testing.T) {
	rec := &captureRecorder{}
	sink := &incidentSink{}
	col := collector.NewStatic(model.Metrics{FailedTests: 1})
	m := monitor.New(rec, col)
	m.OnIncident(sink.record)

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-tests",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{FailedTests: 0},
		Thresholds:   map[model.MetricName]float64{model.MetricFailedTests: 0},
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	incidents := sink.all()
	require.Len(t, incidents, 1)
	assert.Equal(t, model.SeverityCritical, incidents[0].Severity)
	assert.Equal(t, model.MetricFailedTests, incidents[0].Metric)
	assert.Equal(t, 1.0, incidents[0].DeltaPercent)
}

func TestDeployerFailureRecorded(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.NewStatic(model.Metrics{ErrorRate: 9})
	m := monitor.New(rec, col, monitor.WithDeployer(monitor.DeployerFunc(
		func(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error) {
			return model.RollbackFailed, errclass.ErrCollectorUnavailable.WithMessage("deploy api down")
		})))

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-rbfail",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{ErrorRate: 1},
		Thresholds:   errorRateThresholds(),
		Window:       10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	waitDone(t, s)

	// the decision is recorded even though execution failed
	assert.Equal(t, model.SessionRolledBack, s.Status().Status)
	rems := rec.byType(model.EventRemediation)
	require.Len(t, rems, 1)
	assert.Equal(t, "failed", rems[0].Payload["outcome"])
	assert.Contains(t, rems[0].Payload["detail"], "deploy api down")
}

func TestSlowCollectorDoesNotStallOtherSessions(t *testing.T) {
	rec := &captureRecorder{}
	col := collector.Func(func(ctx context.Context, deploymentID string) (*model.Metrics, error) {
		if deploymentID == "deploy-slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &model.Metrics{ErrorRate: 2}, nil
	})
	m := monitor.New(rec, col, monitor.WithSampleTimeout(50*time.Millisecond))

	slow, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-slow",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   map[model.MetricName]float64{model.MetricErrorRate: 99},
		Window:       30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	fast, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-fast",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{ErrorRate: 1},
		Thresholds:   errorRateThresholds(),
		Window:       30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	waitDone(t, fast)
	assert.Equal(t, model.SessionRolledBack, fast.Status().Status)
	assert.Equal(t, model.SessionActive, slow.Status().Status)

	m.StopAll()
}

func TestStopAllStopsEverything(t *testing.T) {
	m := monitor.New(&captureRecorder{}, collector.NewStatic(model.Metrics{}))

	ids := []string{"deploy-a", "deploy-b", "deploy-c"}
	for _, id := range ids {
		_, err := m.Start(context.Background(), monitor.StartOptions{
			DeploymentID: id,
			Version:      "v1",
			Agent:        testAgent,
			Baseline:     &model.Metrics{},
			Thresholds:   errorRateThresholds(),
			Window:       30 * time.Second,
			PollInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	m.StopAll()

	sessions := m.Sessions()
	require.Len(t, sessions, 3)
	for _, st := range sessions {
		assert.Equal(t, model.SessionStopped, st.Status)
	}
}

func TestSessionsSnapshotIsSortedNewestFirst(t *testing.T) {
	m := monitor.New(&captureRecorder{}, collector.NewStatic(model.Metrics{}))

	first, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-old",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-new",
		Version:      "v2",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "deploy-new", sessions[0].DeploymentID)
	assert.Equal(t, "deploy-old", sessions[1].DeploymentID)

	_ = first
	_ = second
	m.StopAll()
}

func TestStatusSnapshotThresholdsAreCopies(t *testing.T) {
	m := monitor.New(&captureRecorder{}, collector.NewStatic(model.Metrics{}))

	s, err := m.Start(context.Background(), monitor.StartOptions{
		DeploymentID: "deploy-copy",
		Version:      "v1",
		Agent:        testAgent,
		Baseline:     &model.Metrics{},
		Thresholds:   errorRateThresholds(),
		Window:       30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer m.StopAll()

	st := s.Status()
	st.Thresholds[model.MetricErrorRate] = 99

	assert.Equal(t, 0.5, s.Status().Thresholds[model.MetricErrorRate])
}
