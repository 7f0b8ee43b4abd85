package safeguard

import (
	"context"
	"io"
	"strings"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/internal/collector"
	"github.com/safeguard-project/safeguard/internal/gatekeeper"
	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/internal/pipeline"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/notify"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

// MetricSource supplies deployment health samples for rollback monitoring.
// Implementations should return errclass.ErrCollectorUnavailable when a
// sample cannot be taken and errclass.ErrDeploymentGone when the platform
// no longer knows the deployment.
type MetricSource interface {
	Sample(ctx context.Context, deploymentID string) (*model.Metrics, error)
}

// Deployer executes rollbacks when a monitoring session detects a breach.
type Deployer interface {
	Rollback(ctx context.Context, deploymentID, version string) (model.RollbackOutcome, error)
}

// RedisOptions configures the built-in Redis metric source.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "safeguard:"
}

// Options configures Open.
type Options struct {
	AuditDir string // Audit trail root directory (required)

	// Policy wins over PolicyPath; with neither set the defaults apply.
	// A missing PolicyPath file also falls back to the defaults.
	Policy     *policy.Policy
	PolicyPath string

	// SigningKey enables HMAC-SHA256 audit signatures; nil means a keyless
	// trail (SHA-256 digests, tamper-evident but not authenticated).
	SigningKey []byte

	// Metrics enables rollback monitoring with a caller-provided source.
	// Redis does the same with the built-in collector; Metrics wins when
	// both are set. With neither, Process validates and records only.
	Metrics MetricSource
	Redis   *RedisOptions

	// Deployer executes rollbacks; without one, breaches are recorded and
	// the rollback outcome is marked skipped.
	Deployer Deployer

	// WebhookURL receives high-risk alerts; empty disables the notifier.
	WebhookURL    string
	WebhookSecret string

	Logger   *logging.Logger
	Registry *metrics.Registry
}

// ProcessOptions adjusts one Process call.
type ProcessOptions struct {
	// Version labels the release; the deployment id derives from it.
	Version string
	// Baseline supplies the comparison snapshot for monitoring; nil lets
	// the monitor sample one at session start.
	Baseline *model.Metrics
	// SkipMonitoring records the verdict without starting a watch.
	SkipMonitoring bool
}

// Result is the outcome of one processed change set. A rejection is a
// normal negative outcome, not an error: Accepted is false and Validation
// carries the reasons.
type Result struct {
	Accepted     bool
	Validation   *model.ValidationResult
	Entry        *model.AuditEntry
	DeploymentID string
	// Session is a snapshot of the monitoring session at start; nil when
	// monitoring was skipped, disabled, or failed to start.
	Session *model.MonitoringSession
}

// Client provides high-level safeguard operations for embedding the
// pipeline in an agent orchestrator.
type Client struct {
	trail   *audit.Trail
	gate    *gatekeeper.Gatekeeper
	mon     *monitor.Monitor
	pipe    *pipeline.Pipeline
	pol     *policy.Policy
	log     *logging.Logger
	webhook *notify.Webhook
	redis   *collector.Redis
}

// Open builds a client from the options. The audit directory is created if
// it does not exist; a Redis source is pinged before use.
func Open(ctx context.Context, opts Options) (*Client, error) {
	if opts.AuditDir == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("audit dir is required")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	pol := opts.Policy
	if pol == nil {
		loaded, err := policy.Load(opts.PolicyPath)
		if err != nil {
			return nil, err
		}
		pol = loaded
	} else {
		if err := pol.Validate(); err != nil {
			return nil, err
		}
		pol = pol.Clone()
	}

	c := &Client{pol: pol, log: log}

	if opts.WebhookURL != "" {
		cfg := notify.DefaultWebhookConfig(opts.WebhookURL)
		cfg.Secret = opts.WebhookSecret
		c.webhook = notify.NewWebhook(cfg, log)
	}

	var notifier notify.Notifier
	if c.webhook != nil {
		notifier = c.webhook
	}
	trail, err := audit.Open(opts.AuditDir, audit.Options{
		SigningKey:      opts.SigningKey,
		Notifier:        notifier,
		NotifyThreshold: pol.HighRiskNotifyThreshold,
		Logger:          log,
		Registry:        opts.Registry,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.trail = trail
	c.gate = gatekeeper.New(log)

	source, err := c.openSource(ctx, opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	if source != nil {
		monOpts := []monitor.Option{monitor.WithLogger(log), monitor.WithRegistry(opts.Registry)}
		if opts.Deployer != nil {
			monOpts = append(monOpts, monitor.WithDeployer(monitor.DeployerFunc(opts.Deployer.Rollback)))
		}
		c.mon = monitor.New(trail, source, monOpts...)
	}

	pipeCfg := pipeline.Config{
		Trail:      trail,
		Gatekeeper: c.gate,
		Policy:     pol,
		Logger:     log,
		Registry:   opts.Registry,
	}
	if c.mon != nil {
		pipeCfg.Monitor = c.mon
	}
	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.pipe = pipe
	return c, nil
}

func (c *Client) openSource(ctx context.Context, opts Options) (collector.MetricCollector, error) {
	if opts.Metrics != nil {
		return collector.Func(opts.Metrics.Sample), nil
	}
	if opts.Redis == nil {
		return nil, nil
	}
	rc, err := collector.OpenRedis(ctx, collector.RedisConfig{
		Addr:      opts.Redis.Addr,
		Password:  opts.Redis.Password,
		DB:        opts.Redis.DB,
		KeyPrefix: opts.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	c.redis = rc
	return rc, nil
}

// Process validates a change set, records the verdict, and on approval
// starts a monitoring session. Rejection is reported in the result, not as
// an error.
func (c *Client) Process(ctx context.Context, changes []model.Change, agent model.AgentDescriptor, opts ProcessOptions) (*Result, error) {
	res, err := c.pipe.ProcessAgentChanges(ctx, changes, agent, pipeline.Options{
		Version:        opts.Version,
		Baseline:       opts.Baseline,
		SkipMonitoring: opts.SkipMonitoring,
	})
	if res == nil {
		return nil, err
	}

	out := &Result{
		Accepted:     res.Accepted,
		Validation:   res.Validation,
		Entry:        res.Entry,
		DeploymentID: res.DeploymentID,
	}
	if res.Session != nil {
		snap := res.Session.Status()
		out.Session = &snap
	}
	return out, err
}

// Validate runs the gatekeeper without touching the audit trail. Use it for
// advisory pre-checks; Process is the recording entry point.
func (c *Client) Validate(changes []model.Change, agent model.AgentDescriptor) (*model.ValidationResult, error) {
	return c.gate.Validate(changes, agent, c.pol)
}

// OnIncident registers a callback invoked for every incident any session
// detects. Callbacks run on the session goroutine and must not block.
func (c *Client) OnIncident(fn func(model.Incident)) {
	if c.mon != nil {
		c.mon.OnIncident(fn)
	}
}

// Sessions snapshots all monitoring sessions, newest first. Terminal
// sessions stay listed for the client's lifetime.
func (c *Client) Sessions() []model.MonitoringSession {
	if c.mon == nil {
		return nil
	}
	return c.mon.Sessions()
}

// Session snapshots one session by deployment id.
func (c *Client) Session(deploymentID string) (*model.MonitoringSession, bool) {
	if c.mon == nil {
		return nil, false
	}
	sess, ok := c.mon.Session(deploymentID)
	if !ok {
		return nil, false
	}
	snap := sess.Status()
	return &snap, true
}

// StopSession ends the watch for a deployment without a rollback. Stopping
// an already terminal session is a no-op.
func (c *Client) StopSession(deploymentID string) error {
	if c.mon == nil {
		return errclass.ErrDeploymentGone.WithMessage("monitoring is disabled")
	}
	sess, ok := c.mon.Session(deploymentID)
	if !ok {
		return errclass.ErrDeploymentGone.WithMessagef("no session for deployment %s", deploymentID)
	}
	sess.Stop()
	return nil
}

// WaitSession blocks until the session for the deployment reaches a
// terminal status, then returns its final snapshot.
func (c *Client) WaitSession(ctx context.Context, deploymentID string) (*model.MonitoringSession, error) {
	if c.mon == nil {
		return nil, errclass.ErrDeploymentGone.WithMessage("monitoring is disabled")
	}
	sess, ok := c.mon.Session(deploymentID)
	if !ok {
		return nil, errclass.ErrDeploymentGone.WithMessagef("no session for deployment %s", deploymentID)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sess.Done():
	}
	snap := sess.Status()
	return &snap, nil
}

// History returns audit entries for one deployment in append order. Pass
// limit <= 0 for all entries.
func (c *Client) History(ctx context.Context, deploymentID string, limit int) ([]*model.AuditEntry, error) {
	return c.trail.Query(ctx, audit.Filter{DeploymentID: deploymentID, Limit: limit})
}

// Entry fetches one audit entry by id.
func (c *Client) Entry(ctx context.Context, id string) (*model.AuditEntry, error) {
	return c.trail.Get(ctx, id)
}

// VerifyIntegrity recomputes every audit signature. It returns nil when the
// trail verifies and errclass.ErrIntegrityViolation naming the broken
// entries otherwise.
func (c *Client) VerifyIntegrity(ctx context.Context) error {
	report, err := c.trail.VerifyIntegrity(ctx, audit.Range{})
	if err != nil {
		return err
	}
	if report.Valid {
		return nil
	}
	return errclass.ErrIntegrityViolation.WithMessagef(
		"%d of %d entries broken: %s",
		len(report.BrokenEntries), report.Checked, strings.Join(report.BrokenEntries, ", "))
}

// Export streams the audit trail to w. Format is "jsonl" or "csv".
func (c *Client) Export(ctx context.Context, format string, w io.Writer) error {
	f, err := audit.ParseExportFormat(format)
	if err != nil {
		return err
	}
	return c.trail.ExportRange(ctx, audit.Range{}, f, w)
}

// EntryCount returns the number of entries in the audit trail.
func (c *Client) EntryCount() int {
	return c.trail.Len()
}

// Policy returns a copy of the effective policy.
func (c *Client) Policy() *policy.Policy {
	return c.pol.Clone()
}

// Close stops all monitoring sessions and releases the trail, notifier,
// and any Redis connection. Safe to call on a partially opened client.
func (c *Client) Close() error {
	if c.mon != nil {
		c.mon.StopAll()
	}
	var first error
	if c.trail != nil {
		if err := c.trail.Close(); err != nil {
			first = err
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.webhook != nil {
		c.webhook.Close()
	}
	return first
}
