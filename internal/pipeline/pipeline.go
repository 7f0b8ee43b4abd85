// Package pipeline is the single entry point agents call with proposed
// changes. It runs validation, records the verdict in the audit trail, and
// on approval hands the deployment to the rollback monitor. The audit write
// sits between validation and monitoring on purpose: an approval that was
// never durably recorded is not an approval, and a validation entry must
// exist before any incident for the same deployment can.
package pipeline

import (
	"context"
	"time"

	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

// maxAuditedChanges caps how many individual changes a validation entry
// lists. The full count is always recorded.
const maxAuditedChanges = 100

// Recorder is the slice of the audit trail the pipeline writes through.
type Recorder interface {
	Append(ctx context.Context, entry *model.AuditEntry) (string, error)
}

// Validator is the gatekeeper surface the pipeline consumes.
type Validator interface {
	Validate(changes []model.Change, agent model.AgentDescriptor, pol *policy.Policy) (*model.ValidationResult, error)
}

// SessionStarter is the monitor surface the pipeline consumes.
type SessionStarter interface {
	Start(ctx context.Context, opts monitor.StartOptions) (*monitor.Session, error)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Trail      Recorder
	Gatekeeper Validator
	// Monitor may be nil for validate-only deployments of the pipeline;
	// sessions are then never started.
	Monitor  SessionStarter
	Policy   *policy.Policy
	Logger   *logging.Logger
	Registry *metrics.Registry
	// Clock stamps audit entries; defaults to time.Now.
	Clock func() time.Time
}

// Options adjusts one ProcessAgentChanges call.
type Options struct {
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
	Session      *monitor.Session
	DeploymentID string
}

// Pipeline orchestrates gatekeeper, trail, and monitor.
type Pipeline struct {
	trail   Recorder
	gate    Validator
	monitor SessionStarter
	policy  *policy.Policy
	log     *logging.Logger
	reg     *metrics.Registry
	clock   func() time.Time
}

// New builds a pipeline. Trail, Gatekeeper, and a valid Policy are
// required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Trail == nil {
		return nil, errclass.ErrInvalidInput.WithMessage("pipeline requires an audit trail")
	}
	if cfg.Gatekeeper == nil {
		return nil, errclass.ErrInvalidInput.WithMessage("pipeline requires a gatekeeper")
	}
	if cfg.Policy == nil {
		return nil, errclass.ErrInvalidInput.WithMessage("pipeline requires a policy")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Pipeline{
		trail:   cfg.Trail,
		gate:    cfg.Gatekeeper,
		monitor: cfg.Monitor,
		policy:  cfg.Policy.Clone(),
		log:     cfg.Logger,
		reg:     cfg.Registry,
		clock:   cfg.Clock,
	}, nil
}

// Policy returns the policy snapshot the pipeline validates against.
func (p *Pipeline) Policy() *policy.Policy {
	return p.policy.Clone()
}

// ProcessAgentChanges validates the change set, records the verdict, and on
// approval starts a monitoring session. The call returns once the verdict
// is durable and the session (if any) is registered; polling proceeds in
// the background. On monitor start failure the recorded approval stands and
// the result is returned alongside the error.
func (p *Pipeline) ProcessAgentChanges(ctx context.Context, changes []model.Change, agent model.AgentDescriptor, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	validation, err := p.gate.Validate(changes, agent, p.policy)
	if err != nil {
		return nil, err
	}
	if p.reg != nil {
		p.reg.RecordValidation(validation.Valid)
	}

	if !validation.Valid {
		entry := p.validationEntry(changes, agent, validation, "", opts.Version)
		if _, err := p.trail.Append(ctx, entry); err != nil {
			return nil, err
		}
		p.log.Info("changes rejected", map[string]any{
			"agent":      agent.ID,
			"changes":    len(changes),
			"reason":     validation.Reason,
			"risk_score": validation.RiskScore,
		})
		return &Result{Accepted: false, Validation: validation, Entry: entry}, nil
	}

	deploymentID := ""
	monitoring := !opts.SkipMonitoring && p.monitor != nil
	if monitoring {
		deploymentID = model.NewDeploymentID(opts.Version)
	}

	entry := p.validationEntry(changes, agent, validation, deploymentID, opts.Version)
	if _, err := p.trail.Append(ctx, entry); err != nil {
		// An approval that could not be recorded must never take effect.
		return nil, err
	}

	res := &Result{
		Accepted:     true,
		Validation:   validation,
		Entry:        entry,
		DeploymentID: deploymentID,
	}

	if !monitoring {
		p.log.Info("changes accepted", map[string]any{
			"agent":      agent.ID,
			"changes":    len(changes),
			"risk_score": validation.RiskScore,
			"monitoring": false,
		})
		return res, nil
	}

	session, err := p.monitor.Start(ctx, monitor.StartOptions{
		DeploymentID: deploymentID,
		Version:      opts.Version,
		Agent:        agent,
		Baseline:     opts.Baseline,
		Thresholds:   p.policy.RollbackThresholds,
		Window:       p.policy.MonitoringWindow(),
		PollInterval: p.policy.PollEvery(),
	})
	if err != nil {
		p.log.ErrorErr("monitoring failed to start", err, map[string]any{
			"deployment_id": deploymentID,
		})
		return res, err
	}
	res.Session = session

	p.log.Info("changes accepted", map[string]any{
		"agent":         agent.ID,
		"changes":       len(changes),
		"risk_score":    validation.RiskScore,
		"deployment_id": deploymentID,
	})
	return res, nil
}

func (p *Pipeline) validationEntry(changes []model.Change, agent model.AgentDescriptor, validation *model.ValidationResult, deploymentID, version string) *model.AuditEntry {
	recorded := changes
	truncated := false
	if len(recorded) > maxAuditedChanges {
		recorded = recorded[:maxAuditedChanges]
		truncated = true
	}
	listed := make([]map[string]any, len(recorded))
	for i, c := range recorded {
		listed[i] = map[string]any{"path": c.Path, "operation": string(c.Op)}
	}

	payload := map[string]any{
		"valid":        validation.Valid,
		"reason":       validation.Reason,
		"change_count": len(changes),
		"changes":      listed,
	}
	if truncated {
		payload["changes_truncated"] = true
	}
	if len(validation.Violations) > 0 {
		violations := make([]map[string]any, len(validation.Violations))
		for i, v := range validation.Violations {
			violations[i] = map[string]any{
				"rule":    string(v.Rule),
				"pattern": v.Pattern,
				"path":    v.Change.Path,
			}
		}
		payload["violations"] = violations
	}
	if deploymentID != "" {
		payload["deployment_id"] = deploymentID
	}
	if version != "" {
		payload["version"] = version
	}

	return model.NewAuditEntry(p.clock(), agent, model.EventValidation, payload, validation.RiskScore)
}
