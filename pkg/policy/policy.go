// Package policy defines the safety policy consumed by the gatekeeper and
// the rollback monitor. A Policy is an explicit value threaded through every
// call; nothing in this package holds mutable global state.
package policy

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/fsutil"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// RiskSignal names one observed risk factor of a change set.
type RiskSignal string

const (
	SignalSecurityPath    RiskSignal = "security_path"
	SignalDirectorySpread RiskSignal = "directory_spread"
	SignalDeleteOperation RiskSignal = "delete_operation"
	SignalTestCIConfig    RiskSignal = "test_ci_config"
	SignalLowConfidence   RiskSignal = "low_confidence_agent"
	SignalHighConfidence  RiskSignal = "high_confidence_agent"
)

// RiskWeights maps risk signals to their score contribution. Weights may be
// negative; the high-confidence signal is a discount.
type RiskWeights map[RiskSignal]float64

// RollbackThresholds maps metrics to their maximum tolerated delta against
// baseline. Values are fractions of baseline (0.5 = 50% increase) for rate
// metrics and absolute differences for count metrics such as failed tests.
type RollbackThresholds map[model.MetricName]float64

// Policy is the enumerated safety configuration.
type Policy struct {
	BlockedFilePatterns     []string           `yaml:"blocked_file_patterns"`
	MaxChangesPerOperation  int                `yaml:"max_changes_per_operation"`
	RiskWeights             RiskWeights        `yaml:"risk_weights"`
	RollbackThresholds      RollbackThresholds `yaml:"rollback_thresholds"`
	MonitoringWindowMs      int64              `yaml:"monitoring_window_ms"`
	PollIntervalMs          int64              `yaml:"poll_interval_ms"`
	HighRiskNotifyThreshold float64            `yaml:"high_risk_notify_threshold"`
}

// Default returns the default policy.
func Default() *Policy {
	return &Policy{
		BlockedFilePatterns: []string{
			// dependency manifests and lock files
			"package.json",
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			"go.mod",
			"go.sum",
			"requirements.txt",
			"Pipfile.lock",
			"Gemfile.lock",
			"Cargo.lock",
			// secrets and credentials
			".env",
			".env.*",
			"**/.env",
			"**/*.pem",
			"**/*.key",
			"**/secrets/**",
			"**/credentials/**",
			// sensitive application areas
			"**/auth/**",
			"**/payment/**",
			"**/billing/**",
			// CI configuration
			".github/workflows/**",
			".gitlab-ci.yml",
			"Jenkinsfile",
		},
		MaxChangesPerOperation: 50,
		RiskWeights: RiskWeights{
			SignalSecurityPath:    0.3,
			SignalDirectorySpread: 0.2,
			SignalDeleteOperation: 0.15,
			SignalTestCIConfig:    0.1,
			SignalLowConfidence:   0.2,
			SignalHighConfidence:  -0.1,
		},
		RollbackThresholds: RollbackThresholds{
			model.MetricErrorRate:   0.5,
			model.MetricLatency:     0.5,
			model.MetricMemoryUsage: 0.3,
			model.MetricCPUUsage:    0.3,
			model.MetricFailedTests: 0,
		},
		MonitoringWindowMs:      300_000,
		PollIntervalMs:          5_000,
		HighRiskNotifyThreshold: 0.7,
	}
}

// Load reads a policy file and merges it over the defaults. A missing file
// is not an error; the defaults are returned. Map-valued options merge key
// by key, so a file may override a single threshold without restating the
// rest.
func Load(path string) (*Policy, error) {
	pol := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pol, nil
	}
	if err != nil {
		return nil, errclass.ErrPolicyInvalid.WithMessagef("read policy: %v", err)
	}

	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, errclass.ErrPolicyInvalid.WithMessagef("parse policy: %v", err)
	}

	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return pol, nil
}

// Save writes the policy to a YAML file, creating parent directories.
func Save(path string, pol *Policy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("create policy dir: %v", err)
	}

	data, err := yaml.Marshal(pol)
	if err != nil {
		return errclass.ErrStorageFailure.WithMessagef("marshal policy: %v", err)
	}

	if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
		return errclass.ErrStorageFailure.WithMessagef("write policy: %v", err)
	}
	return nil
}

// Validate checks the policy for malformed values.
func (p *Policy) Validate() error {
	if p.MaxChangesPerOperation <= 0 {
		return errclass.ErrPolicyInvalid.WithMessagef("max_changes_per_operation must be positive, got %d", p.MaxChangesPerOperation)
	}
	if p.MonitoringWindowMs <= 0 {
		return errclass.ErrPolicyInvalid.WithMessagef("monitoring_window_ms must be positive, got %d", p.MonitoringWindowMs)
	}
	if p.PollIntervalMs <= 0 {
		return errclass.ErrPolicyInvalid.WithMessagef("poll_interval_ms must be positive, got %d", p.PollIntervalMs)
	}
	if p.PollIntervalMs > p.MonitoringWindowMs {
		return errclass.ErrPolicyInvalid.WithMessage("poll_interval_ms must not exceed monitoring_window_ms")
	}
	if p.HighRiskNotifyThreshold < 0 || p.HighRiskNotifyThreshold > 1 {
		return errclass.ErrPolicyInvalid.WithMessagef("high_risk_notify_threshold must be in [0,1], got %g", p.HighRiskNotifyThreshold)
	}

	for _, pattern := range p.BlockedFilePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return errclass.ErrPolicyInvalid.WithMessagef("invalid glob pattern: %s", pattern)
		}
	}

	for metric, threshold := range p.RollbackThresholds {
		if threshold < 0 {
			return errclass.ErrPolicyInvalid.WithMessagef("rollback threshold for %s must not be negative, got %g", metric, threshold)
		}
	}

	return nil
}

// Clone returns a deep copy. Gatekeeper results must be a pure function of
// the policy snapshot they were given, so sharing maps across goroutines is
// not allowed.
func (p *Policy) Clone() *Policy {
	c := *p
	c.BlockedFilePatterns = append([]string(nil), p.BlockedFilePatterns...)
	c.RiskWeights = make(RiskWeights, len(p.RiskWeights))
	for k, v := range p.RiskWeights {
		c.RiskWeights[k] = v
	}
	c.RollbackThresholds = make(RollbackThresholds, len(p.RollbackThresholds))
	for k, v := range p.RollbackThresholds {
		c.RollbackThresholds[k] = v
	}
	return &c
}

// Weight returns the configured weight for a signal, falling back to the
// default when the policy omits it.
func (p *Policy) Weight(signal RiskSignal) float64 {
	if w, ok := p.RiskWeights[signal]; ok {
		return w
	}
	return Default().RiskWeights[signal]
}

// MonitoringWindow returns the session window as a duration.
func (p *Policy) MonitoringWindow() time.Duration {
	return time.Duration(p.MonitoringWindowMs) * time.Millisecond
}

// PollEvery returns the polling interval as a duration.
func (p *Policy) PollEvery() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}
