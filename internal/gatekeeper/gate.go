// Package gatekeeper validates agent-proposed change sets against the
// safety policy. Validation is a pure function of its inputs: no I/O, no
// retained state, deterministic for identical arguments. Recording the
// outcome is the pipeline's job.
package gatekeeper

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/pathutil"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

// Parameters of the scoring signals. These are part of the signal
// definitions rather than policy knobs; only the weights are configurable.
const (
	// wideScopeDirLimit is the number of distinct top-level directories a
	// change set may span before the directory-spread signal fires.
	wideScopeDirLimit = 3
	// lowConfidenceRate and highConfidenceRate bound the agent-history
	// signals: success below the former raises risk, above the latter
	// discounts it.
	lowConfidenceRate  = 0.5
	highConfidenceRate = 0.9
)

// securityPathPatterns marks paths whose modification raises the risk score
// even when no hard rule blocks them.
var securityPathPatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/payment/**",
	"**/billing/**",
	"**/crypto/**",
	"**/*secret*",
	"**/*credential*",
	"**/*password*",
	"**/*token*",
}

// testCIPatterns marks test and CI surface, a common target for agents
// gaming their own verification.
var testCIPatterns = []string{
	"**/*_test.go",
	"**/*.test.js",
	"**/*_spec.rb",
	"**/test/**",
	"**/tests/**",
	"**/testdata/**",
	"**/.github/**",
	"**/.gitlab-ci.yml",
	"**/Jenkinsfile",
	"**/ci/**",
}

// Gatekeeper applies policy rules to change sets.
type Gatekeeper struct {
	log *logging.Logger
}

// New creates a gatekeeper.
func New(log *logging.Logger) *Gatekeeper {
	if log == nil {
		log = logging.Default()
	}
	return &Gatekeeper{log: log}
}

// Validate checks the change set against the policy snapshot. Hard rules
// (protected paths, scope limit) decide Valid; the risk score is computed
// regardless and recorded even for rejected sets. Malformed changes or a
// malformed policy fail the call instead of producing a result.
func (g *Gatekeeper) Validate(changes []model.Change, agent model.AgentDescriptor, pol *policy.Policy) (*model.ValidationResult, error) {
	if pol == nil {
		return nil, errclass.ErrInvalidInput.WithMessage("policy must not be nil")
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	normalized := make([]string, len(changes))
	for i, c := range changes {
		if err := pathutil.ValidateChangePath(c.Path); err != nil {
			return nil, err
		}
		if !c.Op.Valid() {
			return nil, errclass.ErrInvalidInput.WithMessagef("change %s: unknown operation %q", c.Path, c.Op)
		}
		normalized[i] = pathutil.NormalizeChangePath(c.Path)
	}

	result := &model.ValidationResult{Valid: true}

	// Hard rule 1: protected paths. First matching pattern wins per change;
	// patterns are evaluated in policy order.
	for i, c := range changes {
		for _, pattern := range pol.BlockedFilePatterns {
			ok, err := doublestar.Match(pattern, normalized[i])
			if err != nil {
				return nil, errclass.ErrPolicyInvalid.WithMessagef("pattern %q: %v", pattern, err)
			}
			if ok {
				result.Violations = append(result.Violations, model.Violation{
					Rule:    model.RuleProtectedPath,
					Pattern: pattern,
					Change:  c,
				})
				break
			}
		}
	}
	if n := len(result.Violations); n > 0 {
		result.Valid = false
		first := result.Violations[0]
		result.Reason = fmt.Sprintf("protected path: %s matches pattern %q", first.Change.Path, first.Pattern)
		if n > 1 {
			result.Reason += fmt.Sprintf(" (%d protected paths total)", n)
		}
	}

	// Hard rule 2: scope limit.
	if len(changes) > pol.MaxChangesPerOperation {
		result.Violations = append(result.Violations, model.Violation{Rule: model.RuleScopeLimit})
		if result.Valid {
			result.Valid = false
			result.Reason = fmt.Sprintf("scope exceeded: %d changes against a limit of %d", len(changes), pol.MaxChangesPerOperation)
		}
	}

	// Soft rule: risk scoring, always computed.
	result.RiskScore = g.score(changes, normalized, agent, pol)

	g.log.Debug("validation complete", map[string]any{
		"agent":      agent.ID,
		"changes":    len(changes),
		"valid":      result.Valid,
		"risk_score": result.RiskScore,
		"violations": len(result.Violations),
	})

	return result, nil
}

func (g *Gatekeeper) score(changes []model.Change, normalized []string, agent model.AgentDescriptor, pol *policy.Policy) float64 {
	score := 0.0

	if anyMatch(normalized, securityPathPatterns) {
		score += pol.Weight(policy.SignalSecurityPath)
	}
	if countTopLevelDirs(normalized) > wideScopeDirLimit {
		score += pol.Weight(policy.SignalDirectorySpread)
	}
	for _, c := range changes {
		if c.Op == model.OpDelete {
			score += pol.Weight(policy.SignalDeleteOperation)
			break
		}
	}
	if anyMatch(normalized, testCIPatterns) {
		score += pol.Weight(policy.SignalTestCIConfig)
	}
	if agent.SuccessRate < lowConfidenceRate {
		score += pol.Weight(policy.SignalLowConfidence)
	}
	if agent.SuccessRate > highConfidenceRate {
		score += pol.Weight(policy.SignalHighConfidence)
	}

	return clamp01(score)
}

func anyMatch(paths []string, patterns []string) bool {
	for _, p := range paths {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
	}
	return false
}

func countTopLevelDirs(paths []string) int {
	dirs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		dirs[pathutil.TopLevelDir(p)] = struct{}{}
	}
	return len(dirs)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
