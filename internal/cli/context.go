package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/pkg/color"
	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

// loadConfig reads the configuration, or exits with error.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmtErr("config: %v", err)
		os.Exit(1)
	}
	return cfg
}

// openTrail opens the audit trail from the config, or exits with error.
func openTrail(cfg *config.Config) *audit.Trail {
	key, err := cfg.SigningKey()
	if err != nil {
		fmtErr("signing key: %v", err)
		os.Exit(1)
	}

	trail, err := audit.Open(cfg.Audit.Dir, audit.Options{SigningKey: key})
	if err != nil {
		fmtErr("audit trail: %v", err)
		os.Exit(1)
	}
	return trail
}

// loadPolicy resolves the effective policy: an explicit flag wins over the
// configured path, and a missing file falls back to the defaults.
func loadPolicy(cfg *config.Config, flagPath string) *policy.Policy {
	path := flagPath
	if path == "" {
		path = cfg.Audit.PolicyPath
	}
	if path == "" {
		return policy.Default()
	}

	pol, err := policy.Load(path)
	if err != nil {
		fmtErr("policy: %v", err)
		os.Exit(1)
	}
	return pol
}

func fmtErr(format string, args ...any) {
	prefix := "safeguard: "
	if color.Enabled() {
		prefix = color.Error("safeguard:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

// parseTimeFlag accepts RFC3339 or plain dates.
func parseTimeFlag(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

// parseMetricsFlag parses "error_rate=0.02,latency=120" into a sample.
func parseMetricsFlag(raw string) (*model.Metrics, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	m := &model.Metrics{}
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed metric %q (want name=value)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %v", name, err)
		}
		switch model.MetricName(strings.TrimSpace(name)) {
		case model.MetricErrorRate:
			m.ErrorRate = v
		case model.MetricLatency:
			m.Latency = v
		case model.MetricMemoryUsage:
			m.MemoryUsage = v
		case model.MetricCPUUsage:
			m.CPUUsage = v
		case model.MetricFailedTests:
			m.FailedTests = int(v)
		default:
			return nil, fmt.Errorf("unknown metric %q", name)
		}
	}
	return m, nil
}
