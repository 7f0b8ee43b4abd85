package model

// MetricName identifies one of the surveilled deployment metrics.
type MetricName string

const (
	MetricErrorRate   MetricName = "error_rate"
	MetricLatency     MetricName = "latency"
	MetricMemoryUsage MetricName = "memory_usage"
	MetricCPUUsage    MetricName = "cpu_usage"
	MetricFailedTests MetricName = "failed_tests"
)

// AllMetrics lists the surveilled metrics in comparison order.
var AllMetrics = []MetricName{
	MetricErrorRate,
	MetricLatency,
	MetricMemoryUsage,
	MetricCPUUsage,
	MetricFailedTests,
}

// Metrics is one sample of a deployment's health signals. The same shape
// serves as baseline snapshot and live sample.
type Metrics struct {
	ErrorRate   float64 `json:"error_rate"`
	Latency     float64 `json:"latency"`
	MemoryUsage float64 `json:"memory_usage"`
	CPUUsage    float64 `json:"cpu_usage"`
	FailedTests int     `json:"failed_tests"`
}

// Value returns the sample's value for the named metric.
func (m Metrics) Value(name MetricName) float64 {
	switch name {
	case MetricErrorRate:
		return m.ErrorRate
	case MetricLatency:
		return m.Latency
	case MetricMemoryUsage:
		return m.MemoryUsage
	case MetricCPUUsage:
		return m.CPUUsage
	case MetricFailedTests:
		return float64(m.FailedTests)
	default:
		return 0
	}
}

// Absolute reports whether deltas for the metric are compared as absolute
// differences rather than percentages. Failed test counts start at zero in
// healthy deployments, so a percentage against baseline is meaningless.
func (name MetricName) Absolute() bool {
	return name == MetricFailedTests
}
