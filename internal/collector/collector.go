// Package collector samples live deployment health signals for rollback
// monitoring. The Redis-backed implementation reads metrics the deployment
// platform publishes; Static serves tests and the offline CLI path.
package collector

import (
	"context"
	"sync"

	"github.com/safeguard-project/safeguard/pkg/model"
)

// MetricCollector takes one sample of a deployment's health signals.
//
// Implementations distinguish two failure modes: errclass.ErrCollectorUnavailable
// when the sample could not be taken (the deployment may be fine), and
// errclass.ErrDeploymentGone when the platform no longer knows the deployment.
type MetricCollector interface {
	Sample(ctx context.Context, deploymentID string) (*model.Metrics, error)
}

// Func adapts a plain function into a MetricCollector.
type Func func(ctx context.Context, deploymentID string) (*model.Metrics, error)

// Sample implements MetricCollector.
func (f Func) Sample(ctx context.Context, deploymentID string) (*model.Metrics, error) {
	return f(ctx, deploymentID)
}

// Static answers every sample with a settable fixed value. Tests script it
// by flipping the value or the error between polls.
type Static struct {
	mu      sync.Mutex
	current model.Metrics
	err     error
}

// NewStatic returns a collector that answers every sample with m.
func NewStatic(m model.Metrics) *Static {
	return &Static{current: m}
}

// Set replaces the sample served to subsequent calls and clears any
// injected error.
func (s *Static) Set(m model.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = m
	s.err = nil
}

// Fail makes subsequent samples return err until Set is called again.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sample implements MetricCollector.
func (s *Static) Sample(ctx context.Context, deploymentID string) (*model.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := s.current
	return &m, nil
}
