package collector

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// DefaultKeyPrefix namespaces safeguard keys in a shared Redis.
const DefaultKeyPrefix = "safeguard:"

// RedisConfig controls redis client behavior. Defaults are safe and
// conservative.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix prepends every key; DefaultKeyPrefix when empty.
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize     int
	MinIdleConns int

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.KeyPrefix == "" {
		out.KeyPrefix = DefaultKeyPrefix
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Redis samples metrics published by the deployment platform. The platform
// registers a deployment under <prefix>deploy:<id> and keeps its latest
// sample in the hash <prefix>metrics:<id>.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects a client and validates connectivity with a ping.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errclass.ErrCollectorUnavailable.WithMessagef("redis ping failed: %v", err)
	}
	return &Redis{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of the
// client's lifecycle.
func NewRedis(rdb *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Redis{rdb: rdb, prefix: keyPrefix}
}

func (r *Redis) deployKey(id string) string  { return r.prefix + "deploy:" + id }
func (r *Redis) metricsKey(id string) string { return r.prefix + "metrics:" + id }

// Sample implements MetricCollector against the published hash.
func (r *Redis) Sample(ctx context.Context, deploymentID string) (*model.Metrics, error) {
	if deploymentID == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("deployment id must not be empty")
	}

	n, err := r.rdb.Exists(ctx, r.deployKey(deploymentID)).Result()
	if err != nil {
		return nil, errclass.ErrCollectorUnavailable.WithMessagef("check deployment %s: %v", deploymentID, err)
	}
	if n == 0 {
		return nil, errclass.ErrDeploymentGone.WithMessagef("deployment %s is not registered", deploymentID)
	}

	fields, err := r.rdb.HGetAll(ctx, r.metricsKey(deploymentID)).Result()
	if err != nil {
		return nil, errclass.ErrCollectorUnavailable.WithMessagef("read metrics for %s: %v", deploymentID, err)
	}
	if len(fields) == 0 {
		return nil, errclass.ErrCollectorUnavailable.WithMessagef("deployment %s has published no metrics", deploymentID)
	}

	return parseMetrics(fields)
}

// Register marks a deployment as live so monitors can distinguish a slow
// publisher from a torn-down deployment. A zero ttl registers forever.
func (r *Redis) Register(ctx context.Context, deploymentID string, ttl time.Duration) error {
	if deploymentID == "" {
		return errclass.ErrInvalidInput.WithMessage("deployment id must not be empty")
	}
	if err := r.rdb.Set(ctx, r.deployKey(deploymentID), "1", ttl).Err(); err != nil {
		return errclass.ErrCollectorUnavailable.WithMessagef("register deployment %s: %v", deploymentID, err)
	}
	return nil
}

// Publish stores a sample for the deployment. Used by the platform side
// and by the CLI demo path.
func (r *Redis) Publish(ctx context.Context, deploymentID string, m model.Metrics) error {
	if deploymentID == "" {
		return errclass.ErrInvalidInput.WithMessage("deployment id must not be empty")
	}
	fields := map[string]any{
		string(model.MetricErrorRate):   m.ErrorRate,
		string(model.MetricLatency):     m.Latency,
		string(model.MetricMemoryUsage): m.MemoryUsage,
		string(model.MetricCPUUsage):    m.CPUUsage,
		string(model.MetricFailedTests): m.FailedTests,
	}
	if err := r.rdb.HSet(ctx, r.metricsKey(deploymentID), fields).Err(); err != nil {
		return errclass.ErrCollectorUnavailable.WithMessagef("publish metrics for %s: %v", deploymentID, err)
	}
	return nil
}

// Deregister removes the registration and the published metrics.
func (r *Redis) Deregister(ctx context.Context, deploymentID string) error {
	if deploymentID == "" {
		return errclass.ErrInvalidInput.WithMessage("deployment id must not be empty")
	}
	if err := r.rdb.Del(ctx, r.deployKey(deploymentID), r.metricsKey(deploymentID)).Err(); err != nil {
		return errclass.ErrCollectorUnavailable.WithMessagef("deregister deployment %s: %v", deploymentID, err)
	}
	return nil
}

// Ping reports whether the backing Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return errclass.ErrCollectorUnavailable.WithMessagef("redis ping failed: %v", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// parseMetrics decodes a metrics hash. Unknown fields are ignored so the
// platform can publish extra signals without breaking older monitors.
func parseMetrics(fields map[string]string) (*model.Metrics, error) {
	var m model.Metrics
	for name, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errclass.ErrCollectorUnavailable.WithMessagef("metric %s: bad value %q", name, raw)
		}
		switch model.MetricName(name) {
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
		}
	}
	return &m, nil
}
