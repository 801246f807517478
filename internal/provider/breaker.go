package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around a provider
type BreakerConfig struct {
	Name         string        `yaml:"name" mapstructure:"name"`
	MaxRequests  uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MinRequests  uint32        `yaml:"min_requests" mapstructure:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio" mapstructure:"failure_ratio"`
}

// DefaultBreakerConfig returns production defaults
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerProvider guards a SnapshotProvider with a circuit breaker. Calls
// fail fast while the breaker is open.
type BreakerProvider struct {
	inner   SnapshotProvider
	cb      *gobreaker.CircuitBreaker[any]
	name    string
	metrics *metrics.Recorder
}

// NewBreakerProvider wraps inner. logger and recorder may be nil.
func NewBreakerProvider(inner SnapshotProvider, cfg BreakerConfig, logger *logging.Logger, recorder *metrics.Recorder) *BreakerProvider {
	if cfg.Name == "" {
		cfg.Name = "snapshot-provider"
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recorder.SetBreakerState(name, stateToFloat(to))
			logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	recorder.SetBreakerState(cfg.Name, 0)

	return &BreakerProvider{
		inner:   inner,
		cb:      gobreaker.NewCircuitBreaker[any](settings),
		name:    cfg.Name,
		metrics: recorder,
	}
}

// State reports the breaker state as closed, half-open or open
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

func (b *BreakerProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*SnapshotInfo, error) {
	res, err := b.execute(func() (any, error) {
		return b.inner.CreateSnapshot(ctx, name, tags, expiresAt)
	})
	if err != nil {
		return nil, err
	}
	return res.(*SnapshotInfo), nil
}

func (b *BreakerProvider) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	res, err := b.execute(func() (any, error) {
		return b.inner.ListSnapshots(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]SnapshotInfo), nil
}

func (b *BreakerProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*RestoreResult, error) {
	res, err := b.execute(func() (any, error) {
		return b.inner.RestoreSnapshot(ctx, id, targetRef)
	})
	if err != nil {
		return nil, err
	}
	return res.(*RestoreResult), nil
}

func (b *BreakerProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	res, err := b.execute(func() (any, error) {
		return b.inner.DeleteSnapshot(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// VerifySnapshot forwards to the inner provider when it is a Verifier
func (b *BreakerProvider) VerifySnapshot(ctx context.Context, id string) (*VerificationResult, error) {
	v, ok := b.inner.(Verifier)
	if !ok {
		return nil, fmt.Errorf("provider %s cannot verify snapshots", b.name)
	}
	res, err := b.execute(func() (any, error) {
		return v.VerifySnapshot(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*VerificationResult), nil
}

// Failover forwards to the inner provider when it is a Failoverer
func (b *BreakerProvider) Failover(ctx context.Context, targetRef string) error {
	f, ok := b.inner.(Failoverer)
	if !ok {
		return fmt.Errorf("provider %s does not support failover", b.name)
	}
	_, err := b.execute(func() (any, error) {
		return nil, f.Failover(ctx, targetRef)
	})
	return err
}

// RemoveTarget forwards to the inner provider when it is a TargetRemover
func (b *BreakerProvider) RemoveTarget(ctx context.Context, targetRef string) error {
	r, ok := b.inner.(TargetRemover)
	if !ok {
		return nil
	}
	_, err := b.execute(func() (any, error) {
		return nil, r.RemoveTarget(ctx, targetRef)
	})
	return err
}

// HealthCheck fails while the breaker is open without calling the provider
func (b *BreakerProvider) HealthCheck(ctx context.Context) error {
	if b.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("provider %s circuit breaker is open", b.name)
	}
	if h, ok := b.inner.(HealthChecker); ok {
		return h.HealthCheck(ctx)
	}
	return nil
}

// Unwrap returns the guarded provider
func (b *BreakerProvider) Unwrap() SnapshotProvider {
	return b.inner
}

func (b *BreakerProvider) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		b.metrics.ObserveBreakerRequest(b.name, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.metrics.ObserveBreakerRequest(b.name, "rejected")
		return nil, fmt.Errorf("provider %s unavailable: %w", b.name, err)
	default:
		b.metrics.ObserveBreakerRequest(b.name, "failure")
	}
	return res, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
