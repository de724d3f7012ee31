package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"foodflow/copilot/pkg/clients"
	"foodflow/copilot/pkg/logging"
)

// ErrProviderUnavailable is returned when the provider circuit is open and
// calls are short-circuited without touching the remote endpoint.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ResilientConfig tunes the retry and circuit breaker behaviour around a
// Provider. Zero values fall back to defaults.
type ResilientConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Breaker    *clients.CircuitBreaker
	Logger     logging.Logger
}

const (
	defaultProviderRetries = 2
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxDelay   = 5 * time.Second
)

// ResilientProvider wraps a Provider with exponential-backoff retries and an
// observable circuit breaker. An open circuit fails calls immediately so the
// caller's wall-clock budget is not spent on retry latency during a sustained
// outage.
type ResilientProvider struct {
	inner   Provider
	breaker *clients.CircuitBreaker
	retry   retrypolicy.RetryPolicy[*Completion]
	logger  logging.Logger
}

func NewResilientProvider(inner Provider, cfg ResilientConfig) *ResilientProvider {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		maxRetries = defaultProviderRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	retry := retrypolicy.NewBuilder[*Completion]().
		WithBackoff(baseDelay, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *Completion, err error) bool {
			if err == nil {
				return false
			}
			// An open breaker or a cancelled context will not recover
			// within this request; do not burn delay on them.
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return true
		}).
		Build()

	return &ResilientProvider{
		inner:   inner,
		breaker: cfg.Breaker,
		retry:   retry,
		logger:  cfg.Logger,
	}
}

func (p *ResilientProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error) {
	if p.breaker != nil && p.breaker.IsOpen() {
		return nil, fmt.Errorf("%w: circuit open", ErrProviderUnavailable)
	}

	completion, err := failsafe.With(p.retry).WithContext(ctx).Get(func() (*Completion, error) {
		return p.complete(ctx, messages, tools)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%w: circuit open", ErrProviderUnavailable)
		}
		if p.logger != nil {
			p.logger.WithError(err).Warn("LLM call failed after retries")
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return completion, nil
}

func (p *ResilientProvider) complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error) {
	if p.breaker == nil {
		return p.inner.Complete(ctx, messages, tools)
	}
	value, err := p.breaker.Execute(func() (any, error) {
		return p.inner.Complete(ctx, messages, tools)
	})
	if err != nil {
		return nil, err
	}
	completion, ok := value.(*Completion)
	if !ok {
		return nil, errors.New("llm: unexpected completion type")
	}
	return completion, nil
}

// BreakerState exposes the wrapped circuit breaker state for health checks.
// Returns "closed" when no breaker is configured.
func (p *ResilientProvider) BreakerState() string {
	if p.breaker == nil {
		return clients.StateClosed.String()
	}
	return p.breaker.State().String()
}
