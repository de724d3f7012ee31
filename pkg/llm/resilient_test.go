package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"foodflow/copilot/pkg/clients"
)

type flakyProvider struct {
	calls    int32
	failures int32
}

func (p *flakyProvider) Complete(ctx context.Context, _ []Message, _ []Tool) (*Completion, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if n <= p.failures {
		return nil, errors.New("rate limited")
	}
	return &Completion{Answer: "recovered", Tokens: 5}, nil
}

func TestResilientProviderRetriesTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	provider := NewResilientProvider(inner, ResilientConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})

	completion, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Answer != "recovered" {
		t.Errorf("Answer = %q", completion.Answer)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Errorf("provider calls = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestResilientProviderSurfacesExhaustedRetries(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	provider := NewResilientProvider(inner, ResilientConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})

	_, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
}

func TestResilientProviderShortCircuitsOpenBreaker(t *testing.T) {
	breaker := clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		Name:         "llm-test",
		MinRequests:  1,
		FailureRatio: 1.0,
		Timeout:      time.Minute,
	})
	inner := &flakyProvider{failures: 100}
	provider := NewResilientProvider(inner, ResilientConfig{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		Breaker:    breaker,
	})

	// Trip the breaker.
	for i := 0; i < 3 && !breaker.IsOpen(); i++ {
		_, _ = provider.Complete(context.Background(), nil, nil)
	}
	if !breaker.IsOpen() {
		t.Fatal("breaker should be open after consecutive failures")
	}

	before := atomic.LoadInt32(&inner.calls)
	_, err := provider.Complete(context.Background(), nil, nil)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if after := atomic.LoadInt32(&inner.calls); after != before {
		t.Errorf("inner provider called while circuit open (%d -> %d)", before, after)
	}
	if provider.BreakerState() != "open" {
		t.Errorf("BreakerState = %q, want open", provider.BreakerState())
	}
}

func TestResilientProviderDoesNotRetryCancelledContext(t *testing.T) {
	inner := &flakyProvider{failures: 100}
	provider := NewResilientProvider(inner, ResilientConfig{MaxRetries: 3, BaseDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Complete(ctx, nil, nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if calls := atomic.LoadInt32(&inner.calls); calls > 1 {
		t.Errorf("provider retried %d times on cancelled context", calls-1)
	}
}
