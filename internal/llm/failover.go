package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// namedService pairs a Service with a human-readable provider name for
// circuit-breaker tracking and logging.
type namedService struct {
	name    string
	service Service
}

// NamedService constructs a namedService for use with NewFailoverService.
func NamedService(name string, service Service) namedService {
	return namedService{name: name, service: service}
}

// circuitBreaker tracks failure counts and trip state for a single provider.
type circuitBreaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// FailoverService wraps a primary Service with ordered fallbacks and
// per-provider circuit breakers, implementing Service itself. It is the
// concrete mechanism behind run_dma_with_retries' ability to ride out a
// single provider outage (spec section 4.3).
type FailoverService struct {
	primary   namedService
	fallbacks []namedService
	breakers  map[string]*circuitBreaker

	mu             sync.Mutex
	threshold      int
	cooldownPeriod time.Duration
}

// NewFailoverService creates a FailoverService trying the primary first,
// then each fallback in order. The breaker trips after threshold consecutive
// failures and resets after cooldown elapses.
func NewFailoverService(primary namedService, fallbacks []namedService, threshold int, cooldown time.Duration) *FailoverService {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	breakers := make(map[string]*circuitBreaker)
	breakers[primary.name] = &circuitBreaker{}
	for _, fb := range fallbacks {
		breakers[fb.name] = &circuitBreaker{}
	}
	return &FailoverService{primary: primary, fallbacks: fallbacks, breakers: breakers, threshold: threshold, cooldownPeriod: cooldown}
}

// CallStructured tries the primary, then each fallback, skipping any whose
// breaker is tripped.
func (fb *FailoverService) CallStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	candidates := append([]namedService{fb.primary}, fb.fallbacks...)
	var lastErr error

	for _, c := range candidates {
		if fb.isTripped(c.name) {
			slog.Info("llm failover: skipping tripped provider", "provider", c.name)
			continue
		}
		resp, err := c.service.CallStructured(ctx, req)
		if err == nil {
			fb.recordSuccess(c.name)
			return resp, nil
		}
		lastErr = err
		fb.recordFailure(c.name)
		slog.Warn("llm failover: provider failed", "provider", c.name, "error", err)
	}

	return nil, fmt.Errorf("llm failover: all providers failed, last error: %w", lastErr)
}

func (fb *FailoverService) isTripped(name string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	cb, ok := fb.breakers[name]
	if !ok || !cb.tripped {
		return false
	}
	if time.Since(cb.lastFailure) >= fb.cooldownPeriod {
		cb.tripped = false
		cb.failures = 0
		slog.Info("llm failover: circuit breaker reset after cooldown", "provider", name)
		return false
	}
	return true
}

func (fb *FailoverService) recordFailure(name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	cb, ok := fb.breakers[name]
	if !ok {
		cb = &circuitBreaker{}
		fb.breakers[name] = cb
	}
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= fb.threshold {
		cb.tripped = true
		slog.Warn("llm failover: circuit breaker tripped", "provider", name, "failures", cb.failures)
	}
}

func (fb *FailoverService) recordSuccess(name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	cb, ok := fb.breakers[name]
	if !ok {
		return
	}
	cb.failures = 0
	cb.tripped = false
}
