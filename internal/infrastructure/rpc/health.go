package rpc

import (
	"sync"
	"time"
)

const (
	// scoring weights
	successWeight   = 50.0
	latencyWeight   = 30.0
	rateLimitWeight = 20.0

	// EMA smoothing for observed latency
	latencyKeepFactor = 0.8
	latencyNewFactor  = 0.2

	// consecutive failures before an endpoint is taken out of rotation
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 60 * time.Second

	// minimum learned range limit after repeated range errors
	minLearnedRange = 100

	// DefaultRateLimitCooldown is how long an endpoint sits out after a
	// throttling response
	DefaultRateLimitCooldown = 30 * time.Second
)

// EndpointHealth is the mutable health state of a single endpoint
type EndpointHealth struct {
	SuccessCount         uint64    `json:"success_count"`
	FailureCount         uint64    `json:"failure_count"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	AvgLatencyMs         float64   `json:"avg_latency_ms"`
	LastRateLimitedAt    time.Time `json:"last_rate_limited_at"`
	LastFailureAt        time.Time `json:"last_failure_at"`
	LearnedMaxRange      uint64    `json:"learned_max_range"`
	circuitProbeDeadline time.Time
}

// Score computes a 0-100 fitness value. Success rate dominates, observed
// latency and recent throttling discount the rest.
func (h *EndpointHealth) Score(now time.Time, cooldown time.Duration) float64 {
	total := h.SuccessCount + h.FailureCount
	successRate := 1.0
	if total > 0 {
		successRate = float64(h.SuccessCount) / float64(total)
	}

	latencyFactor := 1.0
	if h.AvgLatencyMs > 0 {
		latencyFactor = 1.0 / (1.0 + h.AvgLatencyMs/1000.0)
	}

	rateLimitFactor := 1.0
	if !h.LastRateLimitedAt.IsZero() && now.Sub(h.LastRateLimitedAt) < cooldown {
		rateLimitFactor = 0.0
	}

	return successRate*successWeight + latencyFactor*latencyWeight + rateLimitFactor*rateLimitWeight
}

// HealthTracker records per-endpoint outcomes and answers availability
// questions for the pool. All methods are safe for concurrent use.
type HealthTracker struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointHealth
	cooldown  time.Duration

	// injectable clock
	now func() time.Time
}

// NewHealthTracker creates a tracker with the given rate-limit cooldown
func NewHealthTracker(cooldown time.Duration) *HealthTracker {
	if cooldown <= 0 {
		cooldown = DefaultRateLimitCooldown
	}
	return &HealthTracker{
		endpoints: make(map[string]*EndpointHealth),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (t *HealthTracker) get(id string) *EndpointHealth {
	h, ok := t.endpoints[id]
	if !ok {
		h = &EndpointHealth{}
		t.endpoints[id] = h
	}
	return h
}

// RecordSuccess registers a successful call and folds the observed latency
// into the moving average
func (t *HealthTracker) RecordSuccess(id string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(id)
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.circuitProbeDeadline = time.Time{}

	ms := float64(latency.Milliseconds())
	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = ms
	} else {
		h.AvgLatencyMs = h.AvgLatencyMs*latencyKeepFactor + ms*latencyNewFactor
	}
}

// RecordFailure registers a failed call. Rate limits additionally start the
// cooldown window; range errors teach the tracker a smaller usable range.
func (t *HealthTracker) RecordFailure(id string, kind ErrorKind, requestedRange uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(id)
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailureAt = t.now()

	switch kind {
	case KindRateLimited:
		h.LastRateLimitedAt = t.now()
	case KindRangeTooLarge:
		if requestedRange > 0 {
			learned := requestedRange / 2
			if learned < minLearnedRange {
				learned = minLearnedRange
			}
			if h.LearnedMaxRange == 0 || learned < h.LearnedMaxRange {
				h.LearnedMaxRange = learned
			}
		}
	}
}

// Available reports whether the endpoint may serve traffic right now.
// Endpoints past the circuit breaker threshold are held out until the
// breaker timeout elapses, after which a single probe is allowed through.
func (t *HealthTracker) Available(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(id)
	now := t.now()

	if !h.LastRateLimitedAt.IsZero() && now.Sub(h.LastRateLimitedAt) < t.cooldown {
		return false
	}

	if h.ConsecutiveFailures >= circuitBreakerThreshold {
		if now.Sub(h.LastFailureAt) < circuitBreakerTimeout {
			return false
		}
		// half-open: admit one probe, extend the deadline so a second
		// caller does not pile on before the probe resolves
		if h.circuitProbeDeadline.After(now) {
			return false
		}
		h.circuitProbeDeadline = now.Add(circuitBreakerTimeout)
	}

	return true
}

// Score returns the current fitness value for the endpoint
func (t *HealthTracker) Score(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id).Score(t.now(), t.cooldown)
}

// LearnedMaxRange returns the range limit learned from provider errors,
// or zero if none has been observed
func (t *HealthTracker) LearnedMaxRange(id string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id).LearnedMaxRange
}

// Snapshot returns a copy of the health state for one endpoint
func (t *HealthTracker) Snapshot(id string) EndpointHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.get(id)
}
