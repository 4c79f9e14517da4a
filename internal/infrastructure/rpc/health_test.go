package rpc

import (
	"math"
	"testing"
	"time"
)

func newTestTracker(cooldown time.Duration) (*HealthTracker, *time.Time) {
	tracker := NewHealthTracker(cooldown)
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }
	return tracker, &current
}

func TestHealthTracker_FreshEndpointScoresFull(t *testing.T) {
	tracker, _ := newTestTracker(0)
	score := tracker.Score("node-a")
	if score != 100 {
		t.Errorf("fresh endpoint score = %v, want 100", score)
	}
}

func TestHealthTracker_ScoreWeights(t *testing.T) {
	tracker, _ := newTestTracker(0)

	// 3 successes, 1 failure, latency settles around the EMA
	tracker.RecordSuccess("node-a", 500*time.Millisecond)
	tracker.RecordSuccess("node-a", 500*time.Millisecond)
	tracker.RecordSuccess("node-a", 500*time.Millisecond)
	tracker.RecordFailure("node-a", KindProvider, 0)

	h := tracker.Snapshot("node-a")
	if h.AvgLatencyMs != 500 {
		t.Fatalf("avg latency = %v, want 500", h.AvgLatencyMs)
	}

	// success 0.75*50 + latency (1/1.5)*30 + no rate limit 20
	want := 0.75*50 + (1.0/1.5)*30 + 20
	got := tracker.Score("node-a")
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestHealthTracker_LatencyEMA(t *testing.T) {
	tracker, _ := newTestTracker(0)

	tracker.RecordSuccess("node-a", 1000*time.Millisecond)
	tracker.RecordSuccess("node-a", 500*time.Millisecond)

	h := tracker.Snapshot("node-a")
	want := 1000*0.8 + 500*0.2
	if math.Abs(h.AvgLatencyMs-want) > 1e-9 {
		t.Errorf("avg latency = %v, want %v", h.AvgLatencyMs, want)
	}
}

func TestHealthTracker_RateLimitCooldown(t *testing.T) {
	tracker, current := newTestTracker(30 * time.Second)

	tracker.RecordFailure("node-a", KindRateLimited, 0)
	if tracker.Available("node-a") {
		t.Error("endpoint should be cooling down right after a rate limit")
	}

	*current = current.Add(10 * time.Second)
	if tracker.Available("node-a") {
		t.Error("endpoint should still be cooling down at 10s")
	}

	*current = current.Add(25 * time.Second)
	if !tracker.Available("node-a") {
		t.Error("endpoint should be available after the cooldown elapses")
	}
}

func TestHealthTracker_RateLimitZeroesScoreComponent(t *testing.T) {
	tracker, current := newTestTracker(30 * time.Second)

	tracker.RecordSuccess("node-a", 0)
	before := tracker.Score("node-a")
	tracker.RecordFailure("node-a", KindRateLimited, 0)
	during := tracker.Score("node-a")
	if during >= before {
		t.Errorf("score during cooldown (%v) should drop below pre-limit score (%v)", during, before)
	}

	*current = current.Add(time.Minute)
	after := tracker.Score("node-a")
	if after <= during {
		t.Error("score should recover once the cooldown passes")
	}
}

func TestHealthTracker_CircuitBreaker(t *testing.T) {
	tracker, current := newTestTracker(0)

	for i := 0; i < circuitBreakerThreshold; i++ {
		tracker.RecordFailure("node-a", KindProvider, 0)
	}
	if tracker.Available("node-a") {
		t.Fatal("endpoint should be out of rotation after consecutive failures")
	}

	*current = current.Add(circuitBreakerTimeout + time.Second)
	if !tracker.Available("node-a") {
		t.Fatal("breaker should go half-open after the timeout")
	}
	// only a single probe is admitted while half-open
	if tracker.Available("node-a") {
		t.Error("second caller should be held out while the probe is in flight")
	}

	tracker.RecordSuccess("node-a", time.Millisecond)
	if !tracker.Available("node-a") {
		t.Error("a successful probe should close the breaker")
	}
}

func TestHealthTracker_SuccessResetsConsecutiveFailures(t *testing.T) {
	tracker, _ := newTestTracker(0)

	for i := 0; i < circuitBreakerThreshold-1; i++ {
		tracker.RecordFailure("node-a", KindProvider, 0)
	}
	tracker.RecordSuccess("node-a", time.Millisecond)
	tracker.RecordFailure("node-a", KindProvider, 0)

	if !tracker.Available("node-a") {
		t.Error("failure streak should restart after a success")
	}
}

func TestHealthTracker_LearnsRangeLimit(t *testing.T) {
	tracker, _ := newTestTracker(0)

	tracker.RecordFailure("node-a", KindRangeTooLarge, 10000)
	if got := tracker.LearnedMaxRange("node-a"); got != 5000 {
		t.Errorf("learned range = %d, want 5000", got)
	}

	// learning only shrinks
	tracker.RecordFailure("node-a", KindRangeTooLarge, 100000)
	if got := tracker.LearnedMaxRange("node-a"); got != 5000 {
		t.Errorf("learned range = %d, want 5000 (must not grow)", got)
	}

	tracker.RecordFailure("node-a", KindRangeTooLarge, 2000)
	if got := tracker.LearnedMaxRange("node-a"); got != 1000 {
		t.Errorf("learned range = %d, want 1000", got)
	}

	// floor
	tracker.RecordFailure("node-a", KindRangeTooLarge, 50)
	if got := tracker.LearnedMaxRange("node-a"); got != minLearnedRange {
		t.Errorf("learned range = %d, want floor %d", got, minLearnedRange)
	}
}
