package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
	"github.com/bimakw/log-harvester/internal/testutil"
)

func newTestPool(t *testing.T, endpoints ...entities.Endpoint) (*Pool, *HealthTracker, map[string]*testutil.MockChainClient) {
	t.Helper()

	chains := make(map[string]*testutil.MockChainClient, len(endpoints))
	clients := make([]*Client, 0, len(endpoints))
	for _, ep := range endpoints {
		chain := testutil.NewMockChainClient()
		chains[ep.ID] = chain
		clients = append(clients, NewClient(ep, chain, zap.NewNop()))
	}

	health := NewHealthTracker(30 * time.Second)
	pool := NewPool(clients, health, zap.NewNop())
	return pool, health, chains
}

func enabledEndpoint(id string) entities.Endpoint {
	return entities.Endpoint{ID: id, URL: "http://" + id + ".example", Enabled: true}
}

func TestPool_SelectFiltersByCapability(t *testing.T) {
	archive := enabledEndpoint("archive")
	archive.IsArchive = true
	debug := enabledEndpoint("debug")
	debug.HasDebug = true
	plain := enabledEndpoint("plain")

	pool, _, _ := newTestPool(t, archive, debug, plain)

	client, err := pool.Select(Requirements{Archive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Endpoint().ID != "archive" {
		t.Errorf("selected %s, want archive", client.Endpoint().ID)
	}

	client, err = pool.Select(Requirements{Debug: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Endpoint().ID != "debug" {
		t.Errorf("selected %s, want debug", client.Endpoint().ID)
	}
}

func TestPool_SelectNoEligible(t *testing.T) {
	plain := enabledEndpoint("plain")
	pool, _, _ := newTestPool(t, plain)

	_, err := pool.Select(Requirements{Archive: true})
	if !errors.Is(err, ErrNoEligibleEndpoint) {
		t.Fatalf("expected ErrNoEligibleEndpoint, got %v", err)
	}
}

func TestPool_SelectSkipsDisabled(t *testing.T) {
	a := enabledEndpoint("a")
	b := enabledEndpoint("b")
	pool, _, _ := newTestPool(t, a, b)

	pool.SetEnabled("a", false)
	for i := 0; i < 5; i++ {
		client, err := pool.Select(Requirements{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.Endpoint().ID != "b" {
			t.Errorf("selected disabled endpoint %s", client.Endpoint().ID)
		}
	}
}

func TestPool_SelectPrefersHealthier(t *testing.T) {
	good := enabledEndpoint("good")
	bad := enabledEndpoint("bad")
	pool, _, _ := newTestPool(t, good, bad)

	// bad accumulates failures but stays below the breaker threshold
	for i := 0; i < 3; i++ {
		pool.ReportOutcome("bad", Outcome{Err: errors.New("boom")})
		pool.ReportOutcome("bad", Outcome{Latency: 10 * time.Millisecond})
	}
	pool.ReportOutcome("good", Outcome{Latency: 10 * time.Millisecond})

	for i := 0; i < 5; i++ {
		client, err := pool.Select(Requirements{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.Endpoint().ID != "good" {
			t.Errorf("selected %s, want good", client.Endpoint().ID)
		}
	}
}

func TestPool_SelectRoundRobinOnTie(t *testing.T) {
	a := enabledEndpoint("a")
	b := enabledEndpoint("b")
	pool, _, _ := newTestPool(t, a, b)

	seen := make(map[string]int)
	for i := 0; i < 10; i++ {
		client, err := pool.Select(Requirements{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[client.Endpoint().ID]++
	}
	if seen["a"] != 5 || seen["b"] != 5 {
		t.Errorf("tie break did not alternate: %v", seen)
	}
}

func TestPool_RateLimitedEndpointSitsOut(t *testing.T) {
	a := enabledEndpoint("a")
	b := enabledEndpoint("b")
	pool, _, _ := newTestPool(t, a, b)

	pool.ReportOutcome("a", Outcome{Err: errors.New("429 too many requests")})

	for i := 0; i < 5; i++ {
		client, err := pool.Select(Requirements{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.Endpoint().ID == "a" {
			t.Fatal("rate limited endpoint selected during cooldown")
		}
	}
}

func TestPool_AllEndpointsCoolingDown(t *testing.T) {
	a := enabledEndpoint("a")
	pool, _, _ := newTestPool(t, a)

	pool.ReportOutcome("a", Outcome{Err: errors.New("rate limit exceeded")})

	_, err := pool.Select(Requirements{})
	if !errors.Is(err, ErrNoEligibleEndpoint) {
		t.Fatalf("expected ErrNoEligibleEndpoint, got %v", err)
	}
}

func TestPool_LearnsRangeFromOutcome(t *testing.T) {
	a := enabledEndpoint("a")
	a.MaxRange = 100000
	pool, _, _ := newTestPool(t, a)

	pool.ReportOutcome("a", Outcome{
		Err:            errors.New("query exceeds max block range"),
		RequestedRange: 10000,
	})

	if got := pool.EffectiveMaxRange("a"); got != 5000 {
		t.Errorf("effective range = %d, want 5000", got)
	}
}

func TestPool_EffectiveMaxRangePrefersSmaller(t *testing.T) {
	a := enabledEndpoint("a")
	a.MaxRange = 2000
	pool, _, _ := newTestPool(t, a)

	// learned limit larger than configured: configured wins
	pool.ReportOutcome("a", Outcome{
		Err:            errors.New("block range too large"),
		RequestedRange: 100000,
	})
	if got := pool.EffectiveMaxRange("a"); got != 2000 {
		t.Errorf("effective range = %d, want configured 2000", got)
	}
}

func TestPool_MaxBlockRange(t *testing.T) {
	a := enabledEndpoint("a")
	a.MaxRange = 2000
	b := enabledEndpoint("b")
	b.MaxRange = 50000
	c := enabledEndpoint("c")
	pool, _, _ := newTestPool(t, a, b, c)

	if got := pool.MaxBlockRange(); got != 50000 {
		t.Errorf("max block range = %d, want 50000", got)
	}

	pool.SetEnabled("b", false)
	if got := pool.MaxBlockRange(); got != 2000 {
		t.Errorf("max block range = %d, want 2000 after disabling b", got)
	}
}

func TestPool_LatestBlockRotatesOnFailure(t *testing.T) {
	a := enabledEndpoint("a")
	b := enabledEndpoint("b")
	pool, _, chains := newTestPool(t, a, b)

	chains["a"].BlockNumberFunc = func(ctx context.Context) (uint64, error) {
		return 0, errors.New("connection refused")
	}
	chains["b"].Head = 1234

	head, err := pool.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 1234 {
		t.Errorf("head = %d, want 1234", head)
	}
}

func TestPool_LatestBlockAllFail(t *testing.T) {
	a := enabledEndpoint("a")
	pool, _, chains := newTestPool(t, a)

	chains["a"].BlockNumberFunc = func(ctx context.Context) (uint64, error) {
		return 0, errors.New("connection refused")
	}

	_, err := pool.LatestBlock(context.Background())
	if err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
}

func TestPool_HealthSnapshot(t *testing.T) {
	a := enabledEndpoint("a")
	b := enabledEndpoint("b")
	pool, _, _ := newTestPool(t, a, b)

	pool.ReportOutcome("a", Outcome{Latency: 20 * time.Millisecond})
	pool.SetEnabled("b", false)

	statuses := pool.HealthSnapshot()
	if len(statuses) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		switch s.Endpoint.ID {
		case "a":
			if s.Health.SuccessCount != 1 {
				t.Errorf("endpoint a success count = %d, want 1", s.Health.SuccessCount)
			}
		case "b":
			if s.Endpoint.Enabled {
				t.Error("endpoint b should report disabled")
			}
		}
	}
}
