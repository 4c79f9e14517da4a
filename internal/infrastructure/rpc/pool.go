package rpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// Requirements narrows endpoint selection to those with specific capabilities
type Requirements struct {
	Archive bool
	Debug   bool
}

// Outcome is the result of one call against a selected endpoint. A nil Err
// with the observed latency counts as a success.
type Outcome struct {
	Err            error
	Latency        time.Duration
	RequestedRange uint64
}

// Pool manages a set of endpoints and picks the healthiest eligible one per
// request. Selection never mutates health state; callers report how the call
// went through ReportOutcome, the pool's single write path.
type Pool struct {
	mu      sync.Mutex
	clients []*Client
	health  *HealthTracker
	logger  *zap.Logger

	// breaks score ties so equally healthy endpoints share load
	rrCounter uint64

	disabled map[string]bool
}

// NewPool assembles a pool from connected clients
func NewPool(clients []*Client, health *HealthTracker, logger *zap.Logger) *Pool {
	return &Pool{
		clients:  clients,
		health:   health,
		logger:   logger,
		disabled: make(map[string]bool),
	}
}

// Select returns the best available endpoint satisfying the requirements,
// or ErrNoEligibleEndpoint when none qualifies right now
func (p *Pool) Select(req Requirements) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*Client
	for _, c := range p.clients {
		ep := c.Endpoint()
		if !ep.Enabled || p.disabled[ep.ID] {
			continue
		}
		if req.Archive && !ep.IsArchive {
			continue
		}
		if req.Debug && !ep.HasDebug {
			continue
		}
		if !p.health.Available(ep.ID) {
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, ErrNoEligibleEndpoint
	}

	bestScore := -1.0
	var best []*Client
	for _, c := range candidates {
		score := p.health.Score(c.Endpoint().ID)
		switch {
		case score > bestScore:
			bestScore = score
			best = []*Client{c}
		case score == bestScore:
			best = append(best, c)
		}
	}

	chosen := best[p.rrCounter%uint64(len(best))]
	p.rrCounter++
	return chosen, nil
}

// ReportOutcome feeds back the result of a call made against the endpoint
// returned by Select
func (p *Pool) ReportOutcome(id string, out Outcome) {
	if out.Err == nil {
		p.health.RecordSuccess(id, out.Latency)
		return
	}

	classified := Classify(out.Err, "")
	p.health.RecordFailure(id, classified.Kind, out.RequestedRange)

	if classified.Kind == KindRateLimited {
		p.logger.Warn("endpoint rate limited, cooling down",
			zap.String("endpoint", id))
	}
}

// LatestBlock asks available endpoints for the chain head, returning the
// first answer. Failures rotate to the next endpoint.
func (p *Pool) LatestBlock(ctx context.Context) (uint64, error) {
	var lastErr error
	tried := make(map[string]bool)

	for {
		client, err := p.selectExcluding(tried)
		if err != nil {
			if lastErr != nil {
				return 0, lastErr
			}
			return 0, err
		}
		id := client.Endpoint().ID
		tried[id] = true

		start := time.Now()
		head, err := client.LatestBlock(ctx)
		p.ReportOutcome(id, Outcome{Err: err, Latency: time.Since(start)})
		if err == nil {
			return head, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

func (p *Pool) selectExcluding(tried map[string]bool) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.clients {
		ep := c.Endpoint()
		if tried[ep.ID] || !ep.Enabled || p.disabled[ep.ID] {
			continue
		}
		if !p.health.Available(ep.ID) {
			continue
		}
		return c, nil
	}
	return nil, ErrNoEligibleEndpoint
}

// EffectiveMaxRange returns the usable block span for one endpoint,
// combining its configured limit with anything learned from range errors
func (p *Pool) EffectiveMaxRange(id string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var configured uint64
	for _, c := range p.clients {
		if c.Endpoint().ID == id {
			configured = c.Endpoint().MaxRange
			break
		}
	}

	learned := p.health.LearnedMaxRange(id)
	switch {
	case learned == 0:
		return configured
	case configured == 0 || learned < configured:
		return learned
	default:
		return configured
	}
}

// MaxBlockRange returns the largest effective range across enabled
// endpoints, or zero when every endpoint's limit is unknown
func (p *Pool) MaxBlockRange() uint64 {
	p.mu.Lock()
	ids := make([]string, 0, len(p.clients))
	for _, c := range p.clients {
		ep := c.Endpoint()
		if ep.Enabled && !p.disabled[ep.ID] {
			ids = append(ids, ep.ID)
		}
	}
	p.mu.Unlock()

	var best uint64
	for _, id := range ids {
		if r := p.EffectiveMaxRange(id); r > best {
			best = r
		}
	}
	return best
}

// SetEnabled administratively toggles an endpoint in or out of rotation
func (p *Pool) SetEnabled(id string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled[id] = !enabled
}

// EndpointStatus pairs an endpoint descriptor with its current health
type EndpointStatus struct {
	Endpoint entities.Endpoint `json:"endpoint"`
	Health   EndpointHealth    `json:"health"`
	Score    float64           `json:"score"`
}

// HealthSnapshot returns the current state of every endpoint, for the
// status API
func (p *Pool) HealthSnapshot() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]EndpointStatus, 0, len(p.clients))
	for _, c := range p.clients {
		ep := c.Endpoint()
		if p.disabled[ep.ID] {
			ep.Enabled = false
		}
		statuses = append(statuses, EndpointStatus{
			Endpoint: ep,
			Health:   p.health.Snapshot(ep.ID),
			Score:    p.health.Score(ep.ID),
		})
	}
	return statuses
}
