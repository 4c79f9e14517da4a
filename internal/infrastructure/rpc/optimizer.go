package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// probe targets: an early mainnet account with activity at block 46147
// (the first ever ERC-20 era transaction block), and an address that has
// never emitted a log, so range probes return quickly
var (
	archiveProbeAccount = common.HexToAddress("0x5e97870f263700f46aa00d967821199b9bc5a120")
	archiveProbeBlock   = big.NewInt(46147)
	rangeProbeAddress   = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

const (
	rangeSearchLow       = 100
	rangeSearchHigh      = 2_000_000
	rangeSearchPrecision = 1000

	// DefaultMaxRange is the conservative chunk size assumed when probing
	// is skipped or fails
	DefaultMaxRange = 1000
)

// RawCaller issues raw JSON-RPC calls, for methods ethclient does not
// expose. *rpc.Client from go-ethereum satisfies it.
type RawCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Optimizer probes an endpoint's capabilities so the pool can route
// archive and debug work correctly and size chunks to the provider
type Optimizer struct {
	logger *zap.Logger
}

// NewOptimizer creates a capability prober
func NewOptimizer(logger *zap.Logger) *Optimizer {
	return &Optimizer{logger: logger}
}

// TestConnectivity verifies the endpoint answers eth_blockNumber
func (o *Optimizer) TestConnectivity(ctx context.Context, client *Client) error {
	if _, err := client.LatestBlock(ctx); err != nil {
		return fmt.Errorf("failed to reach endpoint %s: %w", client.Endpoint().ID, err)
	}
	return nil
}

// ProbeArchive checks whether the endpoint serves deep historical state by
// querying an ancient balance. Pruned nodes answer with a missing trie
// node error.
func (o *Optimizer) ProbeArchive(ctx context.Context, client *Client) bool {
	_, err := client.BalanceAt(ctx, archiveProbeAccount, archiveProbeBlock)
	if err == nil {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "missing trie node") || strings.Contains(msg, "pruned") {
		return false
	}

	// transient failure, not evidence either way; assume non-archive
	o.logger.Debug("archive probe inconclusive",
		zap.String("endpoint", client.Endpoint().ID),
		zap.Error(err))
	return false
}

// ProbeDebug checks whether the debug namespace is exposed by issuing a
// minimal debug_traceCall
func (o *Optimizer) ProbeDebug(ctx context.Context, raw RawCaller) bool {
	var result interface{}
	call := map[string]string{"to": rangeProbeAddress.Hex()}
	err := raw.CallContext(ctx, &result, "debug_traceCall", call, "latest", map[string]interface{}{})
	if err == nil {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "does not exist") || strings.Contains(msg, "-32601") {
		return false
	}
	// the method ran and rejected our degenerate call, so it exists
	return true
}

// ProbeMaxRange binary-searches the largest eth_getLogs block span the
// endpoint accepts, querying an address with no logs so responses stay
// small. Returns DefaultMaxRange when the endpoint rejects even the
// smallest span.
func (o *Optimizer) ProbeMaxRange(ctx context.Context, client *Client, head uint64) uint64 {
	low := uint64(rangeSearchLow)
	high := uint64(rangeSearchHigh)
	if head < high {
		high = head
	}
	if high <= low {
		return DefaultMaxRange
	}

	if !o.rangeAccepted(ctx, client, head, low) {
		return DefaultMaxRange
	}

	for high-low >= rangeSearchPrecision {
		mid := low + (high-low)/2
		if o.rangeAccepted(ctx, client, head, mid) {
			low = mid
		} else {
			high = mid
		}
	}

	o.logger.Info("probed max block range",
		zap.String("endpoint", client.Endpoint().ID),
		zap.Uint64("max_range", low))
	return low
}

func (o *Optimizer) rangeAccepted(ctx context.Context, client *Client, head, span uint64) bool {
	if span > head {
		span = head
	}
	r := entities.BlockRange{From: head - span, To: head}
	_, _, err := client.GetLogs(ctx, r, []common.Address{rangeProbeAddress}, nil)
	if err == nil {
		return true
	}
	return !IsKind(err, KindRangeTooLarge) && !IsKind(err, KindResponseTooLarge)
}

// Optimize fills in an endpoint's capability fields from live probes.
// Probes that cannot run leave conservative defaults in place.
func (o *Optimizer) Optimize(ctx context.Context, client *Client, raw RawCaller) (entities.Endpoint, error) {
	ep := client.Endpoint()

	head, err := client.LatestBlock(ctx)
	if err != nil {
		return ep, fmt.Errorf("failed to probe endpoint %s: %w", ep.ID, err)
	}

	ep.IsArchive = o.ProbeArchive(ctx, client)
	if raw != nil {
		ep.HasDebug = o.ProbeDebug(ctx, raw)
	}
	if ep.MaxRange == 0 {
		ep.MaxRange = o.ProbeMaxRange(ctx, client, head)
	}

	o.logger.Info("endpoint optimized",
		zap.String("endpoint", ep.ID),
		zap.Bool("archive", ep.IsArchive),
		zap.Bool("debug", ep.HasDebug),
		zap.Uint64("max_range", ep.MaxRange))
	return ep, nil
}
