package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// ChainClient is the subset of the Ethereum JSON-RPC surface the harvester
// needs. *ethclient.Client satisfies it; tests substitute a mock.
type ChainClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const (
	defaultRequestTimeout = 30 * time.Second
	fastRequestTimeout    = 10 * time.Second
)

// Client wraps a single configured endpoint with its live connection
type Client struct {
	endpoint entities.Endpoint
	chain    ChainClient
	timeout  time.Duration
	logger   *zap.Logger
}

// DialEndpoint connects to the endpoint's URL and wraps it
func DialEndpoint(ctx context.Context, ep entities.Endpoint, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, ep.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial endpoint %s: %w", ep.ID, err)
	}
	return NewClient(ep, ethClient, logger), nil
}

// NewClient wraps an existing connection, letting tests inject a mock
func NewClient(ep entities.Endpoint, chain ChainClient, logger *zap.Logger) *Client {
	return &Client{
		endpoint: ep,
		chain:    chain,
		timeout:  defaultRequestTimeout,
		logger:   logger,
	}
}

// SetRequestTimeout overrides the per-call budget for log and contract
// queries. Call before handing the client to a pool.
func (c *Client) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Endpoint returns the static endpoint descriptor
func (c *Client) Endpoint() entities.Endpoint {
	return c.endpoint
}

// Chain exposes the underlying connection so a client can be rebuilt with
// an updated endpoint descriptor after probing
func (c *Client) Chain() ChainClient {
	return c.chain
}

// GetLogs fetches logs for one block range and reports the observed latency.
// Errors come back classified.
func (c *Client) GetLogs(ctx context.Context, r entities.BlockRange, addresses []common.Address, topics [][]common.Hash) ([]types.Log, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: addresses,
		Topics:    topics,
	}

	start := time.Now()
	logs, err := c.chain.FilterLogs(reqCtx, query)
	latency := time.Since(start)
	if err != nil {
		classified := Classify(err, c.endpoint.URL)
		c.logger.Debug("eth_getLogs failed",
			zap.String("endpoint", c.endpoint.ID),
			zap.String("range", r.String()),
			zap.String("kind", classified.Kind.String()),
			zap.Error(err))
		return nil, latency, classified
	}

	return logs, latency, nil
}

// LatestBlock returns the endpoint's current head block number
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fastRequestTimeout)
	defer cancel()

	head, err := c.chain.BlockNumber(reqCtx)
	if err != nil {
		return 0, Classify(err, c.endpoint.URL)
	}
	return head, nil
}

// BalanceAt queries an account balance at a historical block, used by
// capability probes
func (c *Client) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fastRequestTimeout)
	defer cancel()

	balance, err := c.chain.BalanceAt(reqCtx, account, block)
	if err != nil {
		return nil, Classify(err, c.endpoint.URL)
	}
	return balance, nil
}

// CallContract executes an eth_call against the endpoint
func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.chain.CallContract(reqCtx, call, block)
	if err != nil {
		return nil, Classify(err, c.endpoint.URL)
	}
	return result, nil
}
