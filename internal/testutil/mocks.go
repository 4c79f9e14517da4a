package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bimakw/log-harvester/internal/domain/entities"
	"github.com/bimakw/log-harvester/internal/domain/repositories"
)

// MockChainClient is a mock implementation of the Ethereum client surface
type MockChainClient struct {
	mu sync.RWMutex

	// Canned state served when no hook is set
	Head uint64
	Logs []types.Log

	// Function hooks for custom behavior
	FilterLogsFunc   func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumberFunc  func(ctx context.Context) (uint64, error)
	BalanceAtFunc    func(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContractFunc func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// Call tracking
	Calls []MockCall
}

type MockCall struct {
	Method string
	Args   []interface{}
}

func NewMockChainClient() *MockChainClient {
	return &MockChainClient{
		Calls: make([]MockCall, 0),
	}
}

func (m *MockChainClient) record(method string, args ...interface{}) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
	m.mu.Unlock()
}

// CallCount returns how many times the named method was invoked
func (m *MockChainClient) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.Calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

func (m *MockChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.record("FilterLogs", q)

	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, q)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Serve the canned logs that fall inside the queried range
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	result := make([]types.Log, 0)
	for _, l := range m.Logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			result = append(result, l)
		}
	}
	return result, nil
}

func (m *MockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	m.record("BlockNumber")

	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Head, nil
}

func (m *MockChainClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	m.record("BalanceAt", account, blockNumber)

	if m.BalanceAtFunc != nil {
		return m.BalanceAtFunc(ctx, account, blockNumber)
	}
	return big.NewInt(0), nil
}

func (m *MockChainClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.record("CallContract", call, blockNumber)

	if m.CallContractFunc != nil {
		return m.CallContractFunc(ctx, call, blockNumber)
	}
	return nil, nil
}

// MockCheckpointRepository is an in-memory mock of CheckpointRepository
type MockCheckpointRepository struct {
	mu          sync.RWMutex
	checkpoints map[string]*repositories.Checkpoint

	// Function hooks for custom behavior
	LoadFunc         func(ctx context.Context, key string) (*repositories.Checkpoint, error)
	MarkCompleteFunc func(ctx context.Context, key string, r entities.BlockRange, logCount uint64) error

	Calls []MockCall
}

func NewMockCheckpointRepository() *MockCheckpointRepository {
	return &MockCheckpointRepository{
		checkpoints: make(map[string]*repositories.Checkpoint),
		Calls:       make([]MockCall, 0),
	}
}

func (m *MockCheckpointRepository) record(method string, args ...interface{}) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
	m.mu.Unlock()
}

func (m *MockCheckpointRepository) Load(ctx context.Context, key string) (*repositories.Checkpoint, error) {
	m.record("Load", key)

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[key]
	if !ok {
		return nil, nil
	}
	copied := *cp
	return &copied, nil
}

func (m *MockCheckpointRepository) MarkComplete(ctx context.Context, key string, r entities.BlockRange, logCount uint64) error {
	m.record("MarkComplete", key, r, logCount)

	if m.MarkCompleteFunc != nil {
		return m.MarkCompleteFunc(ctx, key, r, logCount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[key]
	if !ok {
		cp = &repositories.Checkpoint{Key: key, Completed: entities.NewRangeSet()}
		m.checkpoints[key] = cp
	}
	cp.Completed.Add(r)
	cp.TotalLogs += logCount
	return nil
}

func (m *MockCheckpointRepository) Residual(ctx context.Context, key string, full entities.BlockRange) ([]entities.BlockRange, error) {
	m.record("Residual", key, full)

	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[key]
	if !ok {
		return []entities.BlockRange{full}, nil
	}
	return cp.Completed.Residual(full), nil
}

func (m *MockCheckpointRepository) Delete(ctx context.Context, key string) error {
	m.record("Delete", key)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, key)
	return nil
}

// CompletedRanges returns the stored range set for a key, for assertions
func (m *MockCheckpointRepository) CompletedRanges(key string) []entities.BlockRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[key]
	if !ok {
		return nil
	}
	return cp.Completed.Ranges()
}

// CaptureWriter collects written records in memory, keeping batch
// boundaries so ordering across batches can be asserted
type CaptureWriter struct {
	mu        sync.Mutex
	records   []entities.LogRecord
	batches   [][]entities.LogRecord
	finalized bool

	// Function hooks for custom behavior
	WriteLogsFunc func(records []entities.LogRecord) error
	FinalizeFunc  func() error
}

func NewCaptureWriter() *CaptureWriter {
	return &CaptureWriter{}
}

func (w *CaptureWriter) WriteLogs(records []entities.LogRecord) error {
	if w.WriteLogsFunc != nil {
		return w.WriteLogsFunc(records)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return fmt.Errorf("write after finalize")
	}
	batch := make([]entities.LogRecord, len(records))
	copy(batch, records)
	w.records = append(w.records, batch...)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *CaptureWriter) Finalize() error {
	if w.FinalizeFunc != nil {
		return w.FinalizeFunc()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return nil
}

// Records returns everything written so far in write order
func (w *CaptureWriter) Records() []entities.LogRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]entities.LogRecord, len(w.records))
	copy(out, w.records)
	return out
}

// Batches returns the individual WriteLogs calls in order
func (w *CaptureWriter) Batches() [][]entities.LogRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]entities.LogRecord, len(w.batches))
	copy(out, w.batches)
	return out
}

// Finalized reports whether Finalize has been called
func (w *CaptureWriter) Finalized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalized
}
