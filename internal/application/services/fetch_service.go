package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bimakw/log-harvester/internal/domain/entities"
	"github.com/bimakw/log-harvester/internal/domain/repositories"
	"github.com/bimakw/log-harvester/internal/infrastructure/checkpoint"
	"github.com/bimakw/log-harvester/internal/infrastructure/rpc"
	"github.com/bimakw/log-harvester/internal/metrics"
)

// EndpointSelector is the pool surface the fetcher needs. *rpc.Pool
// satisfies it.
type EndpointSelector interface {
	Select(req rpc.Requirements) (*rpc.Client, error)
	ReportOutcome(id string, out rpc.Outcome)
	LatestBlock(ctx context.Context) (uint64, error)
	MaxBlockRange() uint64
}

// LogSink receives batches of records in ascending block order
type LogSink interface {
	WriteLogs(records []entities.LogRecord) error
}

// Decoder turns a raw log into its decoded view. A nil result with a nil
// error means the event is not one the decoder understands.
type Decoder func(log types.Log) (*entities.DecodedLog, error)

// FetchState tracks where a run is in its lifecycle
type FetchState int32

const (
	StatePlanning FetchState = iota
	StateFetching
	StateDraining
	StateDone
	StateFailed
)

func (s FetchState) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateFetching:
		return "fetching"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchQuery describes one log harvest
type FetchQuery struct {
	ChainID        uint64
	Contracts      []common.Address
	Topics         [][]common.Hash
	From           entities.BlockNumber
	To             entities.BlockNumber
	Tag            string
	RequireArchive bool
}

// FetcherConfig tunes the engine. Zero values fall back to defaults.
type FetcherConfig struct {
	Concurrency   int
	MaxRange      uint64
	ReorderBuffer int
	Retry         rpc.RetryConfig
}

const defaultConcurrency = 4

func (c FetcherConfig) concurrency() int {
	if c.Concurrency <= 0 {
		return defaultConcurrency
	}
	return c.Concurrency
}

func (c FetcherConfig) reorderSize() int {
	if c.ReorderBuffer <= 0 {
		return 4 * c.concurrency()
	}
	return c.ReorderBuffer
}

// FailedRange records a chunk that exhausted its retries
type FailedRange struct {
	Range  entities.BlockRange `json:"range"`
	Reason string              `json:"reason"`
}

// FetchStats summarizes a completed run
type FetchStats struct {
	TotalLogs       uint64
	ChunksPlanned   int
	ChunksCompleted int
	RequestsIssued  int64
	Retries         int64
	DecodeFailures  int64
	FailedRanges    []FailedRange
	Duration        time.Duration
}

// FetchProgress is a live snapshot of a run, for the status API
type FetchProgress struct {
	State           string `json:"state"`
	TotalChunks     int64  `json:"total_chunks"`
	CompletedChunks int64  `json:"completed_chunks"`
	FailedChunks    int64  `json:"failed_chunks"`
	LogsWritten     uint64 `json:"logs_written"`
	Concurrency     int    `json:"concurrency"`
}

// StreamingFetcher pulls logs chunk by chunk across the endpoint pool and
// flushes them to the sink strictly in chunk order. Completed chunks are
// checkpointed only after their records reach the sink, so a crash can
// re-fetch a chunk but never skip one.
type StreamingFetcher struct {
	pool        EndpointSelector
	checkpoints repositories.CheckpointRepository
	sink        LogSink
	decoder     Decoder
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         FetcherConfig

	state           atomic.Int32
	totalChunks     atomic.Int64
	completedChunks atomic.Int64
	failedChunks    atomic.Int64
	logsWritten     atomic.Uint64
	requestsIssued  atomic.Int64
	retries         atomic.Int64
	decodeFailures  atomic.Int64
}

// NewStreamingFetcher creates a fetcher. decoder and m may be nil.
func NewStreamingFetcher(
	pool EndpointSelector,
	checkpoints repositories.CheckpointRepository,
	sink LogSink,
	decoder Decoder,
	m *metrics.Metrics,
	cfg FetcherConfig,
	logger *zap.Logger,
) *StreamingFetcher {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = rpc.DefaultRetryConfig()
	}
	return &StreamingFetcher{
		pool:        pool,
		checkpoints: checkpoints,
		sink:        sink,
		decoder:     decoder,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
	}
}

func (f *StreamingFetcher) setState(s FetchState) {
	f.state.Store(int32(s))
}

// State returns the run's current lifecycle state
func (f *StreamingFetcher) State() FetchState {
	return FetchState(f.state.Load())
}

// Progress returns a live snapshot of the run
func (f *StreamingFetcher) Progress() FetchProgress {
	return FetchProgress{
		State:           f.State().String(),
		TotalChunks:     f.totalChunks.Load(),
		CompletedChunks: f.completedChunks.Load(),
		FailedChunks:    f.failedChunks.Load(),
		LogsWritten:     f.logsWritten.Load(),
		Concurrency:     f.cfg.concurrency(),
	}
}

// Run executes the harvest described by query. It returns stats even on
// failure so callers can see what was already flushed.
func (f *StreamingFetcher) Run(ctx context.Context, query FetchQuery) (*FetchStats, error) {
	start := time.Now()
	f.setState(StatePlanning)

	full, err := f.resolveRange(ctx, query)
	if err != nil {
		f.setState(StateFailed)
		return nil, err
	}

	key := checkpointKey(query)
	residual, err := f.checkpoints.Residual(ctx, key, full)
	if err != nil {
		f.setState(StateFailed)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	chunkSize := f.chunkSize()
	var chunks []entities.BlockRange
	for _, r := range residual {
		chunks = append(chunks, r.Split(chunkSize)...)
	}
	f.totalChunks.Store(int64(len(chunks)))

	stats := &FetchStats{ChunksPlanned: len(chunks)}
	if len(chunks) == 0 {
		f.setState(StateDone)
		stats.Duration = time.Since(start)
		f.logger.Info("range already covered by checkpoint",
			zap.String("range", full.String()))
		return stats, nil
	}

	f.logger.Info("starting harvest",
		zap.String("range", full.String()),
		zap.Int("chunks", len(chunks)),
		zap.Uint64("chunk_size", chunkSize),
		zap.Int("concurrency", f.cfg.concurrency()))

	f.setState(StateFetching)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reorderSize := f.cfg.reorderSize()
	results := make(chan chunkResult, reorderSize)
	workers := semaphore.NewWeighted(int64(f.cfg.concurrency()))
	// one slot per undrained result keeps memory bounded when a slow
	// chunk blocks the flush cursor
	slots := semaphore.NewWeighted(int64(reorderSize))

	go func() {
		var wg sync.WaitGroup
		for i, chunk := range chunks {
			if slots.Acquire(runCtx, 1) != nil {
				break
			}
			if workers.Acquire(runCtx, 1) != nil {
				slots.Release(1)
				break
			}

			wg.Add(1)
			go func(index int, chunk entities.BlockRange) {
				defer wg.Done()
				defer workers.Release(1)
				if f.metrics != nil {
					f.metrics.ChunksInFlight.Inc()
					defer f.metrics.ChunksInFlight.Dec()
				}

				records, err := f.fetchChunk(runCtx, query, chunk)
				results <- chunkResult{index: index, chunk: chunk, records: records, err: err}
			}(i, chunk)
		}
		wg.Wait()
		if f.State() == StateFetching {
			f.setState(StateDraining)
		}
		close(results)
	}()

	// checkpoint and sink writes for already-completed chunks still run
	// after cancellation
	flushCtx := context.WithoutCancel(ctx)
	buffer := newReorderBuffer()
	var fatalErr error

	for res := range results {
		for _, r := range buffer.Offer(res) {
			slots.Release(1)
			if fatalErr != nil {
				continue
			}

			if r.err != nil {
				f.failedChunks.Add(1)
				if f.metrics != nil {
					f.metrics.ChunksFailed.Inc()
				}
				stats.FailedRanges = append(stats.FailedRanges, FailedRange{
					Range:  r.chunk,
					Reason: r.err.Error(),
				})
				f.logger.Warn("chunk failed permanently",
					zap.String("range", r.chunk.String()),
					zap.Error(r.err))
				continue
			}

			if err := f.sink.WriteLogs(r.records); err != nil {
				fatalErr = fmt.Errorf("failed to write output: %w", err)
				cancel()
				continue
			}
			if err := f.checkpoints.MarkComplete(flushCtx, key, r.chunk, uint64(len(r.records))); err != nil {
				fatalErr = fmt.Errorf("failed to persist checkpoint: %w", err)
				cancel()
				continue
			}

			f.completedChunks.Add(1)
			f.logsWritten.Add(uint64(len(r.records)))
			stats.TotalLogs += uint64(len(r.records))
			stats.ChunksCompleted++
			if f.metrics != nil {
				f.metrics.ChunksFetched.WithLabelValues("ok").Inc()
				f.metrics.LogsWritten.Add(float64(len(r.records)))
			}
		}
	}

	stats.Duration = time.Since(start)
	stats.RequestsIssued = f.requestsIssued.Load()
	stats.Retries = f.retries.Load()
	stats.DecodeFailures = f.decodeFailures.Load()

	switch {
	case fatalErr != nil:
		f.setState(StateFailed)
		return stats, fatalErr
	case ctx.Err() != nil:
		f.setState(StateFailed)
		return stats, ctx.Err()
	default:
		f.setState(StateDone)
		f.logger.Info("harvest complete",
			zap.Uint64("logs", stats.TotalLogs),
			zap.Int("chunks", stats.ChunksCompleted),
			zap.Int("failed_chunks", len(stats.FailedRanges)),
			zap.Duration("duration", stats.Duration))
		return stats, nil
	}
}

// fetchChunk pulls one chunk, re-selecting an endpoint per attempt. The
// working span halves when a provider rejects the range or the response
// size, walking the chunk in smaller sub-ranges until it is covered.
func (f *StreamingFetcher) fetchChunk(ctx context.Context, query FetchQuery, chunk entities.BlockRange) ([]entities.LogRecord, error) {
	requirements := rpc.Requirements{Archive: query.RequireArchive}
	// a call already on the wire when the run is cancelled is allowed to
	// finish; cancellation is honored between attempts
	callCtx := context.WithoutCancel(ctx)

	span := chunk.Blocks()
	pos := chunk.From
	var records []entities.LogRecord
	attempt := 0

	for {
		sub := entities.BlockRange{From: pos, To: chunk.To}
		if span < sub.Blocks() {
			sub.To = pos + span - 1
		}

		client, err := f.pool.Select(requirements)
		if err != nil {
			attempt++
			if attempt >= f.cfg.Retry.MaxAttempts {
				return nil, fmt.Errorf("chunk %s: %w", chunk, err)
			}
			f.retries.Add(1)
			if f.metrics != nil {
				f.metrics.RetriesTotal.Inc()
			}
			if werr := sleepCtx(ctx, f.cfg.Retry.Delay(attempt)); werr != nil {
				return nil, werr
			}
			continue
		}

		id := client.Endpoint().ID
		logs, latency, err := client.GetLogs(callCtx, sub, query.Contracts, query.Topics)
		f.requestsIssued.Add(1)
		f.pool.ReportOutcome(id, rpc.Outcome{Err: err, Latency: latency, RequestedRange: sub.Blocks()})
		if f.metrics != nil {
			f.metrics.RPCRequests.WithLabelValues(id).Inc()
			f.metrics.RPCLatency.WithLabelValues(id).Observe(latency.Seconds())
		}

		if err == nil {
			for _, raw := range logs {
				rec := entities.LogRecordFromRaw(raw)
				if f.decoder != nil {
					decoded, derr := f.decoder(raw)
					switch {
					case derr != nil:
						f.decodeFailures.Add(1)
						if f.metrics != nil {
							f.metrics.DecodeFailures.Inc()
						}
						f.logger.Debug("failed to decode log",
							zap.String("tx_hash", rec.TxHash),
							zap.Uint("log_index", rec.LogIndex),
							zap.Error(derr))
					case decoded != nil:
						rec = rec.WithDecoded(*decoded)
					}
				}
				records = append(records, rec)
			}
			if sub.To == chunk.To {
				return records, nil
			}
			pos = sub.To + 1
			attempt = 0
			continue
		}

		if f.metrics != nil {
			f.metrics.RPCErrors.WithLabelValues(id, rpc.Classify(err, "").Kind.String()).Inc()
		}

		if rpc.IsKind(err, rpc.KindRangeTooLarge) || rpc.IsKind(err, rpc.KindResponseTooLarge) {
			half := span / 2
			if half == 0 {
				return nil, fmt.Errorf("chunk %s: span cannot shrink further: %w", chunk, err)
			}
			span = half
			if f.metrics != nil {
				f.metrics.RangeHalvings.Inc()
			}
			f.logger.Debug("halving fetch span",
				zap.String("chunk", chunk.String()),
				zap.Uint64("span", span))
			continue
		}

		if !rpc.Retryable(err) {
			return nil, fmt.Errorf("chunk %s: %w", chunk, err)
		}

		attempt++
		if attempt >= f.cfg.Retry.MaxAttempts {
			return nil, fmt.Errorf("chunk %s failed after %d attempts: %w", chunk, attempt, err)
		}
		f.retries.Add(1)
		if f.metrics != nil {
			f.metrics.RetriesTotal.Inc()
		}
		if werr := sleepCtx(ctx, f.cfg.Retry.Delay(attempt)); werr != nil {
			return nil, werr
		}
	}
}

// resolveRange pins the query's block bounds, asking the pool for the
// chain head only when a bound is "latest"
func (f *StreamingFetcher) resolveRange(ctx context.Context, query FetchQuery) (entities.BlockRange, error) {
	from := query.From.Value()
	to := query.To.Value()

	if query.From.IsLatest() || query.To.IsLatest() {
		head, err := f.pool.LatestBlock(ctx)
		if err != nil {
			return entities.BlockRange{}, fmt.Errorf("failed to resolve chain head: %w", err)
		}
		if query.From.IsLatest() {
			from = head
		}
		if query.To.IsLatest() {
			to = head
		}
	}

	return entities.NewBlockRange(from, to)
}

func (f *StreamingFetcher) chunkSize() uint64 {
	if f.cfg.MaxRange > 0 {
		return f.cfg.MaxRange
	}
	if poolMax := f.pool.MaxBlockRange(); poolMax > 0 {
		return poolMax
	}
	return rpc.DefaultMaxRange
}

func checkpointKey(query FetchQuery) string {
	contracts := make([]string, len(query.Contracts))
	for i, c := range query.Contracts {
		contracts[i] = c.Hex()
	}
	var topics []string
	for _, position := range query.Topics {
		for _, topic := range position {
			topics = append(topics, topic.Hex())
		}
	}
	return checkpoint.Key(query.ChainID, contracts, topics, query.Tag)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LogFetcher runs a harvest and returns every record in memory, sorted by
// block number and log index. Use StreamingFetcher for large ranges.
type LogFetcher struct {
	pool        EndpointSelector
	checkpoints repositories.CheckpointRepository
	decoder     Decoder
	metrics     *metrics.Metrics
	cfg         FetcherConfig
	logger      *zap.Logger
}

// NewLogFetcher creates an in-memory fetcher
func NewLogFetcher(
	pool EndpointSelector,
	checkpoints repositories.CheckpointRepository,
	decoder Decoder,
	m *metrics.Metrics,
	cfg FetcherConfig,
	logger *zap.Logger,
) *LogFetcher {
	return &LogFetcher{
		pool:        pool,
		checkpoints: checkpoints,
		decoder:     decoder,
		metrics:     m,
		cfg:         cfg,
		logger:      logger,
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []entities.LogRecord
}

func (s *memorySink) WriteLogs(records []entities.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// FetchAll harvests the query and returns the collected records
func (f *LogFetcher) FetchAll(ctx context.Context, query FetchQuery) ([]entities.LogRecord, *FetchStats, error) {
	sink := &memorySink{}
	streamer := NewStreamingFetcher(f.pool, f.checkpoints, sink, f.decoder, f.metrics, f.cfg, f.logger)

	stats, err := streamer.Run(ctx, query)
	if err != nil {
		return nil, stats, err
	}

	records := sink.records
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	return records, stats, nil
}
