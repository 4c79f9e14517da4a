package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the harvester's Prometheus collectors
type Metrics struct {
	ChunksFetched  *prometheus.CounterVec
	ChunksFailed   prometheus.Counter
	LogsWritten    prometheus.Counter
	RPCRequests    *prometheus.CounterVec
	RPCErrors      *prometheus.CounterVec
	RPCLatency     *prometheus.HistogramVec
	RetriesTotal   prometheus.Counter
	RangeHalvings  prometheus.Counter
	DecodeFailures prometheus.Counter
	ChunksInFlight prometheus.Gauge
}

// New registers the harvester collectors on the given registerer. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_chunks_fetched_total",
			Help: "Chunks fetched, by terminal status",
		}, []string{"status"}),
		ChunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_chunks_failed_total",
			Help: "Chunks that exhausted retries",
		}),
		LogsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_logs_written_total",
			Help: "Log records handed to the output writer",
		}),
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_rpc_requests_total",
			Help: "JSON-RPC requests, by endpoint",
		}, []string{"endpoint"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_rpc_errors_total",
			Help: "JSON-RPC failures, by endpoint and error kind",
		}, []string{"endpoint", "kind"}),
		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_rpc_latency_seconds",
			Help:    "Observed eth_getLogs latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Retry attempts across all chunks",
		}),
		RangeHalvings: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_range_halvings_total",
			Help: "Times a chunk span was halved after a provider limit",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_decode_failures_total",
			Help: "Logs the event decoder could not decode",
		}),
		ChunksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_chunks_in_flight",
			Help: "Chunks currently being fetched",
		}),
	}
}
