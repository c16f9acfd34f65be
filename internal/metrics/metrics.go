package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	InferenceDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "inference_duration_seconds",
		Help: "Duration of inference steps",
	})

	ModelLoadDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "model_load_duration_seconds",
		Help: "Wall time of the last checkpoint load",
	})

	TensorsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_tensors_loaded",
		Help: "Number of tensor payloads streamed from the checkpoint",
	})

	TensorBytesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_tensor_bytes_loaded",
		Help: "Total tensor payload bytes streamed from the checkpoint",
	})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Total bytes reserved for the KV cache",
	})

	KVCacheUsedPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_used_positions",
		Help: "Number of context positions currently cached",
	})

	ScratchCapacityBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scratch_capacity_bytes",
		Help: "Current capacity of each scratch arena",
	}, []string{"arena"})

	ScratchGrowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scratch_grow_total",
		Help: "Number of times each scratch arena was regrown",
	}, []string{"arena"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{16, 64, 128, 256, 512, 1024, 2048, 4096},
	})

	SampledTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sampled_tokens_total",
		Help: "Number of tokens drawn by the sampler",
	})

	PerplexityChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perplexity_chunks_total",
		Help: "Number of evaluation chunks scored",
	})

	PerplexityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perplexity_current",
		Help: "Cumulative perplexity after the latest chunk",
	})

	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenizer_encode_length_tokens",
		Help:    "Token counts produced by Encode calls",
		Buckets: []float64{1, 8, 32, 128, 512, 2048, 8192},
	})

	TokenizerUnknownBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenizer_unknown_bytes_total",
		Help: "Input bytes skipped because no vocabulary entry matched",
	})

	TokenizerEncodeDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "tokenizer_encode_duration_seconds",
		Help: "Duration of Encode calls",
	})
)

// RecordInference updates token and latency metrics for one forward pass.
func RecordInference(tokens int, duration time.Duration) {
	InferenceTokensTotal.Add(float64(tokens))
	InferenceDuration.Observe(duration.Seconds())
	totalTokens.Add(int64(tokens))
}

// RecordModelLoad records the wall time of a checkpoint load.
func RecordModelLoad(duration time.Duration) {
	ModelLoadDuration.Set(duration.Seconds())
}

// RecordTensorsLoaded records the tensor count and payload bytes of a load.
func RecordTensorsLoaded(count int, bytes int64) {
	TensorsLoaded.Set(float64(count))
	TensorBytesLoaded.Set(float64(bytes))
}

// RecordKVCacheStats records KV cache capacity and occupancy.
func RecordKVCacheStats(capacity, usedPositions int64) {
	KVCacheCapacityBytes.Set(float64(capacity))
	KVCacheUsedPositions.Set(float64(usedPositions))
}

// RecordScratchGrow records a scratch arena regrowth and its new capacity.
func RecordScratchGrow(arena string, capacity int) {
	ScratchGrowTotal.WithLabelValues(arena).Inc()
	ScratchCapacityBytes.WithLabelValues(arena).Set(float64(capacity))
}

// RecordContextLength records the context occupancy of a forward pass.
func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

// RecordSample records one sampler draw.
func RecordSample() {
	SampledTokens.Inc()
}

// RecordPerplexityChunk records a scored evaluation chunk and the running
// perplexity.
func RecordPerplexityChunk(ppl float64) {
	PerplexityChunks.Inc()
	PerplexityCurrent.Set(ppl)
}

// RecordTokenizerEncode records one Encode call.
func RecordTokenizerEncode(tokens, unknown int, duration time.Duration) {
	TokenizerEncodeLength.Observe(float64(tokens))
	TokenizerUnknownBytes.Add(float64(unknown))
	TokenizerEncodeDuration.Observe(duration.Seconds())
}

// TotalTokens returns the process-lifetime generated token count.
func TotalTokens() int64 {
	return totalTokens.Load()
}
