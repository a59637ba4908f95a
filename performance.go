package ppm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const maxLatencySamples = 1000

// PerformanceMonitor tracks model activity as Prometheus collectors and keeps
// a short latency window per operation for GetMetrics.
type PerformanceMonitor struct {
	mu        sync.RWMutex
	latencies map[string][]time.Duration
	startTime time.Time

	trainedSymbols   *prometheus.CounterVec
	skippedTokens    *prometheus.CounterVec
	evaluatedSymbols *prometheus.CounterVec
	documents        *prometheus.CounterVec
	nodes            *prometheus.GaugeVec
	duration         *prometheus.HistogramVec
}

// NewPerformanceMonitor registers its collectors with reg. A nil reg leaves
// them unregistered.
func NewPerformanceMonitor(reg prometheus.Registerer) *PerformanceMonitor {
	factory := promauto.With(reg)
	return &PerformanceMonitor{
		latencies: make(map[string][]time.Duration),
		startTime: time.Now(),
		trainedSymbols: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ppm_trained_symbols_total",
			Help: "Symbols the model was trained on",
		}, []string{"model"}),
		skippedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ppm_skipped_tokens_total",
			Help: "Tokens skipped because they are not in the vocabulary",
		}, []string{"model", "operation"}),
		evaluatedSymbols: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ppm_evaluated_symbols_total",
			Help: "Symbols scored during evaluation",
		}, []string{"model"}),
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ppm_documents_total",
			Help: "Corpus documents by result",
		}, []string{"model", "result"}),
		nodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ppm_trie_nodes",
			Help: "Nodes in the model's suffix trie, root included",
		}, []string{"model"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ppm_operation_duration_seconds",
			Help:    "Model operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"model", "operation"}),
	}
}

func (pm *PerformanceMonitor) observe(model, op string, d time.Duration) {
	pm.duration.WithLabelValues(model, op).Observe(d.Seconds())
	pm.mu.Lock()
	defer pm.mu.Unlock()
	samples := append(pm.latencies[op], d)
	if len(samples) > maxLatencySamples {
		samples = samples[len(samples)-maxLatencySamples:]
	}
	pm.latencies[op] = samples
}

// RecordTraining records one training call.
func (pm *PerformanceMonitor) RecordTraining(model string, stats TrainStats, nodes int, d time.Duration) {
	pm.trainedSymbols.WithLabelValues(model).Add(float64(stats.GoodCount))
	pm.skippedTokens.WithLabelValues(model, "train").Add(float64(stats.SkippedCount))
	pm.documents.WithLabelValues(model, "trained").Add(float64(stats.Documents))
	pm.documents.WithLabelValues(model, "filtered").Add(float64(stats.Filtered))
	pm.nodes.WithLabelValues(model).Set(float64(nodes))
	pm.observe(model, "train", d)
}

// RecordEvaluation records one evaluation call. nodes changes only when the
// evaluation also trained.
func (pm *PerformanceMonitor) RecordEvaluation(model string, res EvalResult, nodes int, d time.Duration) {
	pm.evaluatedSymbols.WithLabelValues(model).Add(float64(res.GoodCount))
	pm.skippedTokens.WithLabelValues(model, "evaluate").Add(float64(res.SkippedCount))
	pm.nodes.WithLabelValues(model).Set(float64(nodes))
	pm.observe(model, "evaluate", d)
}

// RecordPrediction records one prediction call.
func (pm *PerformanceMonitor) RecordPrediction(model string, d time.Duration) {
	pm.observe(model, "predict", d)
}

// SetNodes publishes the node count of a freshly created or loaded model.
func (pm *PerformanceMonitor) SetNodes(model string, nodes int) {
	pm.nodes.WithLabelValues(model).Set(float64(nodes))
}

// Forget drops the per-model series of a deleted model.
func (pm *PerformanceMonitor) Forget(model string) {
	labels := prometheus.Labels{"model": model}
	pm.trainedSymbols.DeletePartialMatch(labels)
	pm.skippedTokens.DeletePartialMatch(labels)
	pm.evaluatedSymbols.DeletePartialMatch(labels)
	pm.documents.DeletePartialMatch(labels)
	pm.nodes.DeletePartialMatch(labels)
	pm.duration.DeletePartialMatch(labels)
}

// GetMetrics summarizes the recent latency window per operation.
func (pm *PerformanceMonitor) GetMetrics() map[string]any {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	metrics := map[string]any{
		"uptime_seconds": time.Since(pm.startTime).Seconds(),
	}
	for op, samples := range pm.latencies {
		if len(samples) == 0 {
			continue
		}
		var total time.Duration
		minLatency, maxLatency := samples[0], samples[0]
		for _, latency := range samples {
			total += latency
			minLatency = min(minLatency, latency)
			maxLatency = max(maxLatency, latency)
		}
		metrics["avg_"+op+"_latency_ms"] = float64(total.Nanoseconds()) / float64(len(samples)) / 1e6
		metrics["min_"+op+"_latency_ms"] = float64(minLatency.Nanoseconds()) / 1e6
		metrics["max_"+op+"_latency_ms"] = float64(maxLatency.Nanoseconds()) / 1e6
		metrics["total_"+op] = len(samples)
	}
	return metrics
}
