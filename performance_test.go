package ppm

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceMonitor_Collectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPerformanceMonitor(reg)

	pm.RecordTraining("m", TrainStats{GoodCount: 10, SkippedCount: 2, Documents: 3, Filtered: 1}, 42, time.Millisecond)
	pm.RecordTraining("m", TrainStats{GoodCount: 5}, 50, time.Millisecond)
	pm.RecordEvaluation("m", EvalResult{GoodCount: 7, SkippedCount: 1}, 50, 2*time.Millisecond)
	pm.RecordPrediction("m", time.Millisecond)

	assert.Equal(t, 15.0, testutil.ToFloat64(pm.trainedSymbols.WithLabelValues("m")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.skippedTokens.WithLabelValues("m", "train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.skippedTokens.WithLabelValues("m", "evaluate")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pm.evaluatedSymbols.WithLabelValues("m")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.documents.WithLabelValues("m", "trained")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.documents.WithLabelValues("m", "filtered")))
	assert.Equal(t, 50.0, testutil.ToFloat64(pm.nodes.WithLabelValues("m")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ppm_operation_duration_seconds")
	assert.Contains(t, names, "ppm_trie_nodes")

	metrics := pm.GetMetrics()
	assert.Equal(t, 2, metrics["total_train"])
	assert.Equal(t, 1, metrics["total_evaluate"])
	assert.InDelta(t, 2.0, metrics["avg_evaluate_latency_ms"], 1e-9)
	assert.Contains(t, metrics, "uptime_seconds")

	pm.Forget("m")
	assert.Equal(t, 0, testutil.CollectAndCount(pm.trainedSymbols))
}

func TestPerformanceMonitor_NilRegisterer(t *testing.T) {
	pm := NewPerformanceMonitor(nil)
	pm.SetNodes("m", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.nodes.WithLabelValues("m")))
}
