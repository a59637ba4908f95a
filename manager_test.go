package ppm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oarkflow/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, models ...Config) *Manager {
	t.Helper()
	return newTestManagerWith(t, ManagerConfig{Models: models})
}

func newTestManagerWith(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	cfg.Logger = quietLogger()
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func intPtr(n int) *int { return &n }

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, Config{Name: "letters", MaxOrder: intPtr(3), Alphabet: "the quickbrownfxjmpsvlazydg"})
	assert.Equal(t, []string{"letters"}, mgr.List())

	err := mgr.Create("letters", Config{Alphabet: "ab"})
	assert.ErrorIs(t, err, ErrModelExists)

	stats, err := mgr.Train(ctx, "letters", TrainRequest{Texts: []string{pangram}})
	require.NoError(t, err)
	assert.Equal(t, len(pangram), stats.GoodCount)
	assert.Equal(t, 1, stats.Documents)

	info, err := mgr.Info("letters")
	require.NoError(t, err)
	assert.Equal(t, 3, info.MaxOrder)
	assert.Equal(t, 28, info.VocabularySize)
	assert.Greater(t, info.Trie.Nodes, 1)

	res, err := mgr.Evaluate(ctx, "letters", EvaluateRequest{Texts: []string{"the dog", "lazy fox"}})
	require.NoError(t, err)
	assert.Equal(t, 15, res.GoodCount)
	assert.Positive(t, res.Perplexity)
	after, err := mgr.Info("letters")
	require.NoError(t, err)
	assert.Equal(t, info.Trie, after.Trie, "evaluation without update leaves the trie alone")

	preds, err := mgr.Predict(ctx, "letters", PredictRequest{Prefix: "the laz", K: 1})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "y", preds[0].Token)

	require.NoError(t, mgr.Save("letters"))
	require.NoError(t, mgr.Delete("letters"))
	_, ok := mgr.Get("letters")
	assert.False(t, ok)
	assert.ErrorIs(t, mgr.Delete("letters"), ErrModelNotFound)

	require.NoError(t, mgr.Load("letters"))
	reloaded, err := mgr.Info("letters")
	require.NoError(t, err)
	assert.Equal(t, info.Trie, reloaded.Trie)
	assert.Equal(t, info.ID, reloaded.ID)

	assert.ErrorIs(t, mgr.Load("missing"), ErrSnapshotNotFound)
	_, err = mgr.Train(ctx, "missing", TrainRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestManager_LoadReplacesRegisteredModel(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, Config{Name: "m", MaxOrder: intPtr(2), Alphabet: "ab"})
	require.NoError(t, mgr.Save("m"))

	_, err := mgr.Train(ctx, "m", TrainRequest{Texts: []string{"abab"}})
	require.NoError(t, err)
	require.NoError(t, mgr.Load("m"))

	info, err := mgr.Info("m")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Trie.Nodes, "snapshot predates training")
}

func TestManager_LoadInFreshManagerKeepsTokenization(t *testing.T) {
	ctx := context.Background()
	store := StoreConfig{Type: "dir", Path: t.TempDir()}

	first, err := NewManager(ManagerConfig{Store: store, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, first.CreateFromRequest(CreateModelRequest{
		Config: Config{Name: "words", Analyzer: "word", MaxOrder: intPtr(2)},
		Seed:   []string{"the cat sat"},
	}))
	require.NoError(t, first.Create("letters", Config{Alphabet: "the", Lowercase: true, Strict: true}))
	for _, name := range []string{"words", "letters"} {
		_, err = first.Train(ctx, name, TrainRequest{Texts: []string{"the cat sat"}})
		require.NoError(t, err)
		require.NoError(t, first.Save(name))
	}
	want, err := first.Evaluate(ctx, "words", EvaluateRequest{Texts: []string{"the cat sat"}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestManagerWith(t, ManagerConfig{Store: store})
	require.NoError(t, second.Load("words"))
	require.NoError(t, second.Load("letters"))

	info, err := second.Info("words")
	require.NoError(t, err)
	assert.Equal(t, "word", info.Analyzer)
	assert.Equal(t, 2, info.MaxOrder)
	got, err := second.Evaluate(ctx, "words", EvaluateRequest{Texts: []string{"the cat sat"}})
	require.NoError(t, err)
	assert.Equal(t, 3, got.GoodCount)
	assert.Zero(t, got.SkippedCount)
	assert.Equal(t, want, got)

	info, err = second.Info("letters")
	require.NoError(t, err)
	assert.Equal(t, "char", info.Analyzer)
	assert.True(t, info.Strict)
	res, err := second.Evaluate(ctx, "letters", EvaluateRequest{Texts: []string{"THE"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.GoodCount, "lower-casing survives the reload")
}

func TestManager_CreateFromSeed(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.CreateFromRequest(CreateModelRequest{
		Config: Config{Name: "words", Analyzer: "word", MaxOrder: intPtr(2)},
		Seed:   []string{"to be or not to be"},
	})
	require.NoError(t, err)
	info, err := mgr.Info("words")
	require.NoError(t, err)
	assert.Equal(t, 5, info.VocabularySize)

	err = mgr.CreateFromRequest(CreateModelRequest{Config: Config{Name: "bad", Analyzer: "bytes"}, Seed: []string{"x"}})
	assert.ErrorIs(t, err, ErrUnknownAnalyzer)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestManager_Handler(t *testing.T) {
	mgr := newTestManager(t)
	h := mgr.Handler()

	rec := doRequest(t, h, http.MethodPost, "/models", `{"name": "chat", "max_order": 3, "seed": ["the cat sat on the mat"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var info ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "chat", info.Name)
	assert.Equal(t, 3, info.MaxOrder)

	rec = doRequest(t, h, http.MethodPost, "/models", `{"name": "chat", "alphabet": "ab"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doRequest(t, h, http.MethodPost, "/models", `{"alphabet": "ab"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, h, http.MethodPost, "/models", `{"name": "odd", "analyzer": "bytes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/chat/train", `{"texts": ["the cat sat on the mat"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats TrainStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 22, stats.GoodCount)

	rec = doRequest(t, h, http.MethodPost, "/chat/train", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, h, http.MethodPost, "/chat/train", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/chat/evaluate", `{"texts": ["the cat"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res EvalResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 7, res.GoodCount)

	rec = doRequest(t, h, http.MethodGet, "/chat/predict?q=the+c&k=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var preds []Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preds))
	require.Len(t, preds, 1)
	assert.Equal(t, "a", preds[0].Token)

	rec = doRequest(t, h, http.MethodPost, "/chat/predict", `{"prefix": "the m", "k": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preds))
	assert.Len(t, preds, 2)

	rec = doRequest(t, h, http.MethodGet, "/chat/predict?k=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/chat/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/models", "")
	assert.JSONEq(t, `["chat"]`, rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ppm_trained_symbols_total{model="chat"} 22`)
	assert.Contains(t, rec.Body.String(), "ppm_operation_duration_seconds")

	rec = doRequest(t, h, http.MethodGet, "/metrics/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "avg_train_latency_ms")

	assert.Equal(t, http.StatusNoContent, doRequest(t, h, http.MethodPost, "/chat/save", "").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(t, h, http.MethodDelete, "/chat", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/chat/stats", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodPost, "/chat/predict", `{"prefix": "a"}`).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(t, h, http.MethodPost, "/chat/load", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/chat/stats", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodPost, "/other/load", "").Code)
}

func TestTrainRequest_Checksum(t *testing.T) {
	a, err := TrainRequest{Texts: []string{"x"}}.Checksum()
	require.NoError(t, err)
	b, err := TrainRequest{Texts: []string{"x"}}.Checksum()
	require.NoError(t, err)
	c, err := TrainRequest{Texts: []string{"y"}}.Checksum()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
