package ppm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oarkflow/json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oarkflow/ppm/trie"
)

var (
	ErrModelNotFound = errors.New("ppm: model not found")
	ErrModelExists   = errors.New("ppm: model already exists")
)

// modelEntry serializes training of one model against its readers.
type modelEntry struct {
	mu     sync.RWMutex
	model  *LanguageModel
	config Config
}

// Manager owns named models and their snapshots.
type Manager struct {
	mu       sync.RWMutex
	models   map[string]*modelEntry
	store    SnapshotStore
	monitor  *PerformanceMonitor
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewManager opens the configured store and creates the configured models.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg, gatherer := cfg.Registerer, cfg.Gatherer
	if reg == nil {
		registry := prometheus.NewRegistry()
		reg, gatherer = registry, registry
	}
	if gatherer == nil {
		if g, ok := reg.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}
	store, err := cfg.Store.Open(logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	m := &Manager{
		models:   make(map[string]*modelEntry),
		store:    store,
		monitor:  NewPerformanceMonitor(reg),
		gatherer: gatherer,
		logger:   logger,
	}
	for _, mc := range cfg.Models {
		if err := m.Create(mc.Name, mc); err != nil {
			store.Close()
			return nil, err
		}
	}
	return m, nil
}

// Close releases the snapshot store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Monitor exposes the manager's performance monitor.
func (m *Manager) Monitor() *PerformanceMonitor {
	return m.monitor
}

// Create builds an untrained model from cfg under name.
func (m *Manager) Create(name string, cfg Config) error {
	cfg.Name = name
	model, err := cfg.NewModel(nil, WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("create model %s: %w", name, err)
	}
	return m.Add(name, model, cfg)
}

// Add registers an existing model under name.
func (m *Manager) Add(name string, model *LanguageModel, cfg Config) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[name]; ok {
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	cfg.Name = name
	m.models[name] = &modelEntry{model: model, config: cfg}
	m.monitor.SetNodes(name, model.NodeCount())
	m.logger.Info("model registered", "model", name, "model_id", model.ID)
	return nil
}

func (m *Manager) entry(name string) (*modelEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return e, nil
}

// Get returns the named model. Callers must not train it directly while the
// manager may be serving it.
func (m *Manager) Get(name string) (*LanguageModel, bool) {
	e, err := m.entry(name)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model, true
}

// Delete forgets the named model. Stored snapshots are kept.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[name]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	delete(m.models, name)
	m.monitor.Forget(name)
	return nil
}

// List returns the registered model names in order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checksum identifies a training request in logs.
func (req TrainRequest) Checksum() (uint64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshaling train request: %w", err)
	}
	return xxhash.Sum64(payload), nil
}

// Train feeds req's corpus to the named model.
func (m *Manager) Train(ctx context.Context, name string, req TrainRequest) (TrainStats, error) {
	e, err := m.entry(name)
	if err != nil {
		return TrainStats{}, err
	}
	sum, err := req.Checksum()
	if err != nil {
		return TrainStats{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	stats, err := e.model.BuildFromRequest(ctx, req)
	elapsed := time.Since(start)
	m.monitor.RecordTraining(name, stats, e.model.NodeCount(), elapsed)
	if err != nil {
		m.logger.Error("training failed",
			"model", name,
			"request", strconv.FormatUint(sum, 16),
			"error", err)
		return stats, err
	}
	m.logger.Info("model trained",
		"model", name,
		"request", strconv.FormatUint(sum, 16),
		"documents", stats.Documents,
		"good", stats.GoodCount,
		"skipped", stats.SkippedCount,
		"nodes", e.model.NodeCount(),
		"duration", elapsed)
	return stats, nil
}

// EvaluateRequest scores texts, each from a fresh context.
type EvaluateRequest struct {
	Texts []string `json:"texts"`
	// Update trains the model on the texts while scoring them.
	Update bool `json:"update,omitempty"`
}

// Evaluate scores req.Texts against the named model.
func (m *Manager) Evaluate(ctx context.Context, name string, req EvaluateRequest) (EvalResult, error) {
	e, err := m.entry(name)
	if err != nil {
		return EvalResult{}, err
	}
	if req.Update {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}
	start := time.Now()
	var res EvalResult
	for _, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Merge(e.model.EvaluateText(text, req.Update))
	}
	res.finish()
	m.monitor.RecordEvaluation(name, res, e.model.NodeCount(), time.Since(start))
	return res, nil
}

// PredictRequest asks for the K most likely tokens after Prefix.
type PredictRequest struct {
	Prefix string `json:"prefix"`
	K      int    `json:"k,omitempty"`
}

// Predict ranks next tokens for req.Prefix.
func (m *Manager) Predict(ctx context.Context, name string, req PredictRequest) ([]Prediction, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := time.Now()
	out := e.model.PredictAfter(req.Prefix, req.K)
	m.monitor.RecordPrediction(name, time.Since(start))
	return out, nil
}

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name           string     `json:"name"`
	ID             string     `json:"id"`
	MaxOrder       int        `json:"max_order"`
	Exclusion      bool       `json:"exclusion"`
	Strict         bool       `json:"strict"`
	Analyzer       string     `json:"analyzer,omitempty"`
	VocabularySize int        `json:"vocabulary_size"`
	Trie           trie.Stats `json:"trie"`
}

// Info reports the named model's settings and trie shape.
func (m *Manager) Info(name string) (ModelInfo, error) {
	e, err := m.entry(name)
	if err != nil {
		return ModelInfo{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	analyzer, _ := analyzerSettings(e.model.Analyzer())
	return ModelInfo{
		Name:           name,
		ID:             e.model.ID,
		MaxOrder:       e.model.MaxOrder(),
		Exclusion:      e.model.UseExclusion(),
		Strict:         e.model.Strict(),
		Analyzer:       analyzer,
		VocabularySize: e.model.Vocabulary().Size(),
		Trie:           e.model.Stats(),
	}, nil
}

// Save stores a snapshot of the named model under its name.
func (m *Manager) Save(name string) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}
	e.mu.RLock()
	snap := e.model.Snapshot()
	e.mu.RUnlock()
	if err := m.store.Put(name, snap); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	m.logger.Info("model saved", "model", name, "snapshot_id", snap.ID, "nodes", len(snap.Nodes))
	return nil
}

// Load restores the named model from its snapshot, replacing the registered
// model if there is one and keeping its config. Models not registered yet
// take their settings from the snapshot.
func (m *Manager) Load(name string) error {
	snap, err := m.store.Get(name)
	if err != nil {
		return err
	}
	order := snap.MaxOrder
	cfg := Config{
		Name:      name,
		MaxOrder:  &order,
		Exclusion: snap.Exclusion,
		Strict:    snap.Strict,
		Analyzer:  snap.Analyzer,
		Lowercase: snap.Lowercase,
	}
	existing, _ := m.entry(name)
	if existing != nil {
		existing.mu.RLock()
		cfg = existing.config
		existing.mu.RUnlock()
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	model, err := Restore(snap, append(opts, WithLogger(m.logger))...)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if existing != nil {
		existing.mu.Lock()
		existing.model = model
		existing.mu.Unlock()
		m.monitor.SetNodes(name, model.NodeCount())
		m.logger.Info("model reloaded", "model", name, "snapshot_id", snap.ID)
		return nil
	}
	return m.Add(name, model, cfg)
}

// CreateModelRequest creates a model. Seed texts extend the configured
// vocabulary with every token they contain.
type CreateModelRequest struct {
	Config
	Seed []string `json:"seed,omitempty"`
}

// CreateFromRequest builds a model whose vocabulary may come from seed texts.
func (m *Manager) CreateFromRequest(req CreateModelRequest) error {
	if len(req.Seed) == 0 {
		return m.Create(req.Name, req.Config)
	}
	vocab, err := req.Config.Vocabulary()
	if err != nil {
		return err
	}
	an, err := req.Config.NewAnalyzer()
	if err != nil {
		return err
	}
	for _, text := range req.Seed {
		if err := vocab.AddAll(an.Tokens(text)...); err != nil {
			return err
		}
	}
	model, err := req.Config.NewModel(vocab, WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("create model %s: %w", req.Name, err)
	}
	return m.Add(req.Name, model, req.Config)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrModelNotFound), errors.Is(err, ErrSnapshotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrModelExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrVocabularyTooSmall),
		errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrUnknownAnalyzer),
		errors.Is(err, ErrUnsupportedInput), errors.Is(err, ErrEmptyRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("error unmarshalling request: %w", err)
	}
	return nil
}

// Handler serves the manager's HTTP API and Prometheus metrics.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.monitor.GetMetrics())
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.List())
	})
	mux.HandleFunc("POST /models", func(w http.ResponseWriter, r *http.Request) {
		var req CreateModelRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			http.Error(w, "model name required in request body", http.StatusBadRequest)
			return
		}
		if err := m.CreateFromRequest(req); err != nil {
			writeError(w, err)
			return
		}
		info, err := m.Info(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
	})
	mux.HandleFunc("DELETE /{model}", func(w http.ResponseWriter, r *http.Request) {
		if err := m.Delete(r.PathValue("model")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /{model}/stats", func(w http.ResponseWriter, r *http.Request) {
		info, err := m.Info(r.PathValue("model"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
	mux.HandleFunc("POST /{model}/train", func(w http.ResponseWriter, r *http.Request) {
		var req TrainRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stats, err := m.Train(r.Context(), r.PathValue("model"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	mux.HandleFunc("POST /{model}/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := m.Evaluate(r.Context(), r.PathValue("model"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("GET /{model}/predict", func(w http.ResponseWriter, r *http.Request) {
		req := PredictRequest{Prefix: r.URL.Query().Get("q")}
		if k := r.URL.Query().Get("k"); k != "" {
			n, err := strconv.Atoi(k)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid k: %v", err), http.StatusBadRequest)
				return
			}
			req.K = n
		}
		m.servePredict(w, r, req)
	})
	mux.HandleFunc("POST /{model}/predict", func(w http.ResponseWriter, r *http.Request) {
		var req PredictRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.servePredict(w, r, req)
	})
	mux.HandleFunc("POST /{model}/save", func(w http.ResponseWriter, r *http.Request) {
		if err := m.Save(r.PathValue("model")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /{model}/load", func(w http.ResponseWriter, r *http.Request) {
		if err := m.Load(r.PathValue("model")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (m *Manager) servePredict(w http.ResponseWriter, r *http.Request, req PredictRequest) {
	out, err := m.Predict(r.Context(), r.PathValue("model"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// StartHTTP serves Handler on addr until ctx is cancelled.
func (m *Manager) StartHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
