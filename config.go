package ppm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/json"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// DefaultMaxOrder is the context length used when a Config leaves it unset.
const DefaultMaxOrder = 5

var ErrUnknownAnalyzer = errors.New("ppm: unknown analyzer")

// Config describes one model.
type Config struct {
	Name      string `json:"name" yaml:"name"`
	MaxOrder  *int   `json:"max_order,omitempty" yaml:"max_order,omitempty"`
	Exclusion bool   `json:"exclusion" yaml:"exclusion"`
	Strict    bool   `json:"strict" yaml:"strict"`
	// Analyzer is "char" (default) or "word".
	Analyzer  string `json:"analyzer,omitempty" yaml:"analyzer,omitempty"`
	Lowercase bool   `json:"lowercase,omitempty" yaml:"lowercase,omitempty"`
	// Alphabet contributes one token per rune, Tokens one token each.
	Alphabet string   `json:"alphabet,omitempty" yaml:"alphabet,omitempty"`
	Tokens   []string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Capacity int      `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// Order returns MaxOrder or DefaultMaxOrder when unset.
func (c Config) Order() int {
	if c.MaxOrder == nil {
		return DefaultMaxOrder
	}
	return *c.MaxOrder
}

// NewAnalyzer builds the analyzer the config names.
func (c Config) NewAnalyzer() (Analyzer, error) {
	return analyzerNamed(c.Analyzer, c.Lowercase)
}

// Vocabulary builds the configured vocabulary: alphabet runes first, then
// tokens.
func (c Config) Vocabulary() (*Vocabulary, error) {
	v := NewVocabulary()
	for _, r := range c.Alphabet {
		if _, err := v.Add(string(r)); err != nil {
			return nil, err
		}
	}
	if err := v.AddAll(c.Tokens...); err != nil {
		return nil, err
	}
	return v, nil
}

// Options translates the config into model options.
func (c Config) Options() ([]Options, error) {
	an, err := c.NewAnalyzer()
	if err != nil {
		return nil, err
	}
	opts := []Options{
		WithExclusion(c.Exclusion),
		WithStrictSymbols(c.Strict),
		WithAnalyzer(an),
	}
	if c.Capacity > 0 {
		opts = append(opts, WithCapacity(c.Capacity))
	}
	return opts, nil
}

// NewModel builds an untrained model from the config. extra options are
// applied last.
func (c Config) NewModel(vocab *Vocabulary, extra ...Options) (*LanguageModel, error) {
	if vocab == nil {
		var err error
		if vocab, err = c.Vocabulary(); err != nil {
			return nil, err
		}
	}
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return New(vocab, c.Order(), append(opts, extra...)...)
}

// StoreConfig selects where Manager keeps snapshots.
type StoreConfig struct {
	// Type is "memory" (default), "dir" or "badger".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Open creates the configured store.
func (sc StoreConfig) Open(logger *slog.Logger) (SnapshotStore, error) {
	switch strings.ToLower(sc.Type) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "dir", "directory":
		return NewDirStore(sc.Path)
	case "badger":
		return OpenBadgerStore(BadgerConfig{
			Path:       sc.Path,
			InMemory:   sc.Path == "",
			SyncWrites: true,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", sc.Type)
	}
}

// ManagerConfig configures a Manager and the models it starts with.
type ManagerConfig struct {
	Addr   string      `json:"addr,omitempty" yaml:"addr,omitempty"`
	Store  StoreConfig `json:"store" yaml:"store"`
	Models []Config    `json:"models,omitempty" yaml:"models,omitempty"`

	Logger     *slog.Logger          `json:"-" yaml:"-"`
	Registerer prometheus.Registerer `json:"-" yaml:"-"`
	Gatherer   prometheus.Gatherer   `json:"-" yaml:"-"`
}

// LoadConfig reads a ManagerConfig from a YAML or JSON file, chosen by
// extension.
func LoadConfig(path string) (*ManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg ManagerConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i, m := range cfg.Models {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("config %s: model %d has no name", path, i)
		}
	}
	return &cfg, nil
}
