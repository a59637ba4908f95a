// Package ppm implements an adaptive Prediction by Partial Matching language
// model. A suffix trie with backoff links is grown online from observed
// symbol sequences and queried through Context cursors for interpolated
// Kneser-Ney estimates over the whole vocabulary.
//
// A LanguageModel is not safe for concurrent training. Any number of
// goroutines may read it (Advance, Probabilities, Evaluate without update)
// while no training runs; Manager provides that serialization for named
// models.
package ppm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/oarkflow/xid"

	"github.com/oarkflow/ppm/trie"
)

var (
	ErrVocabularyTooSmall = errors.New("ppm: vocabulary needs the root and at least one symbol")
	ErrInvalidOrder       = errors.New("ppm: max order must not be negative")
	ErrInvalidSymbol      = errors.New("ppm: symbol outside the vocabulary")
	ErrNilVocabulary      = errors.New("ppm: nil vocabulary")
)

// LanguageModel is a PPM model over a Vocabulary.
type LanguageModel struct {
	ID           string
	vocab        *Vocabulary
	trie         *trie.Trie
	maxOrder     int
	useExclusion bool
	strict       bool
	analyzer     Analyzer
	logger       *slog.Logger
	trieOpts     []trie.Options
}

// Options configures a LanguageModel.
type Options func(*LanguageModel)

// WithExclusion toggles the exclusion mechanism: a symbol estimated at a
// longer context is not re-estimated at shorter ones.
func WithExclusion(enable bool) Options {
	return func(m *LanguageModel) {
		m.useExclusion = enable
	}
}

// WithStrictSymbols makes Advance and AdvanceAndTrain reject symbols outside
// the vocabulary with ErrInvalidSymbol. When disabled (the default) such
// calls are silently ignored.
func WithStrictSymbols(strict bool) Options {
	return func(m *LanguageModel) {
		m.strict = strict
	}
}

// WithCapacity preallocates room for n trie nodes.
func WithCapacity(n int) Options {
	return func(m *LanguageModel) {
		m.trieOpts = append(m.trieOpts, trie.WithCapacity(n))
	}
}

// WithGrowth grows node storage n nodes at a time.
func WithGrowth(n int) Options {
	return func(m *LanguageModel) {
		m.trieOpts = append(m.trieOpts, trie.WithGrowth(n))
	}
}

// WithAnalyzer sets how TrainText and EvaluateText split text into tokens.
func WithAnalyzer(an Analyzer) Options {
	return func(m *LanguageModel) {
		if an != nil {
			m.analyzer = an
		}
	}
}

// WithLogger sets the logger for model events. Nil keeps slog.Default.
func WithLogger(logger *slog.Logger) Options {
	return func(m *LanguageModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithID overrides the generated model ID.
func WithID(id string) Options {
	return func(m *LanguageModel) {
		if id != "" {
			m.ID = id
		}
	}
}

// New creates an untrained model. The vocabulary is shared, not copied, and
// may keep growing after the model is built.
func New(vocab *Vocabulary, maxOrder int, opts ...Options) (*LanguageModel, error) {
	m, err := newModel(vocab, maxOrder, opts...)
	if err != nil {
		return nil, err
	}
	m.trie = trie.NewTrie(m.trieOpts...)
	m.logger.Debug("language model created",
		"model_id", m.ID,
		"max_order", m.maxOrder,
		"vocabulary_size", vocab.Size(),
		"exclusion", m.useExclusion,
		"strict", m.strict)
	return m, nil
}

func newModel(vocab *Vocabulary, maxOrder int, opts ...Options) (*LanguageModel, error) {
	if vocab == nil {
		return nil, ErrNilVocabulary
	}
	if vocab.Size() <= 1 {
		return nil, ErrVocabularyTooSmall
	}
	if maxOrder < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, maxOrder)
	}
	m := &LanguageModel{
		ID:       xid.New().String(),
		vocab:    vocab,
		maxOrder: maxOrder,
		analyzer: defaultAnalyzer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Vocabulary returns the vocabulary the model predicts over.
func (m *LanguageModel) Vocabulary() *Vocabulary {
	return m.vocab
}

// MaxOrder returns the longest context the model conditions on.
func (m *LanguageModel) MaxOrder() int {
	return m.maxOrder
}

// UseExclusion reports whether the exclusion mechanism is enabled.
func (m *LanguageModel) UseExclusion() bool {
	return m.useExclusion
}

// Analyzer returns the analyzer used by the text helpers.
func (m *LanguageModel) Analyzer() Analyzer {
	return m.analyzer
}

// NodeCount returns the number of trie nodes, root included.
func (m *LanguageModel) NodeCount() int {
	return m.trie.Len()
}

// Stats walks the trie and summarizes its shape.
func (m *LanguageModel) Stats() trie.Stats {
	return m.trie.Stats()
}

// CreateContext returns a cursor at the empty context.
func (m *LanguageModel) CreateContext() *Context {
	return newContext()
}

// CloneContext returns an independent copy of c.
func (m *LanguageModel) CloneContext(c *Context) *Context {
	return c.Clone()
}

// Strict reports whether out-of-vocabulary symbols are rejected.
func (m *LanguageModel) Strict() bool {
	return m.strict
}

// checkSymbol reports whether s should be applied. The root symbol is always
// skipped; out-of-range symbols fail in strict mode and are skipped otherwise.
func (m *LanguageModel) checkSymbol(s Symbol) (bool, error) {
	if s == RootSymbol {
		return false, nil
	}
	if int(s) >= m.vocab.Size() {
		if m.strict {
			return false, fmt.Errorf("%w: %d (vocabulary size %d)", ErrInvalidSymbol, s, m.vocab.Size())
		}
		return false, nil
	}
	return true, nil
}

// Advance moves c forward by s without changing the model. When the longer
// context has never been seen the cursor backs off until it finds one that
// has, falling back to the empty context.
func (m *LanguageModel) Advance(c *Context, s Symbol) error {
	ok, err := m.checkSymbol(s)
	if !ok {
		return err
	}
	for {
		if c.order < m.maxOrder {
			if child := m.trie.FindChild(c.head, s); child != trie.Null {
				c.head = child
				c.order++
				return nil
			}
		}
		c.order--
		backoff := m.trie.Backoff(c.head)
		if backoff == trie.Null {
			break
		}
		c.head = backoff
	}
	c.Reset()
	return nil
}

// AdvanceAndTrain records s after c in the model and moves c forward.
func (m *LanguageModel) AdvanceAndTrain(c *Context, s Symbol) error {
	ok, err := m.checkSymbol(s)
	if !ok {
		return err
	}
	c.head = m.trie.Insert(s, c.head)
	c.order++
	for c.order > m.maxOrder {
		backoff := m.trie.Backoff(c.head)
		if backoff == trie.Null {
			panic(fmt.Sprintf("ppm: node %s has no backoff while shortening %s", c.head, c))
		}
		c.head = backoff
		c.order--
	}
	return nil
}

// String describes the model for logs.
func (m *LanguageModel) String() string {
	return fmt.Sprintf("(LanguageModel %s order %d nodes %d)", m.ID, m.maxOrder, m.trie.Len())
}
