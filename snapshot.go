package ppm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oarkflow/json"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/ppm/trie"
)

// SnapshotVersion identifies the snapshot layout.
const SnapshotVersion = 2

var (
	ErrChecksumMismatch   = errors.New("ppm: snapshot checksum mismatch")
	ErrUnsupportedVersion = errors.New("ppm: unsupported snapshot version")
	ErrVocabularyMismatch = errors.New("ppm: snapshot vocabulary does not cover its trie")
)

// Snapshot is a self-contained dump of a model: its settings, its vocabulary
// in symbol order and the flat node array of its trie. Analyzer is empty for
// custom analyzers, which the caller has to supply again on Restore.
type Snapshot struct {
	Version   int         `json:"version"`
	ID        string      `json:"id"`
	ModelID   string      `json:"model_id"`
	CreatedAt time.Time   `json:"created_at"`
	MaxOrder  int         `json:"max_order"`
	Exclusion bool        `json:"exclusion"`
	Strict    bool        `json:"strict,omitempty"`
	Analyzer  string      `json:"analyzer,omitempty"`
	Lowercase bool        `json:"lowercase,omitempty"`
	Tokens    []string    `json:"tokens"`
	Nodes     []trie.Node `json:"nodes"`
	Checksum  uint64      `json:"checksum"`
}

// Snapshot captures the current state of the model.
func (m *LanguageModel) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:   SnapshotVersion,
		ID:        xid.New().String(),
		ModelID:   m.ID,
		CreatedAt: time.Now().UTC(),
		MaxOrder:  m.maxOrder,
		Exclusion: m.useExclusion,
		Strict:    m.strict,
		Tokens:    m.vocab.Tokens(),
		Nodes:     m.trie.Nodes(),
	}
	snap.Analyzer, snap.Lowercase = analyzerSettings(m.analyzer)
	snap.Checksum = snap.computeChecksum()
	return snap
}

// computeChecksum hashes the fields that determine model behavior.
func (s *Snapshot) computeChecksum() uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	writeBool := func(v bool) {
		if v {
			writeUint(1)
		} else {
			writeUint(0)
		}
	}
	writeString := func(v string) {
		writeUint(uint64(len(v)))
		_, _ = d.WriteString(v)
	}
	writeUint(uint64(s.Version))
	writeUint(uint64(s.MaxOrder))
	writeBool(s.Exclusion)
	writeBool(s.Strict)
	writeString(s.Analyzer)
	writeBool(s.Lowercase)
	writeUint(uint64(len(s.Tokens)))
	for _, tok := range s.Tokens {
		writeString(tok)
	}
	writeUint(uint64(len(s.Nodes)))
	for _, n := range s.Nodes {
		writeUint(uint64(n.Symbol)<<32 | uint64(n.Count))
		writeUint(uint64(n.Child)<<32 | uint64(n.Next))
		writeUint(uint64(n.Backoff))
	}
	return d.Sum64()
}

// Verify checks the snapshot's checksum and layout.
func (s *Snapshot) Verify() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if got := s.computeChecksum(); got != s.Checksum {
		return fmt.Errorf("%w: have %016x, computed %016x", ErrChecksumMismatch, s.Checksum, got)
	}
	return nil
}

// Restore rebuilds a model from a snapshot with the snapshot's exclusion,
// strictness and analyzer. Options are applied on top of those settings, so
// the caller can still override any of them.
func Restore(snap *Snapshot, opts ...Options) (*LanguageModel, error) {
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	if len(snap.Tokens) == 0 || snap.Tokens[0] != RootToken {
		return nil, fmt.Errorf("%w: missing root token", ErrVocabularyMismatch)
	}
	vocab := NewVocabulary()
	if err := vocab.AddAll(snap.Tokens[1:]...); err != nil {
		return nil, err
	}
	if vocab.Size() != len(snap.Tokens) {
		return nil, fmt.Errorf("%w: duplicate tokens", ErrVocabularyMismatch)
	}
	base := []Options{
		WithExclusion(snap.Exclusion),
		WithStrictSymbols(snap.Strict),
		WithID(snap.ModelID),
	}
	if snap.Analyzer != "" {
		an, err := analyzerNamed(snap.Analyzer, snap.Lowercase)
		if err != nil {
			return nil, err
		}
		base = append(base, WithAnalyzer(an))
	}
	m, err := newModel(vocab, snap.MaxOrder, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	for _, n := range snap.Nodes {
		if int(n.Symbol) >= vocab.Size() {
			return nil, fmt.Errorf("%w: symbol %d", ErrVocabularyMismatch, n.Symbol)
		}
	}
	t, err := trie.FromNodes(snap.Nodes, m.trieOpts...)
	if err != nil {
		return nil, fmt.Errorf("restore trie: %w", err)
	}
	m.trie = t
	m.logger.Debug("language model restored",
		"model_id", m.ID,
		"snapshot_id", snap.ID,
		"nodes", t.Len())
	return m, nil
}

// SaveToDisk writes a snapshot of the model as JSON.
func (m *LanguageModel) SaveToDisk(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(m.Snapshot()); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Sync()
}

// LoadFromDisk restores a model saved with SaveToDisk.
func LoadFromDisk(path string, opts ...Options) (*LanguageModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return Restore(&snap, opts...)
}
