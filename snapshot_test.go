package ppm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedPangram(t *testing.T, opts ...Options) *LanguageModel {
	t.Helper()
	m := pangramModel(t, 3, opts...)
	m.TrainTexts(pangram, "the lazy dog sleeps", "a quick brown dog")
	return m
}

// requireSameDistributions compares two models along the same cursor path.
func requireSameDistributions(t *testing.T, want, got *LanguageModel, text string) {
	t.Helper()
	cw, cg := want.CreateContext(), got.CreateContext()
	require.Equal(t, want.Probabilities(cw), got.Probabilities(cg))
	for _, tok := range chars(text) {
		s, ok := want.Vocabulary().Symbol(tok)
		require.True(t, ok)
		require.NoError(t, want.Advance(cw, s))
		require.NoError(t, got.Advance(cg, s))
		require.Equal(t, want.Probabilities(cw), got.Probabilities(cg), "after %q", tok)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := trainedPangram(t, WithExclusion(true), WithID("pangram"))
	snap := m.Snapshot()
	require.NoError(t, snap.Verify())
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "pangram", snap.ModelID)
	assert.Equal(t, 3, snap.MaxOrder)
	assert.True(t, snap.Exclusion)
	assert.Equal(t, m.Vocabulary().Tokens(), snap.Tokens)
	assert.Len(t, snap.Nodes, m.NodeCount())

	restored, err := Restore(snap, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "pangram", restored.ID)
	assert.Equal(t, m.MaxOrder(), restored.MaxOrder())
	assert.True(t, restored.UseExclusion())
	assert.Equal(t, m.Stats(), restored.Stats())
	requireSameDistributions(t, m, restored, "the quick dog")

	// Restored models keep learning like the original.
	m.TrainText("over the fox")
	restored.TrainText("over the fox")
	assert.Equal(t, m.trie.Nodes(), restored.trie.Nodes())
}

func TestSnapshot_KeepsTokenization(t *testing.T) {
	m := trainedPangram(t,
		WithStrictSymbols(true),
		WithAnalyzer(NewCharAnalyzer(CharAnalyzerWithLowercase(true))))
	snap := m.Snapshot()
	assert.Equal(t, "char", snap.Analyzer)
	assert.True(t, snap.Lowercase)
	assert.True(t, snap.Strict)

	restored, err := Restore(snap, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.True(t, restored.Strict())
	assert.Equal(t, []string{"t", "h", "e"}, restored.Analyzer().Tokens("THE"))
	assert.Equal(t, m.EvaluateText("THE DOG", false), restored.EvaluateText("THE DOG", false))
	assert.ErrorIs(t, restored.Advance(restored.CreateContext(), Symbol(999)), ErrInvalidSymbol)
}

func TestSnapshot_WordAnalyzer(t *testing.T) {
	an := NewWordAnalyzer()
	vocab, err := BuildVocabulary(an, "the cat sat")
	require.NoError(t, err)
	m, err := New(vocab, 2, WithAnalyzer(an), WithLogger(quietLogger()))
	require.NoError(t, err)
	m.TrainText("the cat sat")
	path := filepath.Join(t.TempDir(), "words.ppm.json")
	require.NoError(t, m.SaveToDisk(path))

	loaded, err := LoadFromDisk(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.IsType(t, &WordAnalyzer{}, loaded.Analyzer())
	res := loaded.EvaluateText("the cat sat", false)
	assert.Equal(t, 3, res.GoodCount)
	assert.Zero(t, res.SkippedCount)
	assert.Equal(t, m.EvaluateText("the cat sat", false), res)

	overridden, err := LoadFromDisk(path, WithAnalyzer(NewCharAnalyzer()), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.IsType(t, &CharAnalyzer{}, overridden.Analyzer())
}

func TestSnapshot_CustomAnalyzerNotRecorded(t *testing.T) {
	m := trainedPangram(t, WithAnalyzer(AnalyzerFunc(chars)))
	snap := m.Snapshot()
	assert.Empty(t, snap.Analyzer)

	restored, err := Restore(snap, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.IsType(t, &CharAnalyzer{}, restored.Analyzer())
}

func TestSnapshot_IDsAreUnique(t *testing.T) {
	m := trainedPangram(t)
	a, b := m.Snapshot(), m.Snapshot()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Checksum, b.Checksum, "checksum covers content only")
}

func TestRestore_RejectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		wantErr error
	}{
		{name: "count", mutate: func(s *Snapshot) { s.Nodes[1].Count++ }, wantErr: ErrChecksumMismatch},
		{name: "token", mutate: func(s *Snapshot) { s.Tokens[1] = "?" }, wantErr: ErrChecksumMismatch},
		{name: "order", mutate: func(s *Snapshot) { s.MaxOrder = 7 }, wantErr: ErrChecksumMismatch},
		{name: "strict", mutate: func(s *Snapshot) { s.Strict = !s.Strict }, wantErr: ErrChecksumMismatch},
		{name: "analyzer", mutate: func(s *Snapshot) { s.Analyzer = "word" }, wantErr: ErrChecksumMismatch},
		{name: "lowercase", mutate: func(s *Snapshot) { s.Lowercase = !s.Lowercase }, wantErr: ErrChecksumMismatch},
		{name: "version", mutate: func(s *Snapshot) { s.Version = 99 }, wantErr: ErrUnsupportedVersion},
		{
			name: "unknown analyzer",
			mutate: func(s *Snapshot) {
				s.Analyzer = "bytes"
				s.Checksum = s.computeChecksum()
			},
			wantErr: ErrUnknownAnalyzer,
		},
		{
			name: "missing root token",
			mutate: func(s *Snapshot) {
				s.Tokens[0] = "root"
				s.Checksum = s.computeChecksum()
			},
			wantErr: ErrVocabularyMismatch,
		},
		{
			name: "symbol outside vocabulary",
			mutate: func(s *Snapshot) {
				s.Tokens = s.Tokens[:2]
				s.Checksum = s.computeChecksum()
			},
			wantErr: ErrVocabularyMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := trainedPangram(t).Snapshot()
			tt.mutate(snap)
			_, err := Restore(snap)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRestore_RejectsBrokenTrie(t *testing.T) {
	snap := trainedPangram(t).Snapshot()
	snap.Nodes[2].Backoff = snap.Nodes[2].Backoff + 1000000
	snap.Checksum = snap.computeChecksum()
	_, err := Restore(snap)
	assert.Error(t, err)
}

func TestSaveToDisk_LoadFromDisk(t *testing.T) {
	m := trainedPangram(t)
	path := filepath.Join(t.TempDir(), "model.ppm.json")
	require.NoError(t, m.SaveToDisk(path))

	loaded, err := LoadFromDisk(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	requireSameDistributions(t, m, loaded, "lazy brown fox")

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadFromDisk(path)
	assert.Error(t, err)

	_, err = LoadFromDisk(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
