package ppm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recordsJSON = `[
	{"lang": "en", "body": "the cat"},
	{"lang": "fr", "body": "le chat"},
	{"lang": "en", "body": "the hat"}
]`

func corpusModel(t *testing.T) *LanguageModel {
	t.Helper()
	vocab, err := BuildVocabulary(nil, "the cat", "le chat", "the hat")
	require.NoError(t, err)
	m, err := New(vocab, 3, WithLogger(quietLogger()))
	require.NoError(t, err)
	return m
}

func TestBuildFromReader_Strings(t *testing.T) {
	m := corpusModel(t)
	stats, err := m.BuildFromReader(context.Background(), strings.NewReader(`["the cat", "the hat"]`))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 14, stats.GoodCount)
	assert.Zero(t, stats.SkippedCount)

	reference := corpusModel(t)
	reference.TrainTexts("the cat", "the hat")
	assert.Equal(t, reference.trie.Nodes(), m.trie.Nodes())
}

func TestBuildFromReader_RecordsWithFields(t *testing.T) {
	m := corpusModel(t)
	stats, err := m.BuildFromReader(context.Background(), strings.NewReader(recordsJSON), WithTextFields("body"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 21, stats.GoodCount)
}

func TestBuildFromRecords_Condition(t *testing.T) {
	m := corpusModel(t)
	records := []GenericRecord{
		{"lang": "en", "body": "the cat"},
		{"lang": "fr", "body": "le chat"},
		{"lang": "en", "body": "the hat"},
	}
	stats, err := m.BuildFromRecords(context.Background(), records, WithTextFields("body"), WithCondition("lang = 'en'"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 14, stats.GoodCount)
}

func TestBuildFromReader_Errors(t *testing.T) {
	m := corpusModel(t)
	ctx := context.Background()

	_, err := m.BuildFromReader(ctx, strings.NewReader(`{"not": "an array"}`))
	assert.Error(t, err)

	_, err = m.BuildFromReader(ctx, strings.NewReader(``))
	assert.Error(t, err)

	stats, err := m.BuildFromReader(ctx, strings.NewReader(`["the cat", 42]`))
	assert.ErrorIs(t, err, errNoAdapter)
	assert.Equal(t, 1, stats.Documents, "documents before the failure stay trained")
}

func TestBuildFromReader_Cancelled(t *testing.T) {
	m := corpusModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.BuildFromReader(ctx, strings.NewReader(`["the cat", "the hat"]`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildFromStruct(t *testing.T) {
	type doc struct {
		Body string `json:"body"`
	}
	m := corpusModel(t)
	stats, err := m.BuildFromStruct(context.Background(), []doc{{Body: "the cat"}, {Body: "le chat"}})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 14, stats.GoodCount)

	_, err = m.BuildFromStruct(context.Background(), doc{})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestBuild_Dispatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(recordsJSON), 0o600))

	tests := []struct {
		name  string
		input any
		docs  int
	}{
		{name: "json string", input: `["the cat"]`, docs: 1},
		{name: "json bytes", input: []byte(`["the cat", "the hat"]`), docs: 2},
		{name: "reader", input: strings.NewReader(`["le chat"]`), docs: 1},
		{name: "file path", input: path, docs: 3},
		{name: "texts", input: []string{"the cat", "le chat"}, docs: 2},
		{name: "maps", input: []map[string]any{{"body": "the cat"}}, docs: 1},
		{name: "train request", input: TrainRequest{Texts: []string{"the hat"}, Path: path, Fields: []string{"body"}}, docs: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := corpusModel(t)
			stats, err := m.Build(context.Background(), tt.input, WithTextFields("body"))
			require.NoError(t, err)
			assert.Equal(t, tt.docs, stats.Documents)
			assert.Positive(t, stats.GoodCount)
		})
	}
}

func TestBuild_Unsupported(t *testing.T) {
	m := corpusModel(t)
	_, err := m.Build(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = m.Build(context.Background(), TrainRequest{})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = m.Build(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildFromDatabase_RequiresConnection(t *testing.T) {
	m := corpusModel(t)
	_, err := m.BuildFromDatabase(context.Background(), DBRequest{Query: "SELECT 1"})
	assert.Error(t, err)

	_, err = m.BuildFromDBConfig(context.Background(), DBConfig{DBType: "postgres"})
	assert.Error(t, err)
}
