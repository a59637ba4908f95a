package ppm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-reflect"
	"github.com/oarkflow/filters"
	"github.com/oarkflow/json"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"
)

var (
	ErrUnsupportedInput = errors.New("ppm: unsupported corpus input")
	ErrEmptyRequest     = errors.New("ppm: no texts, records, path, or database config provided")
)

// DBConfig describes a database connection whose rows form a corpus.
type DBConfig struct {
	DBType  string `json:"type,omitempty" yaml:"type,omitempty"`
	DBHost  string `json:"host,omitempty" yaml:"host,omitempty"`
	DBPort  int    `json:"port,omitempty" yaml:"port,omitempty"`
	DBUser  string `json:"user,omitempty" yaml:"user,omitempty"`
	DBPass  string `json:"password,omitempty" yaml:"password,omitempty"`
	DBName  string `json:"database,omitempty" yaml:"database,omitempty"`
	DBQuery string `json:"query,omitempty" yaml:"query,omitempty"`
}

// DBRequest trains from an already open connection.
type DBRequest struct {
	DB    *squealx.DB
	Query string
}

// TrainRequest names one or more corpus sources. Every source present is
// consumed, in field order.
type TrainRequest struct {
	Texts     []string        `json:"texts,omitempty"`
	Records   []GenericRecord `json:"records,omitempty"`
	Path      string          `json:"path,omitempty"`
	Database  *DBConfig       `json:"database,omitempty"`
	Fields    []string        `json:"fields,omitempty"`
	Condition string          `json:"condition,omitempty"`
}

func (req TrainRequest) empty() bool {
	return len(req.Texts) == 0 && len(req.Records) == 0 && req.Path == "" && req.Database == nil
}

func (req TrainRequest) adaptOptions() []AdaptOption {
	return []AdaptOption{WithTextFields(req.Fields...), WithCondition(req.Condition)}
}

// corpus feeds adapted documents to a model one at a time.
type corpus struct {
	m     *LanguageModel
	cfg   AdaptConfig
	rule  *filters.Rule
	stats TrainStats
}

func (m *LanguageModel) newCorpus(opts ...AdaptOption) (*corpus, error) {
	c := &corpus{m: m}
	for _, opt := range opts {
		opt(&c.cfg)
	}
	if cond := strings.TrimSpace(c.cfg.Condition); cond != "" {
		rule, err := filters.ParseSQL(cond)
		if err != nil {
			return nil, fmt.Errorf("error parsing condition: %w", err)
		}
		c.rule = rule
	}
	return c, nil
}

// add trains on one document. Records that do not satisfy the condition are
// counted as filtered; plain strings are never filtered.
func (c *corpus) add(ctx context.Context, value any) error {
	if c.rule != nil && !(StringAdapter{}).CanHandle(value) {
		rec, ok := toGenericRecord(value)
		if !ok {
			var err error
			if rec, err = recordFromJSON(value); err != nil {
				return err
			}
		}
		if !c.rule.Match(map[string]any(rec)) {
			c.stats.Filtered++
			return nil
		}
	}
	text, err := AdaptText(ctx, value, WithTextFields(c.cfg.Fields...))
	if err != nil {
		return err
	}
	c.stats.Merge(c.m.TrainText(text))
	c.stats.Documents++
	return nil
}

func (c *corpus) done(source string) TrainStats {
	c.m.logger.Debug("corpus consumed",
		"model_id", c.m.ID,
		"source", source,
		"documents", c.stats.Documents,
		"filtered", c.stats.Filtered,
		"good", c.stats.GoodCount,
		"skipped", c.stats.SkippedCount,
		"nodes", c.m.trie.Len())
	return c.stats
}

// Build trains on input, dispatching on its type: a JSON array (as a string,
// []byte or io.Reader), a file path, a TrainRequest, a DBRequest, records or
// any slice of structs.
func (m *LanguageModel) Build(ctx context.Context, input any, opts ...AdaptOption) (TrainStats, error) {
	switch v := input.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			return m.BuildFromReader(ctx, strings.NewReader(v), opts...)
		}
		return m.BuildFromFile(ctx, v, opts...)
	case []byte:
		return m.BuildFromReader(ctx, bytes.NewReader(v), opts...)
	case io.Reader:
		return m.BuildFromReader(ctx, v, opts...)
	case DBRequest:
		return m.BuildFromDatabase(ctx, v, opts...)
	case TrainRequest:
		return m.BuildFromRequest(ctx, v)
	case []string, []GenericRecord, []map[string]any:
		return m.BuildFromRecords(ctx, v, opts...)
	default:
		if input != nil && reflect.ValueOf(input).Kind() == reflect.Slice {
			return m.BuildFromStruct(ctx, input, opts...)
		}
	}
	return TrainStats{}, fmt.Errorf("%w: %T", ErrUnsupportedInput, input)
}

// BuildFromRequest consumes every source named by req.
func (m *LanguageModel) BuildFromRequest(ctx context.Context, req TrainRequest) (TrainStats, error) {
	if req.empty() {
		return TrainStats{}, ErrEmptyRequest
	}
	var total TrainStats
	opts := req.adaptOptions()
	if len(req.Texts) > 0 {
		stats, err := m.BuildFromRecords(ctx, req.Texts, opts...)
		total.Merge(stats)
		if err != nil {
			return total, err
		}
	}
	if len(req.Records) > 0 {
		stats, err := m.BuildFromRecords(ctx, req.Records, opts...)
		total.Merge(stats)
		if err != nil {
			return total, err
		}
	}
	if req.Path != "" {
		stats, err := m.BuildFromFile(ctx, req.Path, opts...)
		total.Merge(stats)
		if err != nil {
			return total, err
		}
	}
	if req.Database != nil {
		stats, err := m.BuildFromDBConfig(ctx, *req.Database, opts...)
		total.Merge(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// BuildFromReader trains on each element of a JSON array. Decoding stops at
// the first malformed element; documents before it stay trained.
func (m *LanguageModel) BuildFromReader(ctx context.Context, r io.Reader, opts ...AdaptOption) (TrainStats, error) {
	c, err := m.newCorpus(opts...)
	if err != nil {
		return TrainStats{}, err
	}
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	tok, err := decoder.Token()
	if err != nil {
		return TrainStats{}, fmt.Errorf("failed to read JSON token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok || d != '[' {
		return TrainStats{}, fmt.Errorf("invalid JSON array, expected '[' got %v", tok)
	}
	docs := make(chan any, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(docs)
		for decoder.More() {
			if ctx.Err() != nil {
				return
			}
			var value any
			if err := decoder.Decode(&value); err != nil {
				m.logger.Warn("invalid corpus element", "model_id", m.ID, "error", err)
				errCh <- fmt.Errorf("decode corpus: %w", err)
				return
			}
			if obj, ok := value.(map[string]any); ok {
				value = GenericRecord(obj)
			}
			select {
			case docs <- value:
			case <-ctx.Done():
				return
			}
		}
	}()
	var addErr error
	for value := range docs {
		if addErr != nil {
			continue
		}
		addErr = c.add(ctx, value)
	}
	if addErr != nil {
		return c.stats, addErr
	}
	select {
	case err := <-errCh:
		return c.stats, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return c.stats, err
	}
	return c.done("reader"), nil
}

// BuildFromFile trains on the JSON array stored at path.
func (m *LanguageModel) BuildFromFile(ctx context.Context, path string, opts ...AdaptOption) (TrainStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return TrainStats{}, err
	}
	defer file.Close()
	return m.BuildFromReader(ctx, file, opts...)
}

// BuildFromRecords trains on texts, GenericRecords or plain maps.
func (m *LanguageModel) BuildFromRecords(ctx context.Context, records any, opts ...AdaptOption) (TrainStats, error) {
	c, err := m.newCorpus(opts...)
	if err != nil {
		return TrainStats{}, err
	}
	feed := func(value any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.add(ctx, value)
	}
	switch recSet := records.(type) {
	case []string:
		for _, text := range recSet {
			if err := feed(text); err != nil {
				return c.stats, err
			}
		}
	case []GenericRecord:
		for _, rec := range recSet {
			if err := feed(rec); err != nil {
				return c.stats, err
			}
		}
	case []map[string]any:
		for _, rec := range recSet {
			if err := feed(GenericRecord(rec)); err != nil {
				return c.stats, err
			}
		}
	default:
		return TrainStats{}, fmt.Errorf("%w: records type %T", ErrUnsupportedInput, records)
	}
	return c.done("records"), nil
}

// BuildFromStruct trains on every element of an arbitrary slice.
func (m *LanguageModel) BuildFromStruct(ctx context.Context, slice any, opts ...AdaptOption) (TrainStats, error) {
	c, err := m.newCorpus(opts...)
	if err != nil {
		return TrainStats{}, err
	}
	v := reflect.ValueOf(slice)
	if v.Kind() != reflect.Slice {
		return TrainStats{}, fmt.Errorf("%w: not a slice", ErrUnsupportedInput)
	}
	for i := 0; i < v.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return c.stats, err
		}
		if err := c.add(ctx, v.Index(i).Interface()); err != nil {
			return c.stats, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return c.done("slice"), nil
}

// BuildFromDatabase trains on the rows returned by req.Query.
func (m *LanguageModel) BuildFromDatabase(ctx context.Context, req DBRequest, opts ...AdaptOption) (TrainStats, error) {
	if req.DB == nil {
		return TrainStats{}, errors.New("no database provided")
	}
	if req.Query == "" {
		return TrainStats{}, errors.New("no query provided")
	}
	var data []map[string]any
	if err := req.DB.Select(&data, req.Query); err != nil {
		return TrainStats{}, err
	}
	return m.BuildFromRecords(ctx, data, opts...)
}

// BuildFromDBConfig connects with cfg and streams the rows of cfg.DBQuery.
func (m *LanguageModel) BuildFromDBConfig(ctx context.Context, cfg DBConfig, opts ...AdaptOption) (TrainStats, error) {
	if cfg.DBQuery == "" {
		return TrainStats{}, errors.New("no query provided")
	}
	c, err := m.newCorpus(opts...)
	if err != nil {
		return TrainStats{}, err
	}
	db, _, err := connection.FromConfig(squealx.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Driver:   cfg.DBType,
		Username: cfg.DBUser,
		Password: cfg.DBPass,
		Database: cfg.DBName,
	})
	if err != nil {
		return TrainStats{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	err = squealx.SelectEach(db, func(row map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.add(ctx, GenericRecord(row))
	}, cfg.DBQuery)
	if err != nil {
		return c.stats, err
	}
	return c.done("database"), nil
}
