package ppm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-reflect"
	"github.com/oarkflow/json"

	"github.com/oarkflow/ppm/utils"
)

// GenericRecord is a decoded corpus row.
type GenericRecord map[string]any

// Text joins the string forms of the record's values in key order. When
// fields is non-empty only those keys are used.
func (rec GenericRecord) Text(fields ...string) string {
	keys := make([]string, 0, len(rec))
	if len(fields) > 0 {
		for _, f := range fields {
			if _, ok := rec[f]; ok {
				keys = append(keys, f)
			}
		}
	} else {
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s := utils.ToString(rec[k]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// TextAdapter turns arbitrary inputs into training text.
type TextAdapter interface {
	CanHandle(value any) bool
	Adapt(ctx context.Context, value any, cfg AdaptConfig) (string, error)
}

// AdaptConfig carries knobs that influence how adapters interpret inputs.
type AdaptConfig struct {
	// Fields selects which record fields hold text. Empty means all of them.
	Fields []string
	// Condition is an SQL-like filter records must satisfy to be trained on.
	Condition string
}

// AdaptOption mutates AdaptConfig.
type AdaptOption func(*AdaptConfig)

// WithTextFields restricts record adaptation to the given fields, in order.
func WithTextFields(fields ...string) AdaptOption {
	return func(cfg *AdaptConfig) {
		cfg.Fields = fields
	}
}

// WithCondition trains only on records matching cond, for example
// "lang = 'en' AND score > 3".
func WithCondition(cond string) AdaptOption {
	return func(cfg *AdaptConfig) {
		cfg.Condition = cond
	}
}

var (
	errNoAdapter           = errors.New("ppm: no text adapter registered for value")
	defaultAdapterRegistry = newAdapterRegistry()
)

// AdaptText converts any supported value into text using registered adapters.
func AdaptText(ctx context.Context, value any, opts ...AdaptOption) (string, error) {
	cfg := AdaptConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if rec, ok := toGenericRecord(value); ok {
		return rec.Text(cfg.Fields...), nil
	}
	adapter, ok := defaultAdapterRegistry.adapterFor(value)
	if !ok {
		return "", fmt.Errorf("%w: %T", errNoAdapter, value)
	}
	return adapter.Adapt(ctx, value, cfg)
}

// toGenericRecord attempts to coerce known map types into GenericRecord.
func toGenericRecord(value any) (GenericRecord, bool) {
	switch v := value.(type) {
	case GenericRecord:
		return v, true
	case map[string]any:
		return GenericRecord(v), true
	default:
		return nil, false
	}
}

// adapterRegistry keeps a prioritized list of adapters.
type adapterRegistry struct {
	mu       sync.RWMutex
	adapters []TextAdapter
}

func newAdapterRegistry() *adapterRegistry {
	return &adapterRegistry{adapters: make([]TextAdapter, 0, 8)}
}

func (ar *adapterRegistry) register(adapter TextAdapter) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.adapters = append(ar.adapters, adapter)
}

func (ar *adapterRegistry) adapterFor(value any) (TextAdapter, bool) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()
	for _, adapter := range ar.adapters {
		if adapter.CanHandle(value) {
			return adapter, true
		}
	}
	return nil, false
}

// RegisterTextAdapter adds a new adapter globally. Adapters registered later
// are consulted after the built-in ones.
func RegisterTextAdapter(adapter TextAdapter) {
	defaultAdapterRegistry.register(adapter)
}

// ------------------- Default Adapters -------------------

type StringAdapter struct{}

func (StringAdapter) CanHandle(value any) bool {
	switch value.(type) {
	case string, []byte:
		return true
	default:
		return false
	}
}

func (StringAdapter) Adapt(_ context.Context, value any, _ AdaptConfig) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("string adapter cannot handle %T", value)
	}
}

// MapAdapter handles maps of any key and value type by round-tripping them
// through JSON into a GenericRecord.
type MapAdapter struct{}

func (MapAdapter) CanHandle(value any) bool {
	if value == nil {
		return false
	}
	return reflect.ValueOf(value).Kind() == reflect.Map
}

func (MapAdapter) Adapt(_ context.Context, value any, cfg AdaptConfig) (string, error) {
	rec, err := recordFromJSON(value)
	if err != nil {
		return "", fmt.Errorf("map adapter: %w", err)
	}
	return rec.Text(cfg.Fields...), nil
}

type StructAdapter struct{}

func (StructAdapter) CanHandle(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}

func (StructAdapter) Adapt(_ context.Context, value any, cfg AdaptConfig) (string, error) {
	rec, err := recordFromJSON(value)
	if err != nil {
		return "", fmt.Errorf("struct adapter: %w", err)
	}
	return rec.Text(cfg.Fields...), nil
}

func recordFromJSON(value any) (GenericRecord, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}
	var rec GenericRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	return rec, nil
}

func init() {
	RegisterTextAdapter(StringAdapter{})
	RegisterTextAdapter(MapAdapter{})
	RegisterTextAdapter(StructAdapter{})
}
