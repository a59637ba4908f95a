package ppm

import (
	"errors"
	"fmt"

	"github.com/oarkflow/ppm/trie"
)

// Symbol is a dense vocabulary ID.
type Symbol = trie.Symbol

const (
	// RootSymbol is reserved for the root of the trie and never names a token.
	RootSymbol = trie.RootSymbol
	// RootToken is the token registered under RootSymbol.
	RootToken = "<R>"
	// MaxVocabularySize bounds the vocabulary, root included.
	MaxVocabularySize = trie.MaxSymbols
)

var ErrVocabularyFull = errors.New("ppm: vocabulary exhausted the symbol width")

// Vocabulary maps tokens to contiguous symbols in first-seen order. Symbol 0
// always belongs to RootToken. Entries are never removed.
type Vocabulary struct {
	symbols map[string]Symbol
	tokens  []string
}

// NewVocabulary returns a vocabulary holding only the root token.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		symbols: map[string]Symbol{RootToken: RootSymbol},
		tokens:  []string{RootToken},
	}
}

// NewVocabularyFrom builds a vocabulary from tokens in order.
func NewVocabularyFrom(tokens ...string) (*Vocabulary, error) {
	v := NewVocabulary()
	if err := v.AddAll(tokens...); err != nil {
		return nil, err
	}
	return v, nil
}

// Add returns the symbol of token, registering it when it is new.
func (v *Vocabulary) Add(token string) (Symbol, error) {
	if s, ok := v.symbols[token]; ok {
		return s, nil
	}
	if len(v.tokens) >= MaxVocabularySize {
		return 0, fmt.Errorf("%w: cannot add %q beyond %d symbols", ErrVocabularyFull, token, MaxVocabularySize)
	}
	s := Symbol(len(v.tokens))
	v.symbols[token] = s
	v.tokens = append(v.tokens, token)
	return s, nil
}

// MustAdd is like Add but panics when the vocabulary is full.
func (v *Vocabulary) MustAdd(token string) Symbol {
	s, err := v.Add(token)
	if err != nil {
		panic(err)
	}
	return s
}

// AddAll registers every token in order.
func (v *Vocabulary) AddAll(tokens ...string) error {
	for _, tok := range tokens {
		if _, err := v.Add(tok); err != nil {
			return err
		}
	}
	return nil
}

// Symbol looks token up.
func (v *Vocabulary) Symbol(token string) (Symbol, bool) {
	s, ok := v.symbols[token]
	return s, ok
}

// Token looks a symbol up.
func (v *Vocabulary) Token(s Symbol) (string, bool) {
	if int(s) >= len(v.tokens) {
		return "", false
	}
	return v.tokens[s], true
}

func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.symbols[token]
	return ok
}

// Size counts the registered tokens, root included.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// Tokens returns every token ordered by symbol, root first.
func (v *Vocabulary) Tokens() []string {
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}

func (v *Vocabulary) String() string {
	return fmt.Sprintf("Vocabulary (count %d)", len(v.tokens))
}
