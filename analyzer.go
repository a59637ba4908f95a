package ppm

import (
	"fmt"
	"strings"

	"github.com/oarkflow/ppm/utils"
)

// Analyzer splits text into the tokens a model is trained and evaluated on.
// Analyzers never invent symbols: tokens missing from the vocabulary are
// counted and skipped by the model.
type Analyzer interface {
	Tokens(text string) []string
}

// AnalyzerFunc allows plain functions to satisfy the Analyzer interface.
type AnalyzerFunc func(text string) []string

// Tokens implements Analyzer by invoking the wrapped function.
func (fn AnalyzerFunc) Tokens(text string) []string {
	return fn(text)
}

// CharAnalyzer emits one token per rune, which is how predictive text entry
// models are usually trained.
type CharAnalyzer struct {
	lowercase bool
	condense  bool
}

// CharAnalyzerOption configures a CharAnalyzer.
type CharAnalyzerOption func(*CharAnalyzer)

// CharAnalyzerWithLowercase folds text to lower case before splitting.
func CharAnalyzerWithLowercase(enable bool) CharAnalyzerOption {
	return func(ca *CharAnalyzer) {
		ca.lowercase = enable
	}
}

// CharAnalyzerWithCondensedWhitespace collapses whitespace runs to one space
// and trims the ends before splitting.
func CharAnalyzerWithCondensedWhitespace(enable bool) CharAnalyzerOption {
	return func(ca *CharAnalyzer) {
		ca.condense = enable
	}
}

// NewCharAnalyzer returns a configured CharAnalyzer.
func NewCharAnalyzer(opts ...CharAnalyzerOption) *CharAnalyzer {
	ca := &CharAnalyzer{}
	for _, opt := range opts {
		opt(ca)
	}
	return ca
}

func (ca *CharAnalyzer) Tokens(text string) []string {
	if ca.condense {
		text = utils.CondenseWhitespace(text)
	}
	if ca.lowercase {
		text = strings.ToLower(text)
	}
	if text == "" {
		return nil
	}
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

// WordAnalyzer emits lower-cased ASCII words, optionally dropping stop words.
type WordAnalyzer struct {
	stopWords       map[string]struct{}
	customTokenizer func(string) []string
}

// WordAnalyzerOption configures a WordAnalyzer.
type WordAnalyzerOption func(*WordAnalyzer)

// WordAnalyzerWithStopWords drops the given words from the token stream.
func WordAnalyzerWithStopWords(words ...string) WordAnalyzerOption {
	return func(wa *WordAnalyzer) {
		wa.stopWords = make(map[string]struct{}, len(words))
		for _, w := range words {
			if w == "" {
				continue
			}
			wa.stopWords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// WordAnalyzerWithTokenizer installs a custom tokenizer function.
func WordAnalyzerWithTokenizer(tokenizer func(string) []string) WordAnalyzerOption {
	return func(wa *WordAnalyzer) {
		wa.customTokenizer = tokenizer
	}
}

// NewWordAnalyzer returns a configured WordAnalyzer. Unlike a search
// analyzer it keeps stop words unless told otherwise, since they carry most
// of the sequential signal.
func NewWordAnalyzer(opts ...WordAnalyzerOption) *WordAnalyzer {
	wa := &WordAnalyzer{}
	for _, opt := range opts {
		opt(wa)
	}
	return wa
}

func (wa *WordAnalyzer) Tokens(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var tokens []string
	if wa.customTokenizer != nil {
		tokens = wa.customTokenizer(utils.ToLower(text))
	} else {
		tokens = utils.Tokenize(text)
	}
	if len(wa.stopWords) == 0 {
		return tokens
	}
	out := tokens[:0]
	for _, tok := range tokens {
		if _, skip := wa.stopWords[tok]; skip {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// NewAnalyzer returns the analyzer registered under name: "char" (the
// default) or "word".
func NewAnalyzer(name string) (Analyzer, bool) {
	an, err := analyzerNamed(name, false)
	return an, err == nil
}

// analyzerNamed builds a named analyzer. lowercase only applies to the
// character analyzer.
func analyzerNamed(name string, lowercase bool) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "char", "chars", "character":
		return NewCharAnalyzer(CharAnalyzerWithLowercase(lowercase)), nil
	case "word", "words":
		return NewWordAnalyzer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalyzer, name)
	}
}

// analyzerSettings returns the name and case folding that rebuild an with
// analyzerNamed. Custom analyzers report an empty name.
func analyzerSettings(an Analyzer) (name string, lowercase bool) {
	switch a := an.(type) {
	case *CharAnalyzer:
		return "char", a.lowercase
	case *WordAnalyzer:
		return "word", false
	default:
		return "", false
	}
}

// BuildVocabulary registers every token the analyzer produces for texts, in
// first-seen order.
func BuildVocabulary(an Analyzer, texts ...string) (*Vocabulary, error) {
	if an == nil {
		an = defaultAnalyzer
	}
	v := NewVocabulary()
	for _, text := range texts {
		if err := v.AddAll(an.Tokens(text)...); err != nil {
			return nil, err
		}
	}
	return v, nil
}

var defaultAnalyzer Analyzer = NewCharAnalyzer()
