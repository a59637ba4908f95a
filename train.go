package ppm

import (
	"math"
)

// TrainStats reports how many tokens a training call consumed. Documents and
// Filtered are only set by the corpus builders.
type TrainStats struct {
	GoodCount    int `json:"good_count"`
	SkippedCount int `json:"skipped_count"`
	Documents    int `json:"documents,omitempty"`
	Filtered     int `json:"filtered,omitempty"`
}

// Merge adds o's counts to s.
func (s *TrainStats) Merge(o TrainStats) {
	s.GoodCount += o.GoodCount
	s.SkippedCount += o.SkippedCount
	s.Documents += o.Documents
	s.Filtered += o.Filtered
}

// EvalResult accumulates log-probabilities over an evaluated sequence.
type EvalResult struct {
	SumLog10Prob float64 `json:"sum_log10_prob"`
	GoodCount    int     `json:"good_count"`
	SkippedCount int     `json:"skipped_count"`
	Perplexity   float64 `json:"perplexity"`
}

// Merge folds o into r and refreshes the perplexity.
func (r *EvalResult) Merge(o EvalResult) {
	r.SumLog10Prob += o.SumLog10Prob
	r.GoodCount += o.GoodCount
	r.SkippedCount += o.SkippedCount
	r.finish()
}

// finish derives the perplexity, 10^(-sum/good). It stays zero when nothing
// was scored.
func (r *EvalResult) finish() {
	r.Perplexity = 0
	if r.GoodCount > 0 {
		r.Perplexity = math.Pow(10, -r.SumLog10Prob/float64(r.GoodCount))
	}
}

// Train updates the model with tokens starting from the empty context.
// Tokens missing from the vocabulary are skipped and counted.
func (m *LanguageModel) Train(tokens []string) TrainStats {
	var stats TrainStats
	c := m.CreateContext()
	for _, tok := range tokens {
		s, ok := m.vocab.Symbol(tok)
		if !ok || s == RootSymbol {
			stats.SkippedCount++
			continue
		}
		// Known tokens are always in range, so this cannot fail.
		_ = m.AdvanceAndTrain(c, s)
		stats.GoodCount++
	}
	return stats
}

// TrainSymbols updates the model with symbols starting from the empty
// context. Invalid symbols follow the model's strictness policy.
func (m *LanguageModel) TrainSymbols(symbols []Symbol) error {
	c := m.CreateContext()
	for _, s := range symbols {
		if err := m.AdvanceAndTrain(c, s); err != nil {
			return err
		}
	}
	return nil
}

// TrainText analyzes text and trains on the resulting tokens.
func (m *LanguageModel) TrainText(text string) TrainStats {
	return m.Train(m.analyzer.Tokens(text))
}

// TrainTexts trains on each text independently; no context is carried from
// one text to the next.
func (m *LanguageModel) TrainTexts(texts ...string) TrainStats {
	var stats TrainStats
	for _, text := range texts {
		stats.Merge(m.TrainText(text))
	}
	m.logger.Debug("trained on texts",
		"model_id", m.ID,
		"texts", len(texts),
		"good", stats.GoodCount,
		"skipped", stats.SkippedCount,
		"nodes", m.trie.Len())
	return stats
}

// Evaluate scores tokens from the empty context. Each known token is scored
// against the distribution before the context advances past it; with update
// the model learns from the sequence as it goes.
func (m *LanguageModel) Evaluate(tokens []string, update bool) EvalResult {
	return m.EvaluateContext(m.CreateContext(), tokens, update)
}

// EvaluateContext is Evaluate starting from, and advancing, c. Unknown tokens
// are counted but leave c untouched.
func (m *LanguageModel) EvaluateContext(c *Context, tokens []string, update bool) EvalResult {
	var res EvalResult
	for _, tok := range tokens {
		s, ok := m.vocab.Symbol(tok)
		if !ok || s == RootSymbol {
			res.SkippedCount++
			continue
		}
		probs := m.Probabilities(c)
		res.SumLog10Prob += math.Log10(probs[s])
		res.GoodCount++
		if update {
			_ = m.AdvanceAndTrain(c, s)
		} else {
			_ = m.Advance(c, s)
		}
	}
	res.finish()
	return res
}

// EvaluateText analyzes text and evaluates the resulting tokens.
func (m *LanguageModel) EvaluateText(text string, update bool) EvalResult {
	return m.Evaluate(m.analyzer.Tokens(text), update)
}

// EvaluateTexts evaluates each text from a fresh context and sums the
// results.
func (m *LanguageModel) EvaluateTexts(texts []string, update bool) EvalResult {
	var res EvalResult
	for _, text := range texts {
		res.Merge(m.EvaluateText(text, update))
	}
	res.finish()
	return res
}
