package ppm

import (
	"sort"
)

// Prediction is a ranked next-token candidate.
type Prediction struct {
	Token       string  `json:"token"`
	Symbol      Symbol  `json:"symbol"`
	Probability float64 `json:"probability"`
}

// Predict ranks the k most probable next tokens at c. Ties keep symbol
// order. A non-positive k returns every real symbol.
func (m *LanguageModel) Predict(c *Context, k int) []Prediction {
	probs := m.Probabilities(c)
	out := make([]Prediction, 0, len(probs)-1)
	for s := 1; s < len(probs); s++ {
		tok, _ := m.vocab.Token(Symbol(s))
		out = append(out, Prediction{Token: tok, Symbol: Symbol(s), Probability: probs[s]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// PredictAfter advances a fresh context over the analyzed prefix without
// training and ranks the next tokens.
func (m *LanguageModel) PredictAfter(prefix string, k int) []Prediction {
	c := m.CreateContext()
	for _, tok := range m.analyzer.Tokens(prefix) {
		if s, ok := m.vocab.Symbol(tok); ok {
			_ = m.Advance(c, s)
		}
	}
	return m.Predict(c, k)
}
