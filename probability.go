package ppm

import (
	"github.com/oarkflow/ppm/trie"
)

// Discounting parameters of the interpolated Kneser-Ney estimate, inherited
// from Dasher.
const (
	KneserNeyAlpha = 0.49
	KneserNeyBeta  = 0.77
)

// Epsilon bounds how far a distribution may drift from summing to one.
const Epsilon = 1e-10

// Probabilities returns the next-symbol distribution at c, indexed by
// symbol. The entry for RootSymbol is always zero and the real symbols sum
// to one within Epsilon, each strictly positive.
//
// The walk starts at c's head and follows backoff links to the root. At each
// node observed children receive gamma*(count-beta)/(total+alpha) and the
// unassigned mass becomes gamma for the next, shorter context. Whatever is
// left is spread uniformly over the symbols still eligible, and a final
// uniform pass over every real symbol drives the floating-point residue to
// exactly zero.
func (m *LanguageModel) Probabilities(c *Context) []float64 {
	numSymbols := m.vocab.Size()
	probs := make([]float64, numSymbols)

	var exclusion *trie.SymbolSet
	if m.useExclusion {
		exclusion = trie.NewSymbolSet(numSymbols)
	}

	totalMass := 1.0
	gamma := totalMass
	for node := c.head; node != trie.Null; node = m.trie.Backoff(node) {
		count := m.trie.TotalChildrenCount(node, exclusion)
		if count > 0 {
			denom := float64(count) + KneserNeyAlpha
			for child := range m.trie.Children(node) {
				symbol := m.trie.Symbol(child)
				if exclusion.Contains(symbol) {
					continue
				}
				p := gamma * (float64(m.trie.Count(child)) - KneserNeyBeta) / denom
				probs[symbol] += p
				totalMass -= p
				if exclusion != nil {
					exclusion.Add(symbol)
				}
			}
		}
		gamma = totalMass
	}

	numUnseen := numSymbols - 1
	if exclusion != nil {
		numUnseen -= exclusion.Len()
	}
	if numUnseen > 0 {
		p := totalMass / float64(numUnseen)
		for s := 1; s < numSymbols; s++ {
			if exclusion.Contains(Symbol(s)) {
				continue
			}
			probs[s] += p
			totalMass -= p
		}
	}

	remaining := numSymbols - 1
	for s := 1; s < numSymbols; s++ {
		p := totalMass / float64(remaining)
		probs[s] += p
		totalMass -= p
		remaining--
	}
	return probs
}

// ProbabilitiesByToken returns the distribution at c keyed by token, without
// the root entry.
func (m *LanguageModel) ProbabilitiesByToken(c *Context) map[string]float64 {
	probs := m.Probabilities(c)
	out := make(map[string]float64, len(probs)-1)
	for s := 1; s < len(probs); s++ {
		tok, _ := m.vocab.Token(Symbol(s))
		out[tok] = probs[s]
	}
	return out
}

// Probability returns the probability of s following c.
func (m *LanguageModel) Probability(c *Context, s Symbol) float64 {
	if s == RootSymbol || int(s) >= m.vocab.Size() {
		return 0
	}
	return m.Probabilities(c)[s]
}
