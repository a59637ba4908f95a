package trie

// SymbolSet is a bitset of symbols. A nil *SymbolSet is an empty set that
// ignores nothing, which is how callers ask for unconditional sums.
type SymbolSet struct {
	words []uint64
	size  int
}

// NewSymbolSet returns an empty set sized for symbols below capacity.
func NewSymbolSet(capacity int) *SymbolSet {
	return &SymbolSet{words: make([]uint64, (capacity+63)/64)}
}

// Add inserts s and reports whether it was absent.
func (ss *SymbolSet) Add(s Symbol) bool {
	w, bit := int(s)/64, uint64(1)<<(uint(s)%64)
	for w >= len(ss.words) {
		ss.words = append(ss.words, 0)
	}
	if ss.words[w]&bit != 0 {
		return false
	}
	ss.words[w] |= bit
	ss.size++
	return true
}

// Contains reports whether s is in the set.
func (ss *SymbolSet) Contains(s Symbol) bool {
	if ss == nil {
		return false
	}
	w := int(s) / 64
	if w >= len(ss.words) {
		return false
	}
	return ss.words[w]&(uint64(1)<<(uint(s)%64)) != 0
}

// Len returns the number of symbols in the set.
func (ss *SymbolSet) Len() int {
	if ss == nil {
		return 0
	}
	return ss.size
}

// Reset empties the set while keeping its storage.
func (ss *SymbolSet) Reset() {
	clear(ss.words)
	ss.size = 0
}

