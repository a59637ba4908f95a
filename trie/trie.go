// Package trie stores a PPM suffix trie together with its backoff ("vine")
// structure in a single append-only arena of nodes addressed by Index.
//
// References:
//   - Moffat (1990), "Implementing the PPM data compression scheme".
//   - Ukkonen (1995), "On-line construction of suffix trees".
//   - Kennington (2011), "Application of Suffix Trees as an Implementation
//     Technique for Varied-Length N-gram Language Models".
package trie

import (
	"errors"
	"fmt"
	"iter"
)

var (
	ErrEmptyTrie    = errors.New("trie: no nodes")
	ErrInvalidRoot  = errors.New("trie: invalid root node")
	ErrInvalidLink  = errors.New("trie: link out of range")
	ErrInvalidCount = errors.New("trie: node count must be positive")
	ErrRootSymbol   = errors.New("trie: root symbol on a non-root node")
	ErrDuplicateSym = errors.New("trie: duplicate symbol among siblings")
)

// Trie represents the arena holding every node. Index 0 is always the root.
//
// Nodes are only appended and counts only grow, so any number of readers may
// share a Trie as long as no Insert runs concurrently.
type Trie struct {
	nodes  []Node
	growBy int
}

// Options configures a Trie.
type Options func(*Trie)

// WithCapacity preallocates room for n nodes.
func WithCapacity(n int) Options {
	return func(t *Trie) {
		if n > cap(t.nodes) {
			nodes := make([]Node, len(t.nodes), n)
			copy(nodes, t.nodes)
			t.nodes = nodes
		}
	}
}

// WithGrowth grows the arena by n nodes at a time instead of doubling.
func WithGrowth(n int) Options {
	return func(t *Trie) {
		if n > 0 {
			t.growBy = n
		}
	}
}

// NewTrie creates a Trie holding only the root node.
func NewTrie(opts ...Options) *Trie {
	t := &Trie{nodes: make([]Node, 0, 1)}
	for _, opt := range opts {
		opt(t)
	}
	t.nodes = append(t.nodes, rootNode())
	return t
}

// FromNodes rebuilds a Trie from a node dump, validating its structure.
func FromNodes(nodes []Node, opts ...Options) (*Trie, error) {
	t := &Trie{nodes: make([]Node, 0, len(nodes))}
	for _, opt := range opts {
		opt(t)
	}
	t.nodes = append(t.nodes, nodes...)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Len returns the number of live nodes, root included.
func (t *Trie) Len() int {
	return len(t.nodes)
}

// Node returns a copy of the node at i.
func (t *Trie) Node(i Index) Node {
	return t.nodes[i]
}

// Nodes returns a copy of every node in index order.
func (t *Trie) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Symbol returns the symbol stored at i.
func (t *Trie) Symbol(i Index) Symbol { return t.nodes[i].Symbol }

// Count returns how many times the symbol at i was observed in its context.
func (t *Trie) Count(i Index) uint32 { return t.nodes[i].Count }

// Child returns the most recently added child of i, or Null.
func (t *Trie) Child(i Index) Index { return t.nodes[i].Child }

// Next returns the next sibling of i, or Null.
func (t *Trie) Next(i Index) Index { return t.nodes[i].Next }

// Backoff returns the node for the same symbol one context shorter, or Null
// for the root.
func (t *Trie) Backoff(i Index) Index { return t.nodes[i].Backoff }

// Children iterates the child list of i, most recently added first.
func (t *Trie) Children(i Index) iter.Seq[Index] {
	return func(yield func(Index) bool) {
		for c := t.nodes[i].Child; c != Null; c = t.nodes[c].Next {
			if !yield(c) {
				return
			}
		}
	}
}

// FindChild returns the child of i carrying symbol s, or Null.
func (t *Trie) FindChild(i Index, s Symbol) Index {
	for c := t.nodes[i].Child; c != Null; c = t.nodes[c].Next {
		if t.nodes[c].Symbol == s {
			return c
		}
	}
	return Null
}

// TotalChildrenCount sums the counts of i's children whose symbol is not in
// exclude. A nil exclude sums every child.
func (t *Trie) TotalChildrenCount(i Index, exclude *SymbolSet) uint64 {
	var total uint64
	for c := t.nodes[i].Child; c != Null; c = t.nodes[c].Next {
		if exclude.Contains(t.nodes[c].Symbol) {
			continue
		}
		total += uint64(t.nodes[c].Count)
	}
	return total
}

// Insert records symbol s under node at and returns the node for it.
//
// When the child already exists only its count is incremented (single
// counting / update exclusion). Otherwise a new node is created whose
// backoff is obtained by inserting s under at's own backoff, so the whole
// vine below the new node is populated before it is ever used.
func (t *Trie) Insert(s Symbol, at Index) Index {
	if c := t.FindChild(at, s); c != Null {
		t.increment(c)
		return c
	}
	backoff := Root
	if at != Root {
		b := t.nodes[at].Backoff
		if b == Null {
			panic(fmt.Sprintf("trie: node %s has no backoff", at))
		}
		backoff = t.Insert(s, b)
	}
	idx := t.push(Node{
		Symbol:  s,
		Count:   1,
		Child:   Null,
		Next:    t.nodes[at].Child,
		Backoff: backoff,
	})
	t.nodes[at].Child = idx
	return idx
}

func (t *Trie) increment(i Index) {
	if t.nodes[i].Count == MaxCount {
		panic(fmt.Sprintf("trie: count overflow at node %s", i))
	}
	t.nodes[i].Count++
}

func (t *Trie) push(n Node) Index {
	if len(t.nodes) >= int(Null) {
		panic("trie: node index overflow")
	}
	if t.growBy > 0 && len(t.nodes) == cap(t.nodes) {
		nodes := make([]Node, len(t.nodes), len(t.nodes)+t.growBy)
		copy(nodes, t.nodes)
		t.nodes = nodes
	}
	t.nodes = append(t.nodes, n)
	return Index(len(t.nodes) - 1)
}

// Validate checks the structural invariants of the arena: a proper root,
// in-range links, positive counts, a backoff on every non-root node and
// unique symbols among siblings.
func (t *Trie) Validate() error {
	if len(t.nodes) == 0 {
		return ErrEmptyTrie
	}
	root := t.nodes[Root]
	if root.Symbol != RootSymbol || root.Backoff != Null || root.Next != Null {
		return ErrInvalidRoot
	}
	n := Index(len(t.nodes))
	inRange := func(i Index) bool { return i == Null || i < n }
	for i, node := range t.nodes {
		idx := Index(i)
		if node.Count == 0 {
			return fmt.Errorf("%w: node %s", ErrInvalidCount, idx)
		}
		if !inRange(node.Child) || !inRange(node.Next) || !inRange(node.Backoff) {
			return fmt.Errorf("%w: node %s", ErrInvalidLink, idx)
		}
		if idx == Root {
			continue
		}
		if node.Symbol == RootSymbol {
			return fmt.Errorf("%w: node %s", ErrRootSymbol, idx)
		}
		if node.Backoff == Null || node.Backoff == idx {
			return fmt.Errorf("%w: node %s backoff %s", ErrInvalidLink, idx, node.Backoff)
		}
		if node.Backoff != Root && t.nodes[node.Backoff].Symbol != node.Symbol {
			return fmt.Errorf("%w: node %s backs off to a different symbol", ErrInvalidLink, idx)
		}
	}
	return t.checkTree()
}

// checkTree walks the child lists from the root and requires every node to
// be reached exactly once, which rules out cycles and orphans. FindChild
// stops at the first match, so sibling symbols must be distinct.
func (t *Trie) checkTree() error {
	seen := make([]bool, len(t.nodes))
	siblings := NewSymbolSet(0)
	seen[Root] = true
	reached := 1
	stack := []Index{Root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		siblings.Reset()
		for c := t.nodes[i].Child; c != Null; c = t.nodes[c].Next {
			if seen[c] {
				return fmt.Errorf("%w: node %s reached twice", ErrInvalidLink, c)
			}
			if !siblings.Add(t.nodes[c].Symbol) {
				return fmt.Errorf("%w: symbol %d under node %s", ErrDuplicateSym, t.nodes[c].Symbol, i)
			}
			seen[c] = true
			reached++
			stack = append(stack, c)
		}
	}
	if reached != len(t.nodes) {
		return fmt.Errorf("%w: %d nodes unreachable from root", ErrInvalidLink, len(t.nodes)-reached)
	}
	return nil
}
