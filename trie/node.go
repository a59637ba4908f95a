package trie

import (
	"fmt"
	"math"
)

// Symbol is a dense vocabulary ID. Its width bounds the vocabulary size.
type Symbol uint16

// Index addresses a node inside an Arena.
type Index uint32

const (
	// RootSymbol is the reserved sentinel carried by the root node.
	RootSymbol Symbol = 0
	// MaxSymbols is the number of distinct symbols a Symbol can hold.
	MaxSymbols = math.MaxUint16 + 1
	// Root is the index of the root node.
	Root Index = 0
	// Null marks a missing link.
	Null Index = math.MaxUint32
	// MaxCount is the largest observation count a node can hold.
	MaxCount = math.MaxUint32
)

// Node is one suffix-trie node.
//
// Child heads the singly linked list of nodes extending this one by a symbol,
// Next links siblings inside the parent's list, and Backoff (the "vine" or
// suffix link) points at the node for the same symbol one context shorter.
// For the trie built from "ab", node [R]->[a]->[b] backs off to [R]->[b],
// which lives on a different branch.
type Node struct {
	Symbol  Symbol `json:"s"`
	Count   uint32 `json:"c"`
	Child   Index  `json:"ch"`
	Next    Index  `json:"n"`
	Backoff Index  `json:"b"`
}

func rootNode() Node {
	return Node{
		Symbol:  RootSymbol,
		Count:   1,
		Child:   Null,
		Next:    Null,
		Backoff: Null,
	}
}

func (n Node) String() string {
	return fmt.Sprintf("(Node symbol %d count %d child %s next %s backoff %s)",
		n.Symbol, n.Count, n.Child, n.Next, n.Backoff)
}

func (i Index) String() string {
	if i == Null {
		return "null"
	}
	return fmt.Sprintf("%d", uint32(i))
}
