package ppm

import (
	"fmt"

	"github.com/oarkflow/ppm/trie"
)

// Context is a cursor into the trie: head is the deepest node matching the
// last order symbols of the history fed to it. Contexts are cheap values
// owned by callers; they only change the model when passed to
// AdvanceAndTrain.
type Context struct {
	order int
	head  trie.Index
}

func newContext() *Context {
	return &Context{order: 0, head: trie.Root}
}

// Order returns how many symbols of history the cursor currently matches.
func (c *Context) Order() int {
	return c.order
}

// Head returns the trie node the cursor points at.
func (c *Context) Head() trie.Index {
	return c.head
}

// Clone returns an independent cursor at the same position.
func (c *Context) Clone() *Context {
	return &Context{order: c.order, head: c.head}
}

// Reset moves the cursor back to the empty context.
func (c *Context) Reset() {
	c.order = 0
	c.head = trie.Root
}

func (c *Context) String() string {
	return fmt.Sprintf("Context (order %d head %s)", c.order, c.head)
}
