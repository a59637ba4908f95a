package trie

// Stats summarizes the shape of a Trie.
type Stats struct {
	Nodes      int    `json:"nodes"`
	Leaves     int    `json:"leaves"`
	Singletons int    `json:"singletons"`
	MaxCount   uint32 `json:"max_count"`
}

// Stats walks the trie from the root. Nodes includes the root; leaves,
// singletons (count == 1) and the maximum count only consider real nodes.
func (t *Trie) Stats() Stats {
	stats := Stats{Nodes: 1}
	stack := []Index{Root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for c := range t.Children(i) {
			node := t.nodes[c]
			stats.Nodes++
			if node.Child == Null {
				stats.Leaves++
			} else {
				stack = append(stack, c)
			}
			if node.Count == 1 {
				stats.Singletons++
			}
			stats.MaxCount = max(stats.MaxCount, node.Count)
		}
	}
	return stats
}
