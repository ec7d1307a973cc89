package vedra

// PrefixEntry is one (index, rule) registration at a trie node. Distinct
// rules of the same index may register distinct prefixes, so the matcher
// returns rule granularity and the caller deduplicates by index.
type PrefixEntry struct {
	Index *Index
	Rule  *SchemaRule
}

type prefixNode struct {
	children map[byte]*prefixNode
	entries  []PrefixEntry
}

// PrefixMap is a byte trie from key prefixes to the rules registered under
// them. The empty prefix is legal and matches every key. Not goroutine
// safe; the owning Rules registry serializes access.
type PrefixMap struct {
	root *prefixNode
}

func NewPrefixMap() *PrefixMap {
	return &PrefixMap{root: &prefixNode{}}
}

func (pm *PrefixMap) Register(prefix string, ix *Index, rule *SchemaRule) {
	node := pm.root
	for i := 0; i < len(prefix); i++ {
		if node.children == nil {
			node.children = make(map[byte]*prefixNode)
		}
		child := node.children[prefix[i]]
		if child == nil {
			child = &prefixNode{}
			node.children[prefix[i]] = child
		}
		node = child
	}
	node.entries = append(node.entries, PrefixEntry{Index: ix, Rule: rule})
}

// Unregister removes every entry of ix at prefix and prunes nodes left
// empty along the path.
func (pm *PrefixMap) Unregister(prefix string, ix *Index) {
	path := make([]*prefixNode, 0, len(prefix)+1)
	node := pm.root
	path = append(path, node)
	for i := 0; i < len(prefix); i++ {
		node = node.children[prefix[i]]
		if node == nil {
			return
		}
		path = append(path, node)
	}
	kept := node.entries[:0]
	for _, e := range node.entries {
		if e.Index != ix {
			kept = append(kept, e)
		}
	}
	node.entries = kept
	if len(kept) == 0 {
		node.entries = nil
	}
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if len(n.entries) > 0 || len(n.children) > 0 {
			break
		}
		delete(path[i-1].children, prefix[i-1])
	}
}

// FindPrefixes walks key's bytes and collects the entries of every node
// whose prefix is a true prefix of key, shortest first. O(|key|) plus the
// number of matches.
func (pm *PrefixMap) FindPrefixes(key string) []PrefixEntry {
	var out []PrefixEntry
	node := pm.root
	out = append(out, node.entries...)
	for i := 0; i < len(key); i++ {
		node = node.children[key[i]]
		if node == nil {
			break
		}
		out = append(out, node.entries...)
	}
	return out
}
