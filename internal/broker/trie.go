package broker

import "strings"

// trie is a URI-prefix trie keyed by path segment, supporting longest-
// prefix-match lookup (spec §4.7). Segments are split on '/', mirroring
// how telling's URIs are always absolute paths.
type trie struct {
	children map[string]*trie
	route    *Route
	has      bool
}

func newTrie() *trie {
	return &trie{children: map[string]*trie{}}
}

func segments(uri string) []string {
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// insert associates prefix with route, overwriting any prior route at the
// exact same prefix.
func (t *trie) insert(prefix string, route *Route) {
	node := t
	for _, seg := range segments(prefix) {
		child, ok := node.children[seg]
		if !ok {
			child = newTrie()
			node.children[seg] = child
		}
		node = child
	}
	node.route = route
	node.has = true
}

// remove deletes the route exactly at prefix, if any.
func (t *trie) remove(prefix string) {
	node := t
	for _, seg := range segments(prefix) {
		child, ok := node.children[seg]
		if !ok {
			return
		}
		node = child
	}
	node.route = nil
	node.has = false
}

// lookup returns the route installed at the longest prefix of uri that has
// one, or nil if no prefix matches.
func (t *trie) lookup(uri string) *Route {
	node := t
	var best *Route
	if node.has {
		best = node.route
	}
	for _, seg := range segments(uri) {
		child, ok := node.children[seg]
		if !ok {
			break
		}
		node = child
		if node.has {
			best = node.route
		}
	}
	return best
}
