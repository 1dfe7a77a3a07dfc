package textbuffer

import (
	"strings"
	"unicode/utf8"
)

// maxLeaf is the largest number of bytes held by a single leaf. Adjacent
// leaves are merged on join while they fit.
const maxLeaf = 1024

// node is an immutable rope node. Leaves hold text, branches hold the
// aggregated counts of their subtree.
type node struct {
	left, right *node
	text        string

	chars  int
	bytes  int
	lines  int
	height int
}

func newLeaf(s string) *node {
	if s == "" {
		return nil
	}
	return &node{
		text:   s,
		chars:  utf8.RuneCountInString(s),
		bytes:  len(s),
		lines:  strings.Count(s, "\n"),
		height: 1,
	}
}

func newBranch(l, r *node) *node {
	return &node{
		left:   l,
		right:  r,
		chars:  l.chars + r.chars,
		bytes:  l.bytes + r.bytes,
		lines:  l.lines + r.lines,
		height: max(l.height, r.height) + 1,
	}
}

func (n *node) isLeaf() bool { return n.left == nil }

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func chars(n *node) int {
	if n == nil {
		return 0
	}
	return n.chars
}

// build returns a balanced tree over s.
func build(s string) *node {
	if s == "" {
		return nil
	}
	var leaves []*node
	for len(s) > maxLeaf {
		cut := maxLeaf
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLeaf
		}
		leaves = append(leaves, newLeaf(s[:cut]))
		s = s[cut:]
	}
	leaves = append(leaves, newLeaf(s))
	return buildLeaves(leaves)
}

func buildLeaves(leaves []*node) *node {
	if len(leaves) == 1 {
		return leaves[0]
	}
	mid := len(leaves) / 2
	return newBranch(buildLeaves(leaves[:mid]), buildLeaves(leaves[mid:]))
}

// join concatenates two trees keeping subtree heights within one of each other.
func join(l, r *node) *node {
	switch {
	case l == nil:
		return r
	case r == nil:
		return l
	case l.isLeaf() && r.isLeaf() && l.bytes+r.bytes <= maxLeaf:
		return newLeaf(l.text + r.text)
	case l.height > r.height+1:
		return rebalance(newBranch(l.left, join(l.right, r)))
	case r.height > l.height+1:
		return rebalance(newBranch(join(l, r.left), r.right))
	default:
		return newBranch(l, r)
	}
}

func rebalance(n *node) *node {
	if n.isLeaf() {
		return n
	}
	lh, rh := height(n.left), height(n.right)
	switch {
	case lh > rh+1:
		l := n.left
		if height(l.right) > height(l.left) {
			l = rotateLeft(l)
		}
		return rotateRight(newBranch(l, n.right))
	case rh > lh+1:
		r := n.right
		if height(r.left) > height(r.right) {
			r = rotateRight(r)
		}
		return rotateLeft(newBranch(n.left, r))
	default:
		return n
	}
}

func rotateLeft(n *node) *node {
	r := n.right
	return newBranch(newBranch(n.left, r.left), r.right)
}

func rotateRight(n *node) *node {
	l := n.left
	return newBranch(l.left, newBranch(l.right, n.right))
}

// split divides the tree at character offset i.
func split(n *node, i int) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	if i <= 0 {
		return nil, n
	}
	if i >= n.chars {
		return n, nil
	}
	if n.isLeaf() {
		b := byteIndex(n.text, i)
		return newLeaf(n.text[:b]), newLeaf(n.text[b:])
	}
	if i <= n.left.chars {
		ll, lr := split(n.left, i)
		return ll, join(lr, n.right)
	}
	rl, rr := split(n.right, i-n.left.chars)
	return join(n.left, rl), rr
}

// byteIndex returns the byte index of the i-th rune of s.
func byteIndex(s string, i int) int {
	for b := range s {
		if i == 0 {
			return b
		}
		i--
	}
	return len(s)
}

// walk calls fn with every leaf text of n in order until fn returns false.
func walk(n *node, fn func(string) bool) bool {
	if n == nil {
		return true
	}
	if n.isLeaf() {
		return fn(n.text)
	}
	return walk(n.left, fn) && walk(n.right, fn)
}

// newlinesBefore counts the '\n' characters in the first i characters of n.
func newlinesBefore(n *node, i int) int {
	count := 0
	for n != nil && i > 0 {
		if i >= n.chars {
			return count + n.lines
		}
		if n.isLeaf() {
			b := byteIndex(n.text, i)
			return count + strings.Count(n.text[:b], "\n")
		}
		if i <= n.left.chars {
			n = n.left
			continue
		}
		count += n.left.lines
		i -= n.left.chars
		n = n.right
	}
	return count
}

// afterNewline returns the character offset just past the k-th '\n' of n, k >= 1.
func afterNewline(n *node, k int) int {
	offset := 0
	for !n.isLeaf() {
		if k <= n.left.lines {
			n = n.left
			continue
		}
		k -= n.left.lines
		offset += n.left.chars
		n = n.right
	}
	for _, r := range n.text {
		offset++
		if r == '\n' {
			k--
			if k == 0 {
				break
			}
		}
	}
	return offset
}

// runeAt returns the character at offset i of n.
func runeAt(n *node, i int) rune {
	for !n.isLeaf() {
		if i < n.left.chars {
			n = n.left
			continue
		}
		i -= n.left.chars
		n = n.right
	}
	r, _ := utf8.DecodeRuneInString(n.text[byteIndex(n.text, i):])
	return r
}
