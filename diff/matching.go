// Package diff matches the nodes of two revisions of a tree and labels
// what changed between them, in the manner of FMES (fast match, edit
// script).  Trees are navigated by node key only.
package diff

import (
	"fmt"
)

// Node is what the matcher needs to know about one tree node.
type Node struct {
	Key      uint64
	Parent   uint64
	Label    string
	Value    string
	Leaf     bool
	Children []uint64
}

// Tree gives access to the nodes of one revision.
type Tree interface {
	Root() uint64
	Node(key uint64) (Node, error)
}

// index is the in-memory result of one traversal of a Tree.
type index struct {
	root  uint64
	nodes map[uint64]*Node
	pre   []uint64 // document order
	post  []uint64
	desc  map[uint64]int // number of descendants
	depth map[uint64]int
}

// visit walks t once, depth first.
func visit(t Tree) (ix *index, err error) {
	ix = &index{
		root:  t.Root(),
		nodes: make(map[uint64]*Node),
		desc:  make(map[uint64]int),
		depth: make(map[uint64]int),
	}
	type frame struct {
		key  uint64
		next int
	}
	rootNode, err := t.Node(ix.root)
	if err != nil {
		return
	}
	ix.nodes[ix.root] = &rootNode
	ix.pre = append(ix.pre, ix.root)
	stack := []frame{{key: ix.root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := ix.nodes[top.key]
		if top.next < len(n.Children) {
			ck := n.Children[top.next]
			top.next++
			if _, seen := ix.nodes[ck]; seen {
				return nil, fmt.Errorf("node %d reached twice", ck)
			}
			child, err := t.Node(ck)
			if err != nil {
				return nil, err
			}
			ix.nodes[ck] = &child
			ix.depth[ck] = len(stack)
			ix.pre = append(ix.pre, ck)
			stack = append(stack, frame{key: ck})
			continue
		}
		stack = stack[:len(stack)-1]
		ix.post = append(ix.post, n.Key)
		for _, ck := range n.Children {
			ix.desc[n.Key] += 1 + ix.desc[ck]
		}
	}
	return
}

// ancestors calls fn for key's parent, grandparent and so on up to
// and including the root.
func (ix *index) ancestors(key uint64, fn func(uint64)) {
	for key != ix.root {
		key = ix.nodes[key].Parent
		fn(key)
	}
}

type pair struct {
	ancestor, node uint64
}

// Matching is a partial one-to-one map between the nodes of an old
// and a new tree.  For each side it also records which matched nodes
// lie in which subtrees.
type Matching struct {
	old, new *index
	partner  map[uint64]uint64
	reverse  map[uint64]uint64
	inOld    map[pair]bool
	inNew    map[pair]bool
}

func newMatching(from, to *index) *Matching {
	return &Matching{
		old:     from,
		new:     to,
		partner: make(map[uint64]uint64),
		reverse: make(map[uint64]uint64),
		inOld:   make(map[pair]bool),
		inNew:   make(map[pair]bool),
	}
}

// NewMatching traverses both trees and returns an empty matching.
func NewMatching(from, to Tree) (m *Matching, err error) {
	oi, err := visit(from)
	if err != nil {
		return
	}
	ni, err := visit(to)
	if err != nil {
		return
	}
	return newMatching(oi, ni), nil
}

// Clone returns an independent copy of m.
func (m *Matching) Clone() *Matching {
	c := newMatching(m.old, m.new)
	for k, v := range m.partner {
		c.partner[k] = v
	}
	for k, v := range m.reverse {
		c.reverse[k] = v
	}
	for k := range m.inOld {
		c.inOld[k] = true
	}
	for k := range m.inNew {
		c.inNew[k] = true
	}
	return c
}

// Add matches old node x with new node y.
func (m *Matching) Add(x, y uint64) {
	m.partner[x] = y
	m.reverse[y] = x
	m.inOld[pair{x, x}] = true
	m.old.ancestors(x, func(a uint64) {
		m.inOld[pair{a, x}] = true
	})
	m.inNew[pair{y, y}] = true
	m.new.ancestors(y, func(a uint64) {
		m.inNew[pair{a, y}] = true
	})
}

// Contains reports whether x is matched with y.
func (m *Matching) Contains(x, y uint64) bool {
	p, ok := m.partner[x]
	return ok && p == y
}

// Partner returns the new node matched with old node x.
func (m *Matching) Partner(x uint64) (y uint64, ok bool) {
	y, ok = m.partner[x]
	return
}

// ReversePartner returns the old node matched with new node y.
func (m *Matching) ReversePartner(y uint64) (x uint64, ok bool) {
	x, ok = m.reverse[y]
	return
}

// InSubtree reports whether the matched new node y lies in the subtree
// of new node ancestor.
func (m *Matching) InSubtree(ancestor, y uint64) bool {
	return m.inNew[pair{ancestor, y}]
}

// ContainedChildren counts the nodes of old subtree x, x included,
// whose partner lies in new subtree y.
func (m *Matching) ContainedChildren(x, y uint64) (n int) {
	stack := []uint64{x}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p, ok := m.partner[k]; ok && m.inNew[pair{y, p}] {
			n++
		}
		if node := m.old.nodes[k]; node != nil {
			stack = append(stack, node.Children...)
		}
	}
	return
}

// Len returns the number of matched pairs.
func (m *Matching) Len() int {
	return len(m.partner)
}
