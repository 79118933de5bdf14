package node

import (
	"sort"

	"github.com/t7a/revbase/diff"
	"github.com/t7a/revbase/page"
)

// TextLabel is the diff label of every text node.
const TextLabel = "#text"

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tree presents the document in r to the diff package.
type Tree struct {
	r Reader
}

func (t Tree) New(r Reader) *Tree {
	t.r = r
	return &t
}

func (t *Tree) Root() uint64 {
	return RootKey
}

// Children returns the keys of key's children in document order.
func (t *Tree) Children(key uint64) (keys []uint64, err error) {
	rec, err := get(t.r, key)
	if err != nil {
		return
	}
	first, _, count, err := children(rec)
	if err != nil {
		// leaves have no children
		return nil, nil
	}
	keys = make([]uint64, 0, count)
	for child := first; child != 0; {
		keys = append(keys, child)
		c, err := get(t.r, child)
		if err != nil {
			return nil, err
		}
		_, child = siblings(c)
	}
	return
}

func (t *Tree) Node(key uint64) (n diff.Node, err error) {
	rec, err := get(t.r, key)
	if err != nil {
		return
	}
	n.Key = key
	n.Parent = parent(rec)
	switch r := rec.(type) {
	case Document:
		n.Label = "#document"
	case Element:
		n.Label = t.r.Name(r.Name)
		for _, a := range r.Attrs {
			n.Value += t.r.Name(a.Name) + "=" + a.Value + ";"
		}
	case Text:
		n.Label = TextLabel
		n.Value = string(r.Value)
		n.Leaf = true
	case Bytes:
		n.Label = "#bytes"
		n.Value = string(r.Data)
		n.Leaf = true
	case page.Deleted:
		return n, &missing{key: key}
	}
	n.Children, err = t.Children(key)
	return
}
