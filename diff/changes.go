package diff

import "fmt"

// Op labels a node in the result of a diff.
type Op int

const (
	Same Op = iota
	Update
	Insert
	Delete
)

func (o Op) String() string {
	switch o {
	case Same:
		return "same"
	case Update:
		return "update"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Change describes one node.  Old is meaningful unless Op is Insert,
// New unless Op is Delete.
type Change struct {
	Op    Op
	Old   uint64
	New   uint64
	Label string
	Value string
	Depth int
}

func (c Change) String() string {
	switch c.Op {
	case Insert:
		return fmt.Sprintf("%s %s %d %q", c.Op, c.Label, c.New, c.Value)
	case Delete:
		return fmt.Sprintf("%s %s %d %q", c.Op, c.Label, c.Old, c.Value)
	}
	return fmt.Sprintf("%s %s %d->%d %q", c.Op, c.Label, c.Old, c.New, c.Value)
}

// Changes labels every node of the new tree as same, updated or
// inserted, in document order, followed by the deleted nodes of the
// old tree in document order.
func (m *Matching) Changes() (out []Change) {
	for _, y := range m.new.pre {
		ny := m.new.nodes[y]
		c := Change{New: y, Label: ny.Label, Value: ny.Value, Depth: m.new.depth[y]}
		x, ok := m.reverse[y]
		switch {
		case !ok:
			c.Op = Insert
		case m.old.nodes[x].Value != ny.Value:
			c.Op = Update
			c.Old = x
		default:
			c.Op = Same
			c.Old = x
		}
		out = append(out, c)
	}
	for _, x := range m.old.pre {
		if _, ok := m.partner[x]; ok {
			continue
		}
		nx := m.old.nodes[x]
		out = append(out, Change{Op: Delete, Old: x, Label: nx.Label, Value: nx.Value, Depth: m.old.depth[x]})
	}
	return
}

// Diff matches from with to and returns the labelled changes.
func Diff(from, to Tree) (changes []Change, err error) {
	m, err := Match(from, to)
	if err != nil {
		return
	}
	return m.Changes(), nil
}
