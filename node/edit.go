package node

import (
	"fmt"

	"github.com/t7a/revbase/page"
)

// Reader is the read side of a revbase transaction.
type Reader interface {
	Get(key uint64) (page.Record, error)
	Name(key int32) string
}

// Writer is the write side of a revbase transaction.
type Writer interface {
	Reader
	NextNodeKey() uint64
	Set(r page.Record) error
	Remove(key uint64) error
	CreateName(name string) (int32, error)
}

// missing reports a node key that has no record.
type missing struct {
	key uint64
}

func (e *missing) Error() string {
	return fmt.Sprintf("no node %d", e.key)
}

func get(r Reader, key uint64) (page.Record, error) {
	rec, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &missing{key: key}
	}
	return rec, nil
}

// InitDocument writes an empty document root if there is none yet.
func InitDocument(w Writer) error {
	rec, err := w.Get(RootKey)
	if err != nil || rec != nil {
		return err
	}
	key := w.NextNodeKey()
	if key != RootKey {
		return fmt.Errorf("document root must be the first node, got key %d", key)
	}
	return w.Set(Document{NodeKey: RootKey})
}

// children returns the first child, last child and child count of an
// inner record.
func children(rec page.Record) (first, last, count uint64, err error) {
	switch n := rec.(type) {
	case Document:
		return n.FirstChild, n.LastChild, n.ChildCount, nil
	case Element:
		return n.FirstChild, n.LastChild, n.ChildCount, nil
	}
	return 0, 0, 0, fmt.Errorf("node %d (%T) cannot have children", rec.Key(), rec)
}

func setChildren(rec page.Record, first, last, count uint64) page.Record {
	switch n := rec.(type) {
	case Document:
		n.FirstChild, n.LastChild, n.ChildCount = first, last, count
		return n
	case Element:
		n.FirstChild, n.LastChild, n.ChildCount = first, last, count
		return n
	}
	return rec
}

func siblings(rec page.Record) (left, right uint64) {
	switch n := rec.(type) {
	case Element:
		return n.LeftSibling, n.RightSibling
	case Text:
		return n.LeftSibling, n.RightSibling
	}
	return 0, 0
}

func setSiblings(rec page.Record, left, right uint64) page.Record {
	switch n := rec.(type) {
	case Element:
		n.LeftSibling, n.RightSibling = left, right
		return n
	case Text:
		n.LeftSibling, n.RightSibling = left, right
		return n
	}
	return rec
}

func parent(rec page.Record) uint64 {
	switch n := rec.(type) {
	case Element:
		return n.Parent
	case Text:
		return n.Parent
	}
	return RootKey
}

// appendChild links child as the last child of parentKey and stores
// both.  child must already carry its own key and parent.
func appendChild(w Writer, parentKey uint64, child page.Record) (err error) {
	p, err := get(w, parentKey)
	if err != nil {
		return
	}
	first, last, count, err := children(p)
	if err != nil {
		return
	}
	key := child.Key()
	if count == 0 {
		first = key
	} else {
		prev, err := get(w, last)
		if err != nil {
			return err
		}
		left, _ := siblings(prev)
		err = w.Set(setSiblings(prev, left, key))
		if err != nil {
			return err
		}
		child = setSiblings(child, last, 0)
	}
	err = w.Set(child)
	if err != nil {
		return
	}
	return w.Set(setChildren(p, first, key, count+1))
}

// AppendElement adds an element named name as the last child of
// parentKey and returns its key.
func AppendElement(w Writer, parentKey uint64, name string, attrs map[string]string) (key uint64, err error) {
	nameKey, err := w.CreateName(name)
	if err != nil {
		return
	}
	e := Element{Parent: parentKey, Name: nameKey}
	for _, an := range sortedKeys(attrs) {
		ak, err := w.CreateName(an)
		if err != nil {
			return 0, err
		}
		e.Attrs = append(e.Attrs, Attr{Name: ak, Value: attrs[an]})
	}
	e.NodeKey = w.NextNodeKey()
	return e.NodeKey, appendChild(w, parentKey, e)
}

// AppendText adds a text node as the last child of parentKey.
func AppendText(w Writer, parentKey uint64, value []byte) (key uint64, err error) {
	t := Text{Parent: parentKey, Value: append([]byte{}, value...)}
	t.NodeKey = w.NextNodeKey()
	return t.NodeKey, appendChild(w, parentKey, t)
}

// SetText replaces the value of the text node key.
func SetText(w Writer, key uint64, value []byte) (err error) {
	rec, err := get(w, key)
	if err != nil {
		return
	}
	t, ok := rec.(Text)
	if !ok {
		return fmt.Errorf("node %d is %T, not text", key, rec)
	}
	t.Value = append([]byte{}, value...)
	return w.Set(t)
}

// Remove unlinks the subtree rooted at key and removes every node in
// it.  The document root cannot be removed.
func Remove(w Writer, key uint64) (err error) {
	if key == RootKey {
		return fmt.Errorf("cannot remove the document root")
	}
	rec, err := get(w, key)
	if err != nil {
		return
	}
	left, right := siblings(rec)
	parentKey := parent(rec)
	if left != 0 {
		l, err := get(w, left)
		if err != nil {
			return err
		}
		ll, _ := siblings(l)
		err = w.Set(setSiblings(l, ll, right))
		if err != nil {
			return err
		}
	}
	if right != 0 {
		r, err := get(w, right)
		if err != nil {
			return err
		}
		_, rr := siblings(r)
		err = w.Set(setSiblings(r, left, rr))
		if err != nil {
			return err
		}
	}
	p, err := get(w, parentKey)
	if err != nil {
		return
	}
	first, last, count, err := children(p)
	if err != nil {
		return
	}
	if first == key {
		first = right
	}
	if last == key {
		last = left
	}
	err = w.Set(setChildren(p, first, last, count-1))
	if err != nil {
		return
	}
	return removeSubtree(w, rec)
}

func removeSubtree(w Writer, rec page.Record) (err error) {
	if e, ok := rec.(Element); ok {
		child := e.FirstChild
		for child != 0 {
			c, err := get(w, child)
			if err != nil {
				return err
			}
			_, next := siblings(c)
			err = removeSubtree(w, c)
			if err != nil {
				return err
			}
			child = next
		}
	}
	return w.Remove(rec.Key())
}
