package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t7a/revbase/diff"
	"github.com/t7a/revbase/page"
)

// memWriter is a Writer over plain maps.
type memWriter struct {
	recs  map[uint64]page.Record
	names map[int32]string
	next  uint64
}

func newMemWriter() *memWriter {
	return &memWriter{recs: map[uint64]page.Record{}, names: map[int32]string{}}
}

func (w *memWriter) Get(key uint64) (page.Record, error) {
	return w.recs[key], nil
}

func (w *memWriter) Name(key int32) string {
	return w.names[key]
}

func (w *memWriter) NextNodeKey() uint64 {
	w.next++
	return w.next - 1
}

func (w *memWriter) Set(r page.Record) error {
	w.recs[r.Key()] = r
	return nil
}

func (w *memWriter) Remove(key uint64) error {
	delete(w.recs, key)
	return nil
}

func (w *memWriter) CreateName(name string) (int32, error) {
	for k, v := range w.names {
		if v == name {
			return k, nil
		}
	}
	k := int32(len(w.names) + 1)
	w.names[k] = name
	return k, nil
}

func TestFactoryRoundTrip(t *testing.T) {
	recs := []page.Record{
		Document{NodeKey: 0, FirstChild: 1, LastChild: 3, ChildCount: 2},
		Element{NodeKey: 1, Parent: 0, RightSibling: 3, FirstChild: 2, LastChild: 2, ChildCount: 1, Name: 7,
			Attrs: []Attr{{Name: 8, Value: "x"}, {Name: 9, Value: "y"}}},
		Text{NodeKey: 2, Parent: 1, Value: []byte("hello")},
		Bytes{NodeKey: 3, Next: 4, Data: []byte{0, 1, 2, 255}},
	}
	f := Factory{}
	for _, r := range recs {
		buf, err := f.Encode(r)
		require.NoError(t, err)
		got, err := f.Decode(buf)
		require.NoError(t, err)
		require.Equal(t, r, got)
	}
}

func TestFactoryErrors(t *testing.T) {
	f := Factory{}
	_, err := f.Encode(page.Deleted{NodeKey: 1})
	require.Error(t, err)
	_, err = f.Decode(nil)
	require.Error(t, err)
	_, err = f.Decode([]byte{99, 0})
	require.Error(t, err)
}

func TestFactoryInNodePage(t *testing.T) {
	p := page.NodePage{}.New(0, 0)
	p.Set(1, Text{NodeKey: 1, Value: []byte("t")})
	p.Set(2, page.Deleted{NodeKey: 2})
	pf := page.Factory{Nodes: Factory{}}
	buf, err := pf.Serialize(p)
	require.NoError(t, err)
	got, err := pf.Deserialize(buf)
	require.NoError(t, err)
	np := got.(*page.NodePage)
	require.Equal(t, Text{NodeKey: 1, Value: []byte("t")}, np.Get(1))
	require.True(t, page.IsDeleted(np.Get(2)))
	require.Nil(t, np.Get(3))
}

// build makes <a x="1"><b>one</b>two</a> below the root.
func build(t *testing.T) (w *memWriter, a, b, one, two uint64) {
	w = newMemWriter()
	require.NoError(t, InitDocument(w))
	var err error
	a, err = AppendElement(w, RootKey, "a", map[string]string{"x": "1"})
	require.NoError(t, err)
	b, err = AppendElement(w, a, "b", nil)
	require.NoError(t, err)
	one, err = AppendText(w, b, []byte("one"))
	require.NoError(t, err)
	two, err = AppendText(w, a, []byte("two"))
	require.NoError(t, err)
	return
}

func TestEdit(t *testing.T) {
	w, a, b, one, two := build(t)
	require.Equal(t, []uint64{1, 2, 3, 4}, []uint64{a, b, one, two})

	doc := w.recs[RootKey].(Document)
	require.Equal(t, Document{NodeKey: 0, FirstChild: a, LastChild: a, ChildCount: 1}, doc)

	ea := w.recs[a].(Element)
	require.Equal(t, "a", w.Name(ea.Name))
	require.Len(t, ea.Attrs, 1)
	require.Equal(t, "x", w.Name(ea.Attrs[0].Name))
	require.Equal(t, b, ea.FirstChild)
	require.Equal(t, two, ea.LastChild)
	require.Equal(t, uint64(2), ea.ChildCount)

	eb := w.recs[b].(Element)
	require.Equal(t, two, eb.RightSibling)
	tt := w.recs[two].(Text)
	require.Equal(t, b, tt.LeftSibling)
	require.Equal(t, a, tt.Parent)

	require.NoError(t, SetText(w, one, []byte("uno")))
	require.Equal(t, []byte("uno"), w.recs[one].(Text).Value)
	require.Error(t, SetText(w, a, []byte("nope")))

	// InitDocument leaves an existing root alone
	require.NoError(t, InitDocument(w))
	require.Equal(t, doc, w.recs[RootKey])
}

func TestInitDocumentNotFirst(t *testing.T) {
	w := newMemWriter()
	w.NextNodeKey()
	require.Error(t, InitDocument(w))
}

func TestRemove(t *testing.T) {
	w, a, b, one, two := build(t)
	require.NoError(t, Remove(w, b))
	require.Nil(t, w.recs[b])
	require.Nil(t, w.recs[one])

	ea := w.recs[a].(Element)
	require.Equal(t, two, ea.FirstChild)
	require.Equal(t, two, ea.LastChild)
	require.Equal(t, uint64(1), ea.ChildCount)
	require.Equal(t, uint64(0), w.recs[two].(Text).LeftSibling)

	require.NoError(t, Remove(w, two))
	ea = w.recs[a].(Element)
	require.Equal(t, uint64(0), ea.FirstChild)
	require.Equal(t, uint64(0), ea.ChildCount)

	require.Error(t, Remove(w, RootKey))
	require.Error(t, Remove(w, two))
}

func TestTree(t *testing.T) {
	w, a, b, one, two := build(t)
	tree := Tree{}.New(w)
	root, err := tree.Node(tree.Root())
	require.NoError(t, err)
	require.Equal(t, []uint64{a}, root.Children)

	na, err := tree.Node(a)
	require.NoError(t, err)
	require.Equal(t, "a", na.Label)
	require.Equal(t, "x=1;", na.Value)
	require.Equal(t, []uint64{b, two}, na.Children)
	require.False(t, na.Leaf)

	n1, err := tree.Node(one)
	require.NoError(t, err)
	require.Equal(t, TextLabel, n1.Label)
	require.Equal(t, "one", n1.Value)
	require.Equal(t, b, n1.Parent)
	require.True(t, n1.Leaf)

	_, err = tree.Node(99)
	require.Error(t, err)
}

func TestTreeDiff(t *testing.T) {
	from, _, _, one, _ := build(t)
	to, _, _, _, _ := build(t)
	require.NoError(t, SetText(to, one, []byte("uno")))

	changes, err := diff.Diff(Tree{}.New(from), Tree{}.New(to))
	require.NoError(t, err)
	var updates int
	for _, c := range changes {
		if c.Op == diff.Update {
			updates++
			require.Equal(t, one, c.Old)
			require.Equal(t, "uno", c.Value)
		}
	}
	require.Equal(t, 1, updates)
}
