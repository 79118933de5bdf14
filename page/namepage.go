package page

import (
	"github.com/google/btree"
)

// MetaEntry is a value kept in the name page.
type MetaEntry interface {
	String() string
}

// MetaEntryFactory turns meta entries into bytes and back.
type MetaEntryFactory interface {
	Encode(e MetaEntry) ([]byte, error)
	Decode(buf []byte) (MetaEntry, error)
}

// Name is the default meta entry: an interned name.
type Name string

func (n Name) String() string {
	return string(n)
}

// NameEntries is the default MetaEntryFactory.  It stores names as
// their raw bytes.
type NameEntries struct{}

func (NameEntries) Encode(e MetaEntry) ([]byte, error) {
	return []byte(e.String()), nil
}

func (NameEntries) Decode(buf []byte) (MetaEntry, error) {
	return Name(buf), nil
}

type nameItem struct {
	key   int32
	entry MetaEntry
}

func (a nameItem) Less(b btree.Item) bool {
	return a.key < b.(nameItem).key
}

// NamePage maps interned-name keys to meta entries.  Entries are kept
// ordered by key so the serialized form does not depend on insertion
// order.
type NamePage struct {
	tree *btree.BTree
}

func (p NamePage) New() *NamePage {
	p.tree = btree.New(8)
	return &p
}

func (p *NamePage) Kind() Kind {
	return KindName
}

// Set stores e under key, replacing any previous entry.
func (p *NamePage) Set(key int32, e MetaEntry) {
	p.tree.ReplaceOrInsert(nameItem{key: key, entry: e})
}

// Get returns the entry for key, or nil.
func (p *NamePage) Get(key int32) MetaEntry {
	item := p.tree.Get(nameItem{key: key})
	if item == nil {
		return nil
	}
	return item.(nameItem).entry
}

// Name returns the string form of the entry for key, or "".
func (p *NamePage) Name(key int32) string {
	e := p.Get(key)
	if e == nil {
		return ""
	}
	return e.String()
}

func (p *NamePage) Len() int {
	return p.tree.Len()
}

// Ascend calls fn for each entry in key order until fn returns false.
func (p *NamePage) Ascend(fn func(key int32, e MetaEntry) bool) {
	p.tree.Ascend(func(i btree.Item) bool {
		item := i.(nameItem)
		return fn(item.key, item.entry)
	})
}

// Clone returns a copy that can be modified independently.
func (p *NamePage) Clone() *NamePage {
	return &NamePage{tree: p.tree.Clone()}
}

func (p *NamePage) encode(f Factory, e *encoder) (err error) {
	meta := f.meta()
	e.u32(uint32(p.tree.Len()))
	p.Ascend(func(key int32, entry MetaEntry) bool {
		var buf []byte
		buf, err = meta.Encode(entry)
		if err != nil {
			return false
		}
		e.u32(uint32(key))
		e.bytes(buf)
		return true
	})
	return
}

func decodeName(f Factory, d *decoder) *NamePage {
	meta := f.meta()
	p := NamePage{}.New()
	n := d.u32()
	last := int64(-1) << 32
	for i := uint32(0); i < n && d.err == nil; i++ {
		key := int32(d.u32())
		buf := d.bytes()
		if d.err != nil {
			break
		}
		if int64(key) <= last {
			d.fail("name keys out of order at %d", key)
			break
		}
		last = int64(key)
		entry, err := meta.Decode(buf)
		if err != nil {
			d.fail("name %d: %v", key, err)
			break
		}
		p.Set(key, entry)
	}
	return p
}
