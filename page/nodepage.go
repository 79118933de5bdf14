package page

import (
	"fmt"

	. "github.com/stevegt/goadapt"
)

// Record is a node stored in a node page slot.  Records are treated
// as immutable values once they are handed to a page.
type Record interface {
	Key() uint64
}

// NodeFactory turns records into bytes and back.  Implementations
// decide the record encoding; node pages only frame the bytes.
type NodeFactory interface {
	Encode(r Record) ([]byte, error)
	Decode(buf []byte) (Record, error)
}

// Deleted is the tombstone left in a slot whose record was removed.
// It shadows older fragments of the same slot.
type Deleted struct {
	NodeKey uint64
}

func (d Deleted) Key() uint64 {
	return d.NodeKey
}

// IsDeleted reports whether r is a tombstone.
func IsDeleted(r Record) bool {
	_, ok := r.(Deleted)
	return ok
}

// slot markers
const (
	slotAbsent  = 0
	slotDeleted = 1
	slotRecord  = 2
)

// NodePage is a fixed-size bucket of record slots.  Revision counts
// the fragments written for this page key, starting at 0; Previous is
// the storage key of the fragment this one was derived from, or 0.
type NodePage struct {
	PageKey  uint64
	Revision uint64
	Previous uint64
	slots    [NodesPerPage]Record
}

func (p NodePage) New(pageKey, revision uint64) *NodePage {
	p.PageKey = pageKey
	p.Revision = revision
	p.slots = [NodesPerPage]Record{}
	return &p
}

func (p *NodePage) Kind() Kind {
	return KindNode
}

// Get returns the record in slot offset, or nil.
func (p *NodePage) Get(offset int) Record {
	Assert(offset >= 0 && offset < NodesPerPage, "slot offset %d out of range", offset)
	return p.slots[offset]
}

// Set puts r (possibly a Deleted tombstone, or nil to clear) in slot
// offset.
func (p *NodePage) Set(offset int, r Record) {
	Assert(offset >= 0 && offset < NodesPerPage, "slot offset %d out of range", offset)
	p.slots[offset] = r
}

// Count returns the number of occupied slots, tombstones included.
func (p *NodePage) Count() (n int) {
	for _, r := range p.slots {
		if r != nil {
			n++
		}
	}
	return
}

// Clone returns a copy of the page.  Records are shared.
func (p *NodePage) Clone() *NodePage {
	c := *p
	return &c
}

func (p *NodePage) String() string {
	return fmt.Sprintf("node page %d rev %d (%d slots)", p.PageKey, p.Revision, p.Count())
}

func (p *NodePage) encode(f Factory, e *encoder) (err error) {
	e.u64(p.PageKey)
	e.u64(p.Revision)
	e.u64(p.Previous)
	for _, r := range p.slots {
		switch r := r.(type) {
		case nil:
			e.u8(slotAbsent)
		case Deleted:
			e.u8(slotDeleted)
			e.u64(r.NodeKey)
		default:
			Assert(f.Nodes != nil, "no node factory")
			var buf []byte
			buf, err = f.Nodes.Encode(r)
			if err != nil {
				return
			}
			e.u8(slotRecord)
			e.bytes(buf)
		}
	}
	return
}

func decodeNode(f Factory, d *decoder) *NodePage {
	pageKey := d.u64()
	revision := d.u64()
	p := NodePage{}.New(pageKey, revision)
	p.Previous = d.u64()
	for i := range p.slots {
		switch marker := d.u8(); marker {
		case slotAbsent:
		case slotDeleted:
			p.slots[i] = Deleted{NodeKey: d.u64()}
		case slotRecord:
			buf := d.bytes()
			if d.err != nil {
				return p
			}
			Assert(f.Nodes != nil, "no node factory")
			r, err := f.Nodes.Decode(buf)
			if err != nil {
				d.fail("slot %d: %v", i, err)
				return p
			}
			p.slots[i] = r
		default:
			d.fail("slot %d: bad marker %d", i, marker)
			return p
		}
	}
	return p
}

// Container pairs the complete view of a node page with the delta
// fragment that a write transaction will persist.  Both may be the
// same page for a page created in the current transaction.
type Container struct {
	Complete *NodePage
	Modified *NodePage
}

// NodePageKey returns the key of the node page holding nodeKey.
func NodePageKey(nodeKey uint64) uint64 {
	return nodeKey >> NodeBits
}

// NodeOffset returns the slot of nodeKey inside its node page.
func NodeOffset(nodeKey uint64) int {
	return int(nodeKey & (NodesPerPage - 1))
}

// Route returns the per-level offsets that lead to key through an
// indirect tree of the given height, root level first.
func Route(key uint64, levels int) []int {
	offsets := make([]int, levels)
	k := key
	for l := levels - 1; l >= 0; l-- {
		offsets[l] = int(k & (IndirectFanout - 1))
		k >>= IndirectBits
	}
	Assert(k == 0, "key %d does not fit %d indirect levels", key, levels)
	return offsets
}
