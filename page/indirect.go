package page

import (
	. "github.com/stevegt/goadapt"
)

// IndirectPage is an inner node of the node tree or the revision
// tree.  Each slot references a page one level down.
type IndirectPage struct {
	refs [IndirectFanout]Reference
}

func (p IndirectPage) New() *IndirectPage {
	return &p
}

func (p *IndirectPage) Kind() Kind {
	return KindIndirect
}

func (p *IndirectPage) Get(offset int) Reference {
	Assert(offset >= 0 && offset < IndirectFanout, "indirect offset %d out of range", offset)
	return p.refs[offset]
}

func (p *IndirectPage) Set(offset int, r Reference) {
	Assert(offset >= 0 && offset < IndirectFanout, "indirect offset %d out of range", offset)
	p.refs[offset] = r
}

// Clone returns a copy-on-write copy of the page.
func (p *IndirectPage) Clone() *IndirectPage {
	c := *p
	return &c
}

func (p *IndirectPage) encode(f Factory, e *encoder) error {
	for _, r := range p.refs {
		e.ref(r)
	}
	return nil
}

func decodeIndirect(d *decoder) *IndirectPage {
	p := IndirectPage{}.New()
	for i := range p.refs {
		p.refs[i] = d.ref()
	}
	return p
}

// RevisionRootPage describes one committed revision: the root of its
// node tree, its name page, and its node-key high-water mark.
type RevisionRootPage struct {
	Revision   uint64
	MaxNodeKey int64 // -1 when no node key was handed out yet
	Indirect   Reference
	Names      Reference
	NodeCount  uint64
	Timestamp  int64 // commit time, unix nanoseconds
}

func (p RevisionRootPage) New(revision uint64) *RevisionRootPage {
	p.Revision = revision
	p.MaxNodeKey = -1
	return &p
}

func (p *RevisionRootPage) Kind() Kind {
	return KindRevisionRoot
}

// Next returns the root page that a write transaction starts from
// when it builds revision p.Revision+1.
// Holds reports whether nodeKey was handed out by this revision or an
// earlier one.
func (p *RevisionRootPage) Holds(nodeKey uint64) bool {
	return p.MaxNodeKey >= 0 && nodeKey <= uint64(p.MaxNodeKey)
}

func (p *RevisionRootPage) Next() *RevisionRootPage {
	c := *p
	c.Revision++
	c.Timestamp = 0
	return &c
}

func (p *RevisionRootPage) encode(f Factory, e *encoder) error {
	e.u64(p.Revision)
	e.u64(uint64(p.MaxNodeKey))
	e.ref(p.Indirect)
	e.ref(p.Names)
	e.u64(p.NodeCount)
	e.u64(uint64(p.Timestamp))
	return nil
}

func decodeRevisionRoot(d *decoder) *RevisionRootPage {
	p := &RevisionRootPage{}
	p.Revision = d.u64()
	p.MaxNodeKey = int64(d.u64())
	p.Indirect = d.ref()
	p.Names = d.ref()
	p.NodeCount = d.u64()
	p.Timestamp = int64(d.u64())
	return p
}

// UberPage anchors a storage.  Swapping it is the commit point.
// NextKey is the next free storage key.
type UberPage struct {
	Revision  uint64
	Bootstrap bool
	NextKey   uint64
	Revisions Reference // root of the revision tree
}

// New returns the uber page of an empty storage.
func (p UberPage) New() *UberPage {
	p.Bootstrap = true
	p.NextKey = 1
	return &p
}

func (p *UberPage) Kind() Kind {
	return KindUber
}

func (p *UberPage) encode(f Factory, e *encoder) error {
	e.u64(p.Revision)
	if p.Bootstrap {
		e.u8(1)
	} else {
		e.u8(0)
	}
	e.u64(p.NextKey)
	e.ref(p.Revisions)
	return nil
}

func decodeUber(d *decoder) *UberPage {
	p := &UberPage{}
	p.Revision = d.u64()
	switch b := d.u8(); b {
	case 0:
	case 1:
		p.Bootstrap = true
	default:
		d.fail("bad bootstrap flag %d", b)
	}
	p.NextKey = d.u64()
	p.Revisions = d.ref()
	return p
}
