package revbase

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/backend"
	"github.com/t7a/revbase/cache"
	"github.com/t7a/revbase/page"
	"github.com/t7a/revbase/revisioning"

	. "github.com/stevegt/goadapt"
)

func dangling(ref page.Reference, what string) error {
	return &page.IOError{Op: "read " + what, Key: ref.Key, Err: errors.Wrap(page.ErrCorrupt, "dangling reference")}
}

func readIndirect(r backend.Reader, ref page.Reference) (*page.IndirectPage, error) {
	p, err := r.Read(ref.Key)
	if err != nil {
		return nil, err
	}
	ind, ok := p.(*page.IndirectPage)
	if !ok {
		return nil, dangling(ref, "indirect page")
	}
	return ind, nil
}

func readNodePage(r backend.Reader, ref page.Reference) (*page.NodePage, error) {
	p, err := r.Read(ref.Key)
	if err != nil {
		return nil, err
	}
	np, ok := p.(*page.NodePage)
	if !ok {
		return nil, dangling(ref, "node page")
	}
	return np, nil
}

func readRevisionRoot(r backend.Reader, ref page.Reference) (*page.RevisionRootPage, error) {
	p, err := r.Read(ref.Key)
	if err != nil {
		return nil, err
	}
	rr, ok := p.(*page.RevisionRootPage)
	if !ok {
		return nil, dangling(ref, "revision root")
	}
	return rr, nil
}

func readNames(r backend.Reader, ref page.Reference) (*page.NamePage, error) {
	if !ref.Present() {
		return page.NamePage{}.New(), nil
	}
	p, err := r.Read(ref.Key)
	if err != nil {
		return nil, err
	}
	np, ok := p.(*page.NamePage)
	if !ok {
		return nil, dangling(ref, "name page")
	}
	return np, nil
}

// leafRef follows key through the indirect tree rooted at root and
// returns the reference stored at the bottom, or an absent reference.
func leafRef(r backend.Reader, root page.Reference, key uint64) (page.Reference, error) {
	return leafRefFrom(r, root, page.Route(key, page.IndirectLevels))
}

// fragments reads up to n fragments of a node page, newest first,
// starting at the fragment ref points to and following Previous.
func fragments(r backend.Reader, ref page.Reference, n int) (out []*page.NodePage, err error) {
	for ref.Present() && len(out) < n {
		np, err := readNodePage(r, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, np)
		ref = page.Reference{Key: np.Previous}
	}
	return
}

// revisionRoot loads the root page of revision rev.
func revisionRoot(r backend.Reader, uber *page.UberPage, rev uint64) (*page.RevisionRootPage, error) {
	ref, err := leafRef(r, uber.Revisions, rev)
	if err != nil {
		return nil, err
	}
	if !ref.Present() {
		return nil, dangling(ref, "revision root")
	}
	return readRevisionRoot(r, ref)
}

// cowTree is a write transaction's copy-on-write view of one indirect
// tree.  Indirect pages on the path to a touched key are copied into
// memory; everything else still refers to committed pages.
type cowTree struct {
	r    backend.Reader
	base page.Reference
	root *cowNode
}

type cowNode struct {
	ind  *page.IndirectPage
	kids map[int]*cowNode
	// leaf level only: offsets that get a new page at commit, and the
	// key they stand for
	pending map[int]uint64
}

func newCowTree(r backend.Reader, base page.Reference) *cowTree {
	return &cowTree{r: r, base: base}
}

func (t *cowTree) copyPage(ref page.Reference) (n *cowNode, err error) {
	ind := page.IndirectPage{}.New()
	if ref.Present() {
		committed, err := readIndirect(t.r, ref)
		if err != nil {
			return nil, err
		}
		ind = committed.Clone()
	}
	return &cowNode{ind: ind, kids: make(map[int]*cowNode), pending: make(map[int]uint64)}, nil
}

// lookup returns the committed reference stored for key.
func (t *cowTree) lookup(key uint64) (ref page.Reference, err error) {
	route := page.Route(key, page.IndirectLevels)
	n := t.root
	ref = t.base
	for i, off := range route {
		if n == nil {
			// off the copied path: continue on committed pages
			return leafRefFrom(t.r, ref, route[i:])
		}
		ref = n.ind.Get(off)
		n = n.kids[off]
	}
	return
}

func leafRefFrom(r backend.Reader, ref page.Reference, route []int) (page.Reference, error) {
	for _, off := range route {
		if !ref.Present() {
			return ref, nil
		}
		ind, err := readIndirect(r, ref)
		if err != nil {
			return page.Reference{}, err
		}
		ref = ind.Get(off)
	}
	return ref, nil
}

// touch copies the path to key and marks it for a new leaf page.
func (t *cowTree) touch(key uint64) (err error) {
	if t.root == nil {
		t.root, err = t.copyPage(t.base)
		if err != nil {
			return
		}
	}
	route := page.Route(key, page.IndirectLevels)
	n := t.root
	for _, off := range route[:len(route)-1] {
		kid := n.kids[off]
		if kid == nil {
			kid, err = t.copyPage(n.ind.Get(off))
			if err != nil {
				return
			}
			n.kids[off] = kid
		}
		n = kid
	}
	n.pending[route[len(route)-1]] = key
	return
}

// writeLeaf stores the new page for key and returns its reference.
type writeLeaf func(key uint64) (page.Reference, error)

// commit writes pending leaves and every copied indirect page bottom
// up, and returns the reference to the new root.  An untouched tree
// commits to its base.
func (t *cowTree) commit(w backend.Writer, alloc func() uint64, rev uint64, leaf writeLeaf) (page.Reference, error) {
	if t.root == nil {
		return t.base, nil
	}
	return t.commitNode(w, alloc, rev, leaf, t.root)
}

func (t *cowTree) commitNode(w backend.Writer, alloc func() uint64, rev uint64, leaf writeLeaf, n *cowNode) (ref page.Reference, err error) {
	for _, off := range sortedOffsets(n.pending) {
		r, err := leaf(n.pending[off])
		if err != nil {
			return ref, err
		}
		n.ind.Set(off, r)
	}
	for _, off := range sortedKids(n.kids) {
		r, err := t.commitNode(w, alloc, rev, leaf, n.kids[off])
		if err != nil {
			return ref, err
		}
		n.ind.Set(off, r)
	}
	ref = page.Reference{Key: alloc(), Revision: rev}
	err = w.Write(ref.Key, n.ind)
	if err != nil {
		return
	}
	log.Debugf("wrote indirect page %v", ref)
	return
}

func sortedKids(m map[int]*cowNode) []int {
	out := make([]int, 0, len(m))
	for off := range m {
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}

func sortedOffsets(m map[int]uint64) []int {
	out := make([]int, 0, len(m))
	for off := range m {
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}

// pageReader reconstructs committed node pages through a strategy and
// caches the result.
type pageReader struct {
	r        backend.Reader
	strategy revisioning.Strategy
	cache    cache.Cache
}

func (pr *pageReader) complete(ref page.Reference, pageKey uint64) (p *page.NodePage, err error) {
	c, err := pr.cache.Get(pageKey)
	if err != nil {
		return
	}
	if c != nil {
		return c.Complete, nil
	}
	if !ref.Present() {
		return nil, nil
	}
	frags, err := fragments(pr.r, ref, pr.strategy.Restore())
	if err != nil {
		return
	}
	Assert(len(frags) > 0, "no fragments for page %d", pageKey)
	p = pr.strategy.Combine(frags)
	err = pr.cache.Put(pageKey, &page.Container{Complete: p})
	return
}

// record returns the live record at nodeKey in p, hiding tombstones.
func record(p *page.NodePage, nodeKey uint64) page.Record {
	if p == nil {
		return nil
	}
	r := p.Get(page.NodeOffset(nodeKey))
	if page.IsDeleted(r) {
		return nil
	}
	return r
}
