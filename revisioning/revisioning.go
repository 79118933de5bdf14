// Package revisioning reconstructs node pages from their stored
// fragments and decides what a write transaction persists as the next
// fragment.
//
// Fragments are always passed newest first.  A fragment's Revision is
// the page-local fragment counter: a new fragment carries the newest
// fragment's revision plus one, and the first fragment of a page has
// revision 0.
package revisioning

import (
	"fmt"
	"strings"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// Strategy combines fragments on read and builds the delta on write.
type Strategy interface {
	Kind() Kind
	// Restore is the number of newest fragments a reader must fetch.
	Restore() int
	// Combine reconstructs the complete page from fragments.
	Combine(fragments []*page.NodePage) *page.NodePage
	// CombineForModification returns the complete page a writer
	// modifies together with the delta fragment that will be stored.
	CombineForModification(fragments []*page.NodePage) *page.Container
}

// Kind names a strategy.
type Kind int

const (
	FullDump Kind = iota
	Incremental
	Differential
	SlidingSnapshot
)

func (k Kind) String() string {
	switch k {
	case FullDump:
		return "fulldump"
	case Incremental:
		return "incremental"
	case Differential:
		return "differential"
	case SlidingSnapshot:
		return "slidingsnapshot"
	}
	return fmt.Sprintf("revisioning(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := FullDump; k <= SlidingSnapshot; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown revisioning strategy %q", s)
}

// New returns the strategy of the given kind.  n is the milestone
// interval for Incremental and Differential and the window size for
// SlidingSnapshot; it is ignored for FullDump.
func New(kind Kind, n int) Strategy {
	if kind != FullDump {
		Assert(n > 0, "%v needs a positive interval, got %d", kind, n)
	}
	switch kind {
	case FullDump:
		return fullDump{}
	case Incremental:
		return incremental{milestone: n}
	case Differential:
		return differential{milestone: n}
	case SlidingSnapshot:
		return slidingSnapshot{window: n}
	}
	Assert(false, "unhandled revisioning kind %d", kind)
	return nil
}

// next returns empty complete and delta pages for the fragment that
// follows newest.
func next(newest *page.NodePage) (complete, delta *page.NodePage) {
	rev := newest.Revision + 1
	complete = page.NodePage{}.New(newest.PageKey, rev)
	delta = page.NodePage{}.New(newest.PageKey, rev)
	return
}

func checkFragments(fragments []*page.NodePage) {
	Assert(len(fragments) > 0, "no fragments to combine")
}

func milestone(p *page.NodePage, n int) bool {
	return p.Revision%uint64(n) == 0
}

type fullDump struct{}

func (fullDump) Kind() Kind {
	return FullDump
}

func (fullDump) Restore() int {
	return 1
}

func (fullDump) Combine(fragments []*page.NodePage) *page.NodePage {
	checkFragments(fragments)
	return fragments[0]
}

func (fullDump) CombineForModification(fragments []*page.NodePage) *page.Container {
	checkFragments(fragments)
	complete, delta := next(fragments[0])
	for i := 0; i < page.NodesPerPage; i++ {
		r := fragments[0].Get(i)
		complete.Set(i, r)
		delta.Set(i, r)
	}
	return &page.Container{Complete: complete, Modified: delta}
}

type incremental struct {
	milestone int
}

func (incremental) Kind() Kind {
	return Incremental
}

func (s incremental) Restore() int {
	return s.milestone
}

func (s incremental) Combine(fragments []*page.NodePage) *page.NodePage {
	checkFragments(fragments)
	newest := fragments[0]
	out := page.NodePage{}.New(newest.PageKey, newest.Revision)
	for _, frag := range fragments {
		for i := 0; i < page.NodesPerPage; i++ {
			if out.Get(i) == nil {
				out.Set(i, frag.Get(i))
			}
		}
		if milestone(frag, s.milestone) {
			break
		}
	}
	return out
}

func (s incremental) CombineForModification(fragments []*page.NodePage) *page.Container {
	checkFragments(fragments)
	complete, delta := next(fragments[0])
	dump := milestone(complete, s.milestone)
	for _, frag := range fragments {
		for i := 0; i < page.NodesPerPage; i++ {
			if complete.Get(i) == nil && frag.Get(i) != nil {
				complete.Set(i, frag.Get(i))
				if dump {
					delta.Set(i, frag.Get(i))
				}
			}
		}
		if milestone(frag, s.milestone) {
			break
		}
	}
	return &page.Container{Complete: complete, Modified: delta}
}

type differential struct {
	milestone int
}

func (differential) Kind() Kind {
	return Differential
}

func (s differential) Restore() int {
	return s.milestone
}

// base returns the newest full dump older than fragments[0], or nil
// if fragments[0] is itself a full dump.
func (s differential) base(fragments []*page.NodePage) *page.NodePage {
	if milestone(fragments[0], s.milestone) {
		return nil
	}
	for _, frag := range fragments[1:] {
		if milestone(frag, s.milestone) {
			return frag
		}
	}
	Assert(false, "no full dump among %d fragments of page %d", len(fragments), fragments[0].PageKey)
	return nil
}

func (s differential) Combine(fragments []*page.NodePage) *page.NodePage {
	checkFragments(fragments)
	newest := fragments[0]
	base := s.base(fragments)
	out := page.NodePage{}.New(newest.PageKey, newest.Revision)
	for i := 0; i < page.NodesPerPage; i++ {
		r := newest.Get(i)
		if r == nil && base != nil {
			r = base.Get(i)
		}
		out.Set(i, r)
	}
	return out
}

func (s differential) CombineForModification(fragments []*page.NodePage) *page.Container {
	checkFragments(fragments)
	newest := fragments[0]
	base := s.base(fragments)
	complete, delta := next(newest)
	dump := milestone(complete, s.milestone)
	for i := 0; i < page.NodesPerPage; i++ {
		if r := newest.Get(i); r != nil {
			complete.Set(i, r)
			delta.Set(i, r)
			continue
		}
		if base == nil {
			continue
		}
		if r := base.Get(i); r != nil {
			complete.Set(i, r)
			if dump {
				delta.Set(i, r)
			}
		}
	}
	return &page.Container{Complete: complete, Modified: delta}
}

type slidingSnapshot struct {
	window int
}

func (slidingSnapshot) Kind() Kind {
	return SlidingSnapshot
}

func (s slidingSnapshot) Restore() int {
	return s.window
}

func (s slidingSnapshot) Combine(fragments []*page.NodePage) *page.NodePage {
	checkFragments(fragments)
	newest := fragments[0]
	out := page.NodePage{}.New(newest.PageKey, newest.Revision)
	for _, frag := range fragments {
		for i := 0; i < page.NodesPerPage; i++ {
			if out.Get(i) == nil {
				out.Set(i, frag.Get(i))
			}
		}
	}
	return out
}

func (s slidingSnapshot) CombineForModification(fragments []*page.NodePage) *page.Container {
	checkFragments(fragments)
	complete, delta := next(fragments[0])
	full := len(fragments) >= s.window
	for j, frag := range fragments {
		// the oldest fragment drops out of the window with this write
		leaving := full && j == s.window-1
		for i := 0; i < page.NodesPerPage; i++ {
			if complete.Get(i) != nil || frag.Get(i) == nil {
				continue
			}
			complete.Set(i, frag.Get(i))
			if leaving {
				delta.Set(i, frag.Get(i))
			}
		}
		if j == s.window-1 {
			break
		}
	}
	return &page.Container{Complete: complete, Modified: delta}
}
