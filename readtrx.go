package revbase

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// ReadTrx is a read-only view of one committed revision.  It owns its
// backend reader and page cache.  Get and Name may be called from
// several goroutines at once.
type ReadTrx struct {
	s      *Storage
	root   *page.RevisionRootPage
	names  *page.NamePage
	pages  *pageReader
	closed bool
}

func (t *ReadTrx) check() {
	Assert(!t.closed, "use of closed read transaction at revision %d", t.root.Revision)
}

// Get returns the record stored under nodeKey, or nil if there is
// none in this revision.
func (t *ReadTrx) Get(nodeKey uint64) (rec page.Record, err error) {
	t.check()
	if !t.root.Holds(nodeKey) {
		return nil, nil
	}
	pageKey := page.NodePageKey(nodeKey)
	ref, err := leafRef(t.pages.r, t.root.Indirect, pageKey)
	if err != nil {
		return
	}
	p, err := t.pages.complete(ref, pageKey)
	if err != nil {
		return
	}
	return record(p, nodeKey), nil
}

// Name returns the string interned under key, or "" if there is none.
func (t *ReadTrx) Name(key int32) string {
	t.check()
	return t.names.Name(key)
}

func (t *ReadTrx) Revision() uint64 {
	return t.root.Revision
}

// MaxNodeKey returns the highest node key handed out up to this
// revision, or -1.
func (t *ReadTrx) MaxNodeKey() int64 {
	return t.root.MaxNodeKey
}

// NodeCount returns the number of live records.
func (t *ReadTrx) NodeCount() uint64 {
	return t.root.NodeCount
}

// Timestamp returns the commit time of the revision.
func (t *ReadTrx) Timestamp() time.Time {
	return time.Unix(0, t.root.Timestamp)
}

// Close releases the cache and the backend reader.  Closing twice is
// a no-op.
func (t *ReadTrx) Close() (err error) {
	if t.closed {
		return nil
	}
	t.closed = true
	log.Debugf("close read at revision %d", t.root.Revision)
	err = t.pages.cache.Close()
	if err != nil {
		t.pages.r.Close()
		return
	}
	return t.pages.r.Close()
}
