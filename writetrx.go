package revbase

import (
	"fmt"
	"hash/fnv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/cache"
	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// WriteTrx builds the next revision of a storage.  Modified node
// pages are kept in a transaction log until Commit writes them.  A
// WriteTrx must only be used from one goroutine.
type WriteTrx struct {
	s *Storage
	// uber is the last committed uber page, prev its revision root
	// (nil before the first commit)
	uber *page.UberPage
	prev *page.RevisionRootPage
	// root is the revision being built
	root       *page.RevisionRootPage
	nodes      *cowTree
	revs       *cowTree
	names      *page.NamePage
	namesDirty bool
	nextKey    uint64
	log        *cache.TransactionLog
	pages      *pageReader
	dirty      bool
	closed     bool
}

// setup starts a fresh revision on top of u, dropping whatever was
// pending.
func (t *WriteTrx) setup(u *page.UberPage) (err error) {
	defer Return(&err)
	t.drop()
	w := t.s.writer

	t.uber = u
	t.prev = nil
	t.root = page.RevisionRootPage{}.New(0)
	t.names = page.NamePage{}.New()
	if !u.Bootstrap {
		t.prev, err = revisionRoot(w, u, u.Revision)
		Ck(err)
		t.root = t.prev.Next()
		names, err := readNames(w, t.prev.Names)
		Ck(err)
		t.names = names.Clone()
	}
	t.namesDirty = false
	t.dirty = false
	t.nextKey = u.NextKey
	t.nodes = newCowTree(w, t.root.Indirect)
	t.revs = newCowTree(w, u.Revisions)

	t.log, err = cache.NewTransactionLog(t.s.Dir, t.s.Config.LogCacheSize, t.s.codec)
	Ck(err)
	t.log.Metrics = t.s.metrics
	lru := cache.NewLRU(t.s.Config.CacheSize, nil)
	lru.Metrics = t.s.metrics
	t.pages = &pageReader{r: w, strategy: t.s.strategy, cache: lru}
	log.Debugf("begin write of revision %d", t.root.Revision)
	return
}

// drop closes the transaction log and page cache of the current
// revision, if any.
func (t *WriteTrx) drop() {
	if t.log != nil {
		err := t.log.Close()
		if err != nil {
			log.Errorf("closing transaction log: %v", err)
		}
		t.log = nil
	}
	if t.pages != nil {
		t.pages.cache.Close()
		t.pages = nil
	}
}

func (t *WriteTrx) check() {
	Assert(!t.closed, "use of closed write transaction")
}

func (t *WriteTrx) alloc() uint64 {
	key := t.nextKey
	t.nextKey++
	return key
}

// Revision returns the number the pending revision will be committed
// as.
func (t *WriteTrx) Revision() uint64 {
	return t.root.Revision
}

func (t *WriteTrx) MaxNodeKey() int64 {
	return t.root.MaxNodeKey
}

func (t *WriteTrx) NodeCount() uint64 {
	return t.root.NodeCount
}

// NextNodeKey reserves and returns a fresh node key.
func (t *WriteTrx) NextNodeKey() uint64 {
	t.check()
	t.root.MaxNodeKey++
	t.dirty = true
	return uint64(t.root.MaxNodeKey)
}

// prepare returns the working copy of the node page pageKey, creating
// it from the committed fragments on first use.
func (t *WriteTrx) prepare(pageKey uint64) (c *page.Container, err error) {
	c, err = t.log.Get(pageKey)
	if err != nil || c != nil {
		return
	}
	ref, err := t.nodes.lookup(pageKey)
	if err != nil {
		return
	}
	if ref.Present() {
		frags, err := fragments(t.s.writer, ref, t.s.strategy.Restore())
		if err != nil {
			return nil, err
		}
		if len(frags) == 0 {
			return nil, dangling(ref, "node page")
		}
		c = t.s.strategy.CombineForModification(frags)
		c.Complete.Previous = ref.Key
		c.Modified.Previous = ref.Key
	} else {
		c = &page.Container{
			Complete: page.NodePage{}.New(pageKey, 0),
			Modified: page.NodePage{}.New(pageKey, 0),
		}
	}
	err = t.nodes.touch(pageKey)
	if err != nil {
		return
	}
	err = t.log.Put(pageKey, c)
	return
}

// Get returns the record under nodeKey as the pending revision sees
// it.
func (t *WriteTrx) Get(nodeKey uint64) (rec page.Record, err error) {
	t.check()
	if !t.root.Holds(nodeKey) {
		return nil, nil
	}
	pageKey := page.NodePageKey(nodeKey)
	c, err := t.log.Get(pageKey)
	if err != nil {
		return
	}
	if c != nil {
		return record(c.Complete, nodeKey), nil
	}
	ref, err := t.nodes.lookup(pageKey)
	if err != nil {
		return
	}
	p, err := t.pages.complete(ref, pageKey)
	if err != nil {
		return
	}
	return record(p, nodeKey), nil
}

// Set stores rec under rec.Key(), which must have been handed out by
// NextNodeKey.
func (t *WriteTrx) Set(rec page.Record) (err error) {
	t.check()
	key := rec.Key()
	Assert(!page.IsDeleted(rec), "use Remove to delete node %d", key)
	Assert(t.root.Holds(key), "node key %d was never handed out", key)
	c, err := t.prepare(page.NodePageKey(key))
	if err != nil {
		return
	}
	off := page.NodeOffset(key)
	if record(c.Complete, key) == nil {
		t.root.NodeCount++
	}
	c.Complete.Set(off, rec)
	c.Modified.Set(off, rec)
	t.dirty = true
	return t.log.Put(page.NodePageKey(key), c)
}

// Remove deletes the record under nodeKey.
func (t *WriteTrx) Remove(nodeKey uint64) (err error) {
	t.check()
	rec, err := t.Get(nodeKey)
	if err != nil {
		return
	}
	if rec == nil {
		return fmt.Errorf("no node %d", nodeKey)
	}
	c, err := t.prepare(page.NodePageKey(nodeKey))
	if err != nil {
		return
	}
	tomb := page.Deleted{NodeKey: nodeKey}
	off := page.NodeOffset(nodeKey)
	c.Complete.Set(off, tomb)
	c.Modified.Set(off, tomb)
	t.root.NodeCount--
	t.dirty = true
	return t.log.Put(page.NodePageKey(nodeKey), c)
}

// nameKey hashes name into the name page key space.
func nameKey(name string) int32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int32(h.Sum32())
}

// CreateName interns name and returns its key.  Colliding names take
// the next free key.
func (t *WriteTrx) CreateName(name string) (key int32, err error) {
	t.check()
	key = nameKey(name)
	for {
		e := t.names.Get(key)
		if e == nil {
			break
		}
		if e.String() == name {
			return key, nil
		}
		key++
	}
	t.names.Set(key, page.Name(name))
	t.namesDirty = true
	t.dirty = true
	return key, nil
}

// Name returns the string interned under key, or "".
func (t *WriteTrx) Name(key int32) string {
	t.check()
	return t.names.Name(key)
}

func (t *WriteTrx) writeNodePage(pageKey uint64) (ref page.Reference, err error) {
	c, err := t.log.Get(pageKey)
	if err != nil {
		return
	}
	Assert(c != nil, "touched node page %d is not in the transaction log", pageKey)
	ref = page.Reference{Key: t.alloc(), Revision: t.root.Revision}
	err = t.s.writer.Write(ref.Key, c.Modified)
	if err != nil {
		return
	}
	log.Debugf("wrote node page %d fragment %d as %v", pageKey, c.Modified.Revision, ref)
	return
}

// Commit writes the pending revision and publishes it.  Node pages,
// indirect pages, the name page, the revision root and the revision
// tree are written before the uber page, so a failure leaves the
// previous revision in place.  On failure the pending changes are
// dropped; on success the transaction goes on with the next revision.
func (t *WriteTrx) Commit() (rev uint64, err error) {
	t.check()
	uber, err := t.write()
	if err != nil {
		log.Errorf("commit of revision %d failed: %v", t.root.Revision, err)
		serr := t.setup(t.uber)
		if serr != nil {
			log.Errorf("restarting revision %d: %v", t.root.Revision, serr)
			t.Close()
		}
		return
	}
	t.s.publish(uber)
	log.Infof("committed revision %d (%d nodes)", uber.Revision, t.root.NodeCount)
	rev = uber.Revision
	err = t.setup(uber)
	if err != nil {
		t.Close()
	}
	return
}

// write stores every page of the pending revision, uber page last.
func (t *WriteTrx) write() (uber *page.UberPage, err error) {
	w := t.s.writer
	root := t.root
	root.Timestamp = time.Now().UnixNano()

	root.Indirect, err = t.nodes.commit(w, t.alloc, root.Revision, t.writeNodePage)
	if err != nil {
		return
	}

	if t.namesDirty {
		root.Names = page.Reference{Key: t.alloc(), Revision: root.Revision}
		err = w.Write(root.Names.Key, t.names)
		if err != nil {
			return
		}
	}

	rootRef := page.Reference{Key: t.alloc(), Revision: root.Revision}
	err = w.Write(rootRef.Key, root)
	if err != nil {
		return
	}

	err = t.revs.touch(root.Revision)
	if err != nil {
		return
	}
	revsRef, err := t.revs.commit(w, t.alloc, root.Revision, func(uint64) (page.Reference, error) {
		return rootRef, nil
	})
	if err != nil {
		return
	}

	uber = &page.UberPage{
		Revision:  root.Revision,
		NextKey:   t.nextKey,
		Revisions: revsRef,
	}
	err = w.WriteUber(uber)
	if err != nil {
		return nil, err
	}
	return
}

// Abort drops every change made since the last commit.  The
// transaction stays open.
func (t *WriteTrx) Abort() error {
	t.check()
	log.Debugf("abort revision %d", t.root.Revision)
	return t.setup(t.uber)
}

// Close drops uncommitted changes and frees the writer slot.  Closing
// twice is a no-op.
func (t *WriteTrx) Close() error {
	if t.closed {
		return nil
	}
	if t.dirty {
		log.Debugf("discarding uncommitted revision %d", t.root.Revision)
	}
	t.closed = true
	t.drop()
	t.s.writeSem.Release(1)
	return nil
}
