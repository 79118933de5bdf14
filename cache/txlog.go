package cache

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// Codec turns pages into the bytes kept in a spill file.
type Codec interface {
	Encode(p page.Page) ([]byte, error)
	Decode(buf []byte) (page.Page, error)
}

// Spill is a transaction-scoped directory holding one file per
// evicted page key.  Files are replaced atomically.
type Spill struct {
	Dir   string
	codec Codec
}

// NewSpill creates a uniquely named spill directory under parent.
func NewSpill(parent string, codec Codec) (s *Spill, err error) {
	dir := filepath.Join(parent, "txlog-"+uuid.New().String())
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, &page.IOError{Op: "create transaction log", Err: err}
	}
	log.Debugf("transaction log at %s", dir)
	return &Spill{Dir: dir, codec: codec}, nil
}

func (s *Spill) path(key uint64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%016x", key))
}

// Put writes c under key.  The file holds a flag telling whether both
// pages are the same, the length of the complete page, the complete
// page and, if different, the modified page.
func (s *Spill) Put(key uint64, c *page.Container) (err error) {
	defer Return(&err)
	complete, err := s.codec.Encode(c.Complete)
	Ck(err)
	var buf []byte
	if c.Modified == c.Complete {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(complete)))
	buf = append(buf, complete...)
	if c.Modified != c.Complete {
		modified, err := s.codec.Encode(c.Modified)
		Ck(err)
		buf = append(buf, modified...)
	}
	err = renameio.WriteFile(s.path(key), buf, 0644)
	Ck(err)
	return
}

// Get reads the container spilled under key, or returns nil, nil.
func (s *Spill) Get(key uint64) (c *page.Container, err error) {
	buf, err := ioutil.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &page.IOError{Op: "read transaction log", Key: key, Err: err}
	}
	if len(buf) < 5 {
		return nil, &page.IOError{Op: "read transaction log", Key: key, Err: errors.Wrap(page.ErrCorrupt, "short spill file")}
	}
	same := buf[0] == 1
	n := binary.BigEndian.Uint32(buf[1:5])
	rest := buf[5:]
	if uint64(len(rest)) < uint64(n) {
		return nil, &page.IOError{Op: "read transaction log", Key: key, Err: errors.Wrap(page.ErrCorrupt, "truncated spill file")}
	}
	complete, err := s.decodeNode(rest[:n])
	if err != nil {
		return
	}
	c = &page.Container{Complete: complete, Modified: complete}
	if !same {
		c.Modified, err = s.decodeNode(rest[n:])
		if err != nil {
			return nil, err
		}
	}
	return
}

func (s *Spill) decodeNode(buf []byte) (*page.NodePage, error) {
	p, err := s.codec.Decode(buf)
	if err != nil {
		return nil, err
	}
	np, ok := p.(*page.NodePage)
	if !ok {
		return nil, &page.IOError{Op: "read transaction log", Err: errors.Wrapf(page.ErrCorrupt, "spilled %v page", p.Kind())}
	}
	return np, nil
}

// Clear removes every spilled entry but keeps the directory.
func (s *Spill) Clear() (err error) {
	entries, err := ioutil.ReadDir(s.Dir)
	if err != nil {
		return &page.IOError{Op: "clear transaction log", Err: err}
	}
	for _, e := range entries {
		err = os.Remove(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			return &page.IOError{Op: "clear transaction log", Err: err}
		}
	}
	return
}

// Remove deletes the spill directory.
func (s *Spill) Remove() error {
	log.Debugf("removing transaction log %s", s.Dir)
	err := os.RemoveAll(s.Dir)
	if err != nil {
		return &page.IOError{Op: "remove transaction log", Err: err}
	}
	return nil
}

// TransactionLog is an LRU whose evicted entries are written to a
// Spill instead of being dropped, so that every container put since
// the log was opened stays retrievable until Close.
type TransactionLog struct {
	mu    sync.Mutex
	lru   *LRU
	spill *Spill
	// spilled tracks keys that have a spill file
	spilled map[uint64]bool
	closed  bool
	Metrics *Metrics
}

// NewTransactionLog keeps up to capacity containers in memory and
// spills the rest below dir.
func NewTransactionLog(dir string, capacity int, codec Codec) (t *TransactionLog, err error) {
	spill, err := NewSpill(dir, codec)
	if err != nil {
		return
	}
	t = &TransactionLog{spill: spill, spilled: make(map[uint64]bool)}
	t.lru = NewLRU(capacity, t.evict)
	return t, nil
}

func (t *TransactionLog) evict(key uint64, c *page.Container) error {
	err := t.spill.Put(key, c)
	if err != nil {
		log.Errorf("spill of page %d failed: %v", key, err)
		return &page.IOError{Op: "spill", Key: key, Err: err}
	}
	t.spilled[key] = true
	t.Metrics.evicted()
	t.Metrics.spilled()
	return nil
}

func (t *TransactionLog) Get(key uint64) (c *page.Container, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	Assert(!t.closed, "get on closed transaction log")
	c, err = t.lru.Get(key)
	if c != nil || err != nil {
		t.Metrics.lookup(c != nil)
		return
	}
	if !t.spilled[key] {
		t.Metrics.lookup(false)
		return nil, nil
	}
	c, err = t.spill.Get(key)
	if err != nil {
		return nil, err
	}
	Assert(c != nil, "spill file for page %d vanished", key)
	t.Metrics.lookup(true)
	log.Debugf("page %d reloaded from transaction log", key)
	// bring it back into memory; the spill file stays until the
	// entry is spilled again
	err = t.lru.Put(key, c)
	return
}

func (t *TransactionLog) Put(key uint64, c *page.Container) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	Assert(!t.closed, "put on closed transaction log")
	return t.lru.Put(key, c)
}

// Len returns the number of distinct keys held, in memory or spilled.
func (t *TransactionLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.spilled)
	for _, key := range t.lru.Keys() {
		if !t.spilled[key] {
			n++
		}
	}
	return n
}

func (t *TransactionLog) Clear() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	Assert(!t.closed, "clear on closed transaction log")
	err = t.lru.Clear()
	if err != nil {
		return
	}
	t.spilled = make(map[uint64]bool)
	return t.spill.Clear()
}

// Close drops the in-memory entries and removes the spill directory.
// Closing twice is a no-op.
func (t *TransactionLog) Close() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err = t.lru.Close()
	if err != nil {
		return
	}
	return t.spill.Remove()
}
