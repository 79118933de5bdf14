package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// DefaultReplicaTimeout bounds how long CombinedWriter.Close waits for
// pending replica writes.
const DefaultReplicaTimeout = 30 * time.Second

// replicaQueue is the number of replica writes that may be pending
// before Write blocks.
const replicaQueue = 1024

// ErrReplicationTimeout is the cause reported when pending replica
// writes do not drain in time.
var ErrReplicationTimeout = errors.New("replication did not drain in time")

// ReplicationError reports a failed background write to a secondary
// backend.
type ReplicationError struct {
	Err error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication: %v", e.Err)
}

func (e *ReplicationError) Unwrap() error {
	return e.Err
}

func (e *ReplicationError) Cause() error {
	return e.Err
}

// CombinedReader reads from Primary and falls back to Secondary when
// Primary has nothing under the key.
type CombinedReader struct {
	Primary   Reader
	Secondary Reader
}

func (r CombinedReader) New(primary, secondary Reader) *CombinedReader {
	r.Primary = primary
	r.Secondary = secondary
	return &r
}

func (r *CombinedReader) Read(key uint64) (p page.Page, err error) {
	p, err = r.Primary.Read(key)
	if err != nil || p != nil {
		return
	}
	log.Debugf("page %d missing from primary, trying secondary", key)
	return r.Secondary.Read(key)
}

func (r *CombinedReader) ReadUber() (u *page.UberPage, err error) {
	u, err = r.Primary.ReadUber()
	if err != nil || u != nil {
		return
	}
	return r.Secondary.ReadUber()
}

func (r *CombinedReader) Close() error {
	err1 := r.Primary.Close()
	err2 := r.Secondary.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// CombinedWriter writes to Primary synchronously and replicates every
// write to Secondary in the background, in order.
type CombinedWriter struct {
	Primary   Writer
	Secondary Writer
	timeout   time.Duration
	tasks     chan func() error
	group     *errgroup.Group
	mu        sync.Mutex
	closed    bool
	closeErr  error
}

// NewCombinedWriter starts the replication worker.  A non-positive
// timeout means DefaultReplicaTimeout.
func NewCombinedWriter(primary, secondary Writer, timeout time.Duration) *CombinedWriter {
	if timeout <= 0 {
		timeout = DefaultReplicaTimeout
	}
	w := &CombinedWriter{
		Primary:   primary,
		Secondary: secondary,
		timeout:   timeout,
		tasks:     make(chan func() error, replicaQueue),
		group:     &errgroup.Group{},
	}
	w.group.Go(w.replicate)
	return w
}

// replicate runs queued secondary writes.  After the first failure the
// remaining writes are dropped, since the replica no longer matches.
func (w *CombinedWriter) replicate() (err error) {
	for task := range w.tasks {
		if err != nil {
			continue
		}
		err = task()
		if err != nil {
			log.Errorf("replica write failed: %v", err)
		}
	}
	return
}

func (w *CombinedWriter) enqueue(task func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	Assert(!w.closed, "write on closed combined writer")
	w.tasks <- task
}

func (w *CombinedWriter) check() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	Assert(!closed, "write on closed combined writer")
}

func (w *CombinedWriter) Write(key uint64, p page.Page) error {
	w.check()
	err := w.Primary.Write(key, p)
	if err != nil {
		return err
	}
	w.enqueue(func() error {
		return w.Secondary.Write(key, p)
	})
	return nil
}

func (w *CombinedWriter) WriteUber(u *page.UberPage) error {
	w.check()
	err := w.Primary.WriteUber(u)
	if err != nil {
		return err
	}
	c := *u
	w.enqueue(func() error {
		return w.Secondary.WriteUber(&c)
	})
	return nil
}

type readResult struct {
	p       page.Page
	err     error
	primary bool
}

func (r readResult) hit() bool {
	return r.err == nil && r.p != nil
}

// Read asks both backends at once and returns the first hit, taking
// the primary's answer when both are already in.  When neither has the
// page the primary's answer is returned.
func (w *CombinedWriter) Read(key uint64) (page.Page, error) {
	ch := make(chan readResult, 2)
	go func() {
		p, err := w.Primary.Read(key)
		ch <- readResult{p: p, err: err, primary: true}
	}()
	go func() {
		p, err := w.Secondary.Read(key)
		ch <- readResult{p: p, err: err}
	}()

	first := <-ch
	if first.hit() {
		if !first.primary {
			select {
			case second := <-ch:
				if second.hit() {
					return second.p, nil
				}
			default:
			}
		}
		return first.p, nil
	}
	second := <-ch
	if second.hit() {
		return second.p, nil
	}
	if first.primary {
		return first.p, first.err
	}
	return second.p, second.err
}

// ReadUber reads the primary's uber page.  The secondary may lag
// behind, so it is only consulted when the primary fails.
func (w *CombinedWriter) ReadUber() (u *page.UberPage, err error) {
	u, err = w.Primary.ReadUber()
	if err == nil {
		return
	}
	log.Debugf("primary uber read failed, trying secondary: %v", err)
	u2, err2 := w.Secondary.ReadUber()
	if err2 != nil || u2 == nil {
		return nil, err
	}
	return u2, nil
}

// Close waits for pending replica writes, then closes both backends.
// A replica failure or a drain timeout is returned as an IOError
// wrapping a ReplicationError.  Later calls return the same result.
func (w *CombinedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	close(w.tasks)

	drained := make(chan error, 1)
	go func() {
		drained <- w.group.Wait()
	}()
	var repErr error
	select {
	case err := <-drained:
		if err != nil {
			repErr = &ReplicationError{Err: err}
		}
	case <-time.After(w.timeout):
		repErr = &ReplicationError{Err: ErrReplicationTimeout}
	}

	err1 := w.Primary.Close()
	err2 := w.Secondary.Close()
	switch {
	case repErr != nil:
		w.closeErr = &page.IOError{Op: "close combined writer", Err: repErr}
	case err1 != nil:
		w.closeErr = err1
	default:
		w.closeErr = err2
	}
	return w.closeErr
}
