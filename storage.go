package revbase

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/t7a/revbase/backend"
	"github.com/t7a/revbase/bytehandler"
	"github.com/t7a/revbase/cache"
	"github.com/t7a/revbase/node"
	"github.com/t7a/revbase/page"
	"github.com/t7a/revbase/revisioning"

	. "github.com/stevegt/goadapt"
)

// ErrWriterActive is returned by TryBeginWrite while another write
// transaction is open.
var ErrWriterActive = errors.New("a write transaction is already active")

// ErrNoRevision is returned when a requested revision was never
// committed.
var ErrNoRevision = errors.New("no such revision")

type options struct {
	passphrase string
	registerer prometheus.Registerer
	nodes      page.NodeFactory
	meta       page.MetaEntryFactory
	wrap       func(backend.Writer) backend.Writer
}

// Option adjusts how a storage is opened.  Options are not persisted.
type Option func(*options)

// WithPassphrase supplies the passphrase of an encrypted storage.
func WithPassphrase(passphrase string) Option {
	return func(o *options) {
		o.passphrase = passphrase
	}
}

// WithRegisterer exports cache metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithNodeFactory replaces the default record factory.
func WithNodeFactory(f page.NodeFactory) Option {
	return func(o *options) {
		o.nodes = f
	}
}

// WithMetaEntryFactory replaces the default name page entry factory.
func WithMetaEntryFactory(f page.MetaEntryFactory) Option {
	return func(o *options) {
		o.meta = f
	}
}

// WithWriterWrapper lets the caller interpose on the page writer, for
// instance to instrument it.
func WithWriterWrapper(wrap func(backend.Writer) backend.Writer) Option {
	return func(o *options) {
		o.wrap = wrap
	}
}

// Storage is an open revbase directory.  Any number of read
// transactions and at most one write transaction may be open at once.
type Storage struct {
	Dir      string
	Config   *Config
	codec    backend.Codec
	strategy revisioning.Strategy
	writer   backend.Writer
	writeSem *semaphore.Weighted
	metrics  *cache.Metrics
	opts     options

	mu   sync.RWMutex
	uber *page.UberPage
}

// Open loads an existing storage from dir.
func Open(dir string, opts ...Option) (s *Storage, err error) {
	defer Return(&err)
	dir = filepath.Clean(dir)

	if !canstat(dir) {
		return nil, fmt.Errorf("cannot open: %s", dir)
	}
	conf, err := loadConfig(dir)
	if err != nil {
		return
	}

	s = &Storage{Dir: dir, Config: conf, writeSem: semaphore.NewWeighted(1)}
	s.opts.nodes = node.Factory{}
	for _, opt := range opts {
		opt(&s.opts)
	}

	s.strategy, err = conf.Strategy()
	Ck(err)

	var key []byte
	if conf.Encrypted {
		if s.opts.passphrase == "" {
			return nil, fmt.Errorf("%s is encrypted and no passphrase was given", dir)
		}
		salt, err := hex.DecodeString(conf.Salt)
		Ck(err)
		key = bytehandler.DeriveKey(s.opts.passphrase, salt)
	}
	pipeline, err := bytehandler.FromConfig(conf.Compression, key, conf.Checksum)
	Ck(err)
	s.codec = backend.Codec{
		Factory:  page.Factory{Nodes: s.opts.nodes, Meta: s.opts.meta},
		Pipeline: pipeline,
	}

	s.metrics, err = cache.NewMetrics(s.opts.registerer, filepath.Base(dir))
	Ck(err)

	s.writer, err = s.openWriter()
	Ck(err)

	uber, err := s.writer.ReadUber()
	if err != nil {
		s.writer.Close()
		return nil, err
	}
	if uber == nil {
		uber = page.UberPage{}.New()
	}
	s.uber = uber
	log.Debugf("opened %s at revision %d (bootstrap %v)", dir, uber.Revision, uber.Bootstrap)
	return s, nil
}

// backendSpec resolves a backend name or spec against the storage
// directory.
func (s *Storage) backendSpec(spec string) string {
	kind, arg := spec, ""
	if i := strings.Index(spec, ":"); i > 0 {
		kind, arg = spec[:i], spec[i+1:]
	}
	if arg == "" {
		switch kind {
		case "sqlite":
			arg = "pages.db"
		default:
			arg = "pages"
		}
	}
	if !filepath.IsAbs(arg) {
		arg = filepath.Join(s.Dir, arg)
	}
	return kind + ":" + arg
}

func (s *Storage) openWriter() (w backend.Writer, err error) {
	w, err = backend.Open(s.backendSpec(s.Config.Backend), s.codec)
	if err != nil {
		return
	}
	if s.Config.Replica != "" {
		secondary, err := backend.Open(s.backendSpec(s.Config.Replica), s.codec)
		if err != nil {
			w.Close()
			return nil, err
		}
		w = backend.NewCombinedWriter(w, secondary, s.Config.ReplicaTimeout)
	}
	if s.opts.wrap != nil {
		w = s.opts.wrap(w)
	}
	return
}

// openReader returns a backend reader that shares no state with other
// transactions.
func (s *Storage) openReader() (r backend.Reader, err error) {
	primary, err := backend.Open(s.backendSpec(s.Config.Backend), s.codec)
	if err != nil {
		return
	}
	if s.Config.Replica == "" {
		return primary, nil
	}
	secondary, err := backend.Open(s.backendSpec(s.Config.Replica), s.codec)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return backend.CombinedReader{}.New(primary, secondary), nil
}

func (s *Storage) latest() *page.UberPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uber
}

func (s *Storage) publish(u *page.UberPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uber.Bootstrap || u.Revision > s.uber.Revision {
		s.uber = u
	}
}

// Revisions returns the newest committed revision.  ok is false while
// nothing has been committed.
func (s *Storage) Revisions() (rev uint64, ok bool) {
	u := s.latest()
	return u.Revision, !u.Bootstrap
}

// BeginRead opens a read transaction on revision rev, or on the
// latest revision if rev is negative.
func (s *Storage) BeginRead(rev int64) (t *ReadTrx, err error) {
	u := s.latest()
	if u.Bootstrap {
		return nil, ErrNoRevision
	}
	if rev < 0 {
		rev = int64(u.Revision)
	}
	if uint64(rev) > u.Revision {
		return nil, errors.Wrapf(ErrNoRevision, "revision %d, latest is %d", rev, u.Revision)
	}
	r, err := s.openReader()
	if err != nil {
		return
	}
	root, err := revisionRoot(r, u, uint64(rev))
	if err != nil {
		r.Close()
		return
	}
	names, err := readNames(r, root.Names)
	if err != nil {
		r.Close()
		return
	}
	lru := cache.NewLRU(s.Config.CacheSize, nil)
	lru.Metrics = s.metrics
	t = &ReadTrx{
		s:     s,
		root:  root,
		names: names,
		pages: &pageReader{r: r, strategy: s.strategy, cache: lru},
	}
	log.Debugf("begin read at revision %d", rev)
	return
}

// BeginWrite opens the write transaction, waiting until any other
// write transaction is finished or ctx is done.
func (s *Storage) BeginWrite(ctx context.Context) (t *WriteTrx, err error) {
	err = s.writeSem.Acquire(ctx, 1)
	if err != nil {
		return
	}
	return s.beginWrite()
}

// TryBeginWrite opens the write transaction or fails with
// ErrWriterActive.
func (s *Storage) TryBeginWrite() (t *WriteTrx, err error) {
	if !s.writeSem.TryAcquire(1) {
		return nil, ErrWriterActive
	}
	return s.beginWrite()
}

func (s *Storage) beginWrite() (t *WriteTrx, err error) {
	t = &WriteTrx{s: s}
	err = t.setup(s.latest())
	if err != nil {
		s.writeSem.Release(1)
		return nil, err
	}
	return
}

// Close closes the page backend.  Open transactions must be closed
// first.
func (s *Storage) Close() error {
	return s.writer.Close()
}

// Watch reports revisions committed to the storage directory by any
// process, until done is closed.  Only file backends can be watched.
func (s *Storage) Watch(done <-chan struct{}) (out <-chan uint64, err error) {
	spec := s.backendSpec(s.Config.Backend)
	if !strings.HasPrefix(spec, "file:") {
		return nil, fmt.Errorf("cannot watch %s", spec)
	}
	f, err := backend.OpenFile(strings.TrimPrefix(spec, "file:"), s.codec)
	if err != nil {
		return
	}
	ubers, err := f.Watch(done)
	if err != nil {
		f.Close()
		return
	}
	ch := make(chan uint64)
	go func() {
		defer close(ch)
		defer f.Close()
		for u := range ubers {
			s.publish(u)
			select {
			case ch <- u.Revision:
			case <-done:
				return
			}
		}
	}()
	return ch, nil
}
