package backend

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/t7a/revbase/bytehandler"
	"github.com/t7a/revbase/page"
)

type rec struct {
	key uint64
}

func (r rec) Key() uint64 {
	return r.key
}

type recNodes struct{}

func (recNodes) Encode(r page.Record) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, r.Key()), nil
}

func (recNodes) Decode(buf []byte) (page.Record, error) {
	if len(buf) != 8 {
		return nil, fmt.Errorf("bad record")
	}
	return rec{key: binary.BigEndian.Uint64(buf)}, nil
}

func testCodec(t *testing.T) Codec {
	p, err := bytehandler.FromConfig("snappy", nil, true)
	require.NoError(t, err)
	return Codec{Factory: page.Factory{Nodes: recNodes{}}, Pipeline: p}
}

func nodePage(key uint64) *page.NodePage {
	p := page.NodePage{}.New(key, 2)
	p.Set(3, rec{key: key<<page.NodeBits + 3})
	p.Set(4, page.Deleted{NodeKey: key<<page.NodeBits + 4})
	return p
}

func backends(t *testing.T) map[string]Writer {
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "file"), testCodec(t))
	require.NoError(t, err)
	s, err := OpenSQLite(filepath.Join(dir, "pages.db"), testCodec(t))
	require.NoError(t, err)
	return map[string]Writer{
		"mem":    NewMem(testCodec(t)),
		"file":   f,
		"sqlite": s,
	}
}

func TestBackends(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p, err := b.Read(1)
			require.NoError(t, err)
			require.Nil(t, p)
			u, err := b.ReadUber()
			require.NoError(t, err)
			require.Nil(t, u)

			require.NoError(t, b.Write(1, nodePage(7)))
			ind := page.IndirectPage{}.New()
			ind.Set(5, page.Reference{Key: 1, Revision: 2})
			require.NoError(t, b.Write(1<<40, ind))

			p, err = b.Read(1)
			require.NoError(t, err)
			np := p.(*page.NodePage)
			require.Equal(t, uint64(7), np.PageKey)
			require.Equal(t, rec{key: 7<<page.NodeBits + 3}, np.Get(3))
			require.True(t, page.IsDeleted(np.Get(4)))
			p, err = b.Read(1 << 40)
			require.NoError(t, err)
			require.Equal(t, uint64(1), p.(*page.IndirectPage).Get(5).Key)

			want := page.UberPage{}.New()
			want.Revision = 3
			want.Bootstrap = false
			require.NoError(t, b.WriteUber(want))
			want.Revision = 4
			require.NoError(t, b.WriteUber(want))
			u, err = b.ReadUber()
			require.NoError(t, err)
			require.Equal(t, *want, *u)

			require.NoError(t, b.Close())
			require.NoError(t, b.Close())
			_, err = b.Read(1)
			require.Error(t, err)
		})
	}
}

func TestFileCorrupt(t *testing.T) {
	f, err := OpenFile(t.TempDir(), testCodec(t))
	require.NoError(t, err)
	require.NoError(t, f.Write(9, nodePage(1)))
	path := f.Path(9)
	buf, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	buf[2] ^= 0x55
	require.NoError(t, ioutil.WriteFile(path, buf, 0644))
	_, err = f.Read(9)
	require.True(t, page.IsIOError(err), "%v", err)
	require.True(t, errors.Is(err, page.ErrCorrupt), "%v", err)
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(dir, Codec{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "page", "000", "abc", "0000000000000abc"), f.Path(0xabc))
}

func TestFileWatch(t *testing.T) {
	f, err := OpenFile(t.TempDir(), testCodec(t))
	require.NoError(t, err)
	done := make(chan struct{})
	defer close(done)
	ch, err := f.Watch(done)
	require.NoError(t, err)
	u := page.UberPage{}.New()
	u.Revision = 11
	require.NoError(t, f.WriteUber(u))
	select {
	case got := <-ch:
		require.Equal(t, uint64(11), got.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch event")
	}
}

func TestOpenSpec(t *testing.T) {
	dir := t.TempDir()
	w, err := Open("file:"+filepath.Join(dir, "a"), testCodec(t))
	require.NoError(t, err)
	require.IsType(t, &File{}, w)
	w, err = Open("sqlite:"+filepath.Join(dir, "b.db"), testCodec(t))
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, w)
	require.NoError(t, w.Close())
	w, err = Open(filepath.Join(dir, "c"), testCodec(t))
	require.NoError(t, err)
	require.IsType(t, &File{}, w)
	_, err = Open("tape:/dev/st0", testCodec(t))
	require.Error(t, err)
}

func TestCombinedReader(t *testing.T) {
	primary := NewMem(testCodec(t))
	secondary := NewMem(testCodec(t))
	require.NoError(t, primary.Write(1, nodePage(1)))
	require.NoError(t, secondary.Write(1, nodePage(100)))
	require.NoError(t, secondary.Write(2, nodePage(2)))
	r := CombinedReader{}.New(primary, secondary)

	p, err := r.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.(*page.NodePage).PageKey)
	p, err = r.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), p.(*page.NodePage).PageKey)
	p, err = r.Read(3)
	require.NoError(t, err)
	require.Nil(t, p)
	require.NoError(t, r.Close())
}

// hooked wraps a Writer and lets a test delay or fail calls.
type hooked struct {
	Writer
	beforeRead  func()
	beforeWrite func() error
}

func (h *hooked) Read(key uint64) (page.Page, error) {
	if h.beforeRead != nil {
		h.beforeRead()
	}
	return h.Writer.Read(key)
}

func (h *hooked) Write(key uint64, p page.Page) error {
	if h.beforeWrite != nil {
		if err := h.beforeWrite(); err != nil {
			return err
		}
	}
	return h.Writer.Write(key, p)
}

func TestCombinedWriterReplicates(t *testing.T) {
	primary := NewMem(testCodec(t))
	secondary := NewMem(testCodec(t))
	w := NewCombinedWriter(primary, secondary, time.Second)
	for key := uint64(1); key <= 100; key++ {
		require.NoError(t, w.Write(key, nodePage(key)))
	}
	u := page.UberPage{}.New()
	u.Revision = 1
	require.NoError(t, w.WriteUber(u))
	got, err := w.ReadUber()
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Revision)
	p, err := w.Read(50)
	require.NoError(t, err)
	require.Equal(t, uint64(50), p.(*page.NodePage).PageKey)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Equal(t, 100, secondary.Len())
	require.Panics(t, func() { w.Write(101, nodePage(101)) })
	require.Panics(t, func() { w.WriteUber(u) })
	require.Equal(t, 100, primary.Len())
}

func TestCombinedWriterReadRace(t *testing.T) {
	slow := make(chan struct{})
	primary := &hooked{Writer: NewMem(testCodec(t)), beforeRead: func() { <-slow }}
	secondary := NewMem(testCodec(t))
	require.NoError(t, secondary.Write(1, nodePage(1)))
	w := NewCombinedWriter(primary, secondary, time.Second)

	// the primary is stuck, so the secondary answers
	p, err := w.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.(*page.NodePage).PageKey)
	close(slow)

	// both answer; the primary missing the page is not a hit
	p, err = w.Read(1)
	require.NoError(t, err)
	require.NotNil(t, p)
	p, err = w.Read(2)
	require.NoError(t, err)
	require.Nil(t, p)
	require.NoError(t, w.Close())
}

func TestCombinedWriterPrefersPrimary(t *testing.T) {
	primary := NewMem(testCodec(t))
	release := make(chan struct{})
	secondary := &hooked{Writer: NewMem(testCodec(t)), beforeRead: func() { <-release }}
	require.NoError(t, primary.Write(1, nodePage(1)))
	require.NoError(t, secondary.Write(1, nodePage(99)))
	w := NewCombinedWriter(primary, secondary, time.Second)
	defer w.Close()

	// the secondary only answers once Read has returned
	p, err := w.Read(1)
	close(release)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.(*page.NodePage).PageKey)
}

func TestCombinedWriterReplicaFailure(t *testing.T) {
	var n int32
	secondary := &hooked{Writer: NewMem(testCodec(t)), beforeWrite: func() error {
		if atomic.AddInt32(&n, 1) == 3 {
			return fmt.Errorf("replica disk full")
		}
		return nil
	}}
	primary := NewMem(testCodec(t))
	w := NewCombinedWriter(primary, secondary, time.Second)
	for key := uint64(1); key <= 5; key++ {
		require.NoError(t, w.Write(key, nodePage(key)))
	}
	err := w.Close()
	require.Error(t, err)
	require.True(t, page.IsIOError(err))
	var rerr *ReplicationError
	require.True(t, errors.As(err, &rerr))
	require.Contains(t, err.Error(), "replica disk full")
	require.Equal(t, 5, primary.Len())
	require.Equal(t, err, w.Close())
}

func TestCombinedWriterTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	secondary := &hooked{Writer: NewMem(testCodec(t)), beforeWrite: func() error {
		<-block
		return nil
	}}
	w := NewCombinedWriter(NewMem(testCodec(t)), secondary, 50*time.Millisecond)
	require.NoError(t, w.Write(1, nodePage(1)))
	start := time.Now()
	err := w.Close()
	require.True(t, errors.Is(err, ErrReplicationTimeout), "%v", err)
	require.True(t, page.IsIOError(err))
	require.Less(t, time.Since(start), 5*time.Second)
}
