package revbase

import (
	"fmt"
	"io"

	"github.com/restic/chunker"

	"github.com/t7a/revbase/node"
)

// Chunker lightly wraps restic's chunker on the slight chance that we
// might need to replace it someday.
type Chunker struct {
	Poly    chunker.Pol
	MinSize uint
	MaxSize uint
	c       *chunker.Chunker
}

// Init fills in defaults.  A zero Poly gets a random polynomial.
func (c Chunker) Init() (res *Chunker, err error) {
	if c.MinSize == 0 {
		c.MinSize = defMinChunk
	}
	if c.MaxSize == 0 {
		c.MaxSize = defMaxChunk
	}
	if c.Poly == 0 {
		c.Poly, err = chunker.RandomPolynomial()
	}
	return &c, err
}

func (c *Chunker) Start(rd io.Reader) {
	c.c = chunker.NewWithBoundaries(rd, c.Poly, c.MinSize, c.MaxSize)
}

// Next returns the next chunk, or io.EOF after the last one.  The
// returned slice is only valid until the next call.
func (c *Chunker) Next(buf []byte) (data []byte, err error) {
	// restic hands the chunk back in Chunk.Data, which aliases buf
	chunk, err := c.c.Next(buf)
	if err != nil {
		return
	}
	return chunk.Data, nil
}

// chunker returns a Chunker set up the way the storage is configured.
func (s *Storage) chunker() (*Chunker, error) {
	return Chunker{
		Poly:    s.Config.Poly,
		MinSize: s.Config.MinChunk,
		MaxSize: s.Config.MaxChunk,
	}.Init()
}

// PutStream stores everything read from rd as a chain of byte nodes
// and returns the key of the first one.  An empty stream is stored as
// a single empty node.
func (t *WriteTrx) PutStream(rd io.Reader) (first uint64, err error) {
	t.check()
	c, err := t.s.chunker()
	if err != nil {
		return
	}
	c.Start(rd)
	buf := make([]byte, c.MaxSize)
	var prev *node.Bytes
	for {
		data, err := c.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		key := t.NextNodeKey()
		if prev == nil {
			first = key
		} else {
			prev.Next = key
			err = t.Set(*prev)
			if err != nil {
				return 0, err
			}
		}
		prev = &node.Bytes{NodeKey: key, Data: append([]byte(nil), data...)}
	}
	if prev == nil {
		first = t.NextNodeKey()
		prev = &node.Bytes{NodeKey: first}
	}
	err = t.Set(*prev)
	return
}

// Stream reads a chain of byte nodes.
type Stream struct {
	r    node.Reader
	next uint64
	buf  []byte
	done bool
}

// OpenStream returns a reader over the byte nodes starting at key.
func OpenStream(r node.Reader, key uint64) *Stream {
	return &Stream{r: r, next: key}
}

func (s *Stream) Read(p []byte) (n int, err error) {
	for len(s.buf) == 0 {
		if s.done {
			return 0, io.EOF
		}
		rec, err := s.r.Get(s.next)
		if err != nil {
			return 0, err
		}
		b, ok := rec.(node.Bytes)
		if !ok {
			return 0, fmt.Errorf("node %d is not a byte node: %T", s.next, rec)
		}
		s.buf = b.Data
		s.next = b.Next
		s.done = b.Next == 0
	}
	n = copy(p, s.buf)
	s.buf = s.buf[n:]
	return
}
