// Package backend stores serialized pages by storage key and holds the
// uber page.  Pages are immutable once written and keys are never
// reused, so any copy of a page found under a key is a valid one.
package backend

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/t7a/revbase/bytehandler"
	"github.com/t7a/revbase/page"
)

// Reader reads pages.  Read and ReadUber return nil, nil when nothing
// is stored.  Close is idempotent.
type Reader interface {
	Read(key uint64) (page.Page, error)
	ReadUber() (*page.UberPage, error)
	Close() error
}

// Writer writes pages.  WriteUber replaces the uber page atomically.
type Writer interface {
	Reader
	Write(key uint64, p page.Page) error
	WriteUber(u *page.UberPage) error
}

// ErrClosed is the cause of I/O on a closed backend.
var ErrClosed = errors.New("backend closed")

// Codec turns pages into stored bytes: page serialization followed by
// the byte pipeline.
type Codec struct {
	Factory  page.Factory
	Pipeline bytehandler.Handler
}

func (c Codec) Encode(p page.Page) (buf []byte, err error) {
	buf, err = c.Factory.Serialize(p)
	if err != nil || c.Pipeline == nil {
		return
	}
	return c.Pipeline.Serialize(buf)
}

func (c Codec) Decode(buf []byte) (p page.Page, err error) {
	if c.Pipeline != nil {
		buf, err = c.Pipeline.Deserialize(buf)
		if err != nil {
			return
		}
	}
	return c.Factory.Deserialize(buf)
}

// Clone returns a codec whose pipeline shares no state with c.
func (c Codec) Clone() Codec {
	if c.Pipeline != nil {
		c.Pipeline = c.Pipeline.Clone()
	}
	return c
}

func decodeUber(c Codec, buf []byte) (*page.UberPage, error) {
	p, err := c.Decode(buf)
	if err != nil {
		return nil, err
	}
	u, ok := p.(*page.UberPage)
	if !ok {
		return nil, &page.IOError{Op: "read uber", Err: errors.Wrapf(page.ErrCorrupt, "found %v page", p.Kind())}
	}
	return u, nil
}

// Open opens the backend described by spec, either "file:<dir>" or
// "sqlite:<path>".  A bare path means a file backend.
func Open(spec string, codec Codec) (w Writer, err error) {
	kind, arg := "file", spec
	if i := strings.Index(spec, ":"); i > 0 {
		kind, arg = spec[:i], spec[i+1:]
	}
	switch kind {
	case "file":
		return OpenFile(arg, codec)
	case "sqlite":
		return OpenSQLite(arg, codec)
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}
