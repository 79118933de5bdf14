// Package bytehandler holds the reversible byte transforms that sit
// between serialized pages and a storage backend.
package bytehandler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"
)

// Handler is one reversible byte transform.  Deserialize(Serialize(b))
// must return b.  Clone returns a handler that shares no mutable state
// with the receiver.
type Handler interface {
	Serialize(buf []byte) ([]byte, error)
	Deserialize(buf []byte) ([]byte, error)
	Clone() Handler
}

// Pipeline applies its handlers in order on Serialize and in reverse
// order on Deserialize.  A Pipeline is itself a Handler.
type Pipeline struct {
	handlers []Handler
}

func (p Pipeline) New(handlers ...Handler) *Pipeline {
	p.handlers = append([]Handler{}, handlers...)
	return &p
}

func (p *Pipeline) Serialize(buf []byte) (out []byte, err error) {
	out = buf
	for _, h := range p.handlers {
		out, err = h.Serialize(out)
		if err != nil {
			return nil, &page.IOError{Op: fmt.Sprintf("serialize %T", h), Err: err}
		}
	}
	return
}

func (p *Pipeline) Deserialize(buf []byte) (out []byte, err error) {
	out = buf
	for i := len(p.handlers) - 1; i >= 0; i-- {
		h := p.handlers[i]
		out, err = h.Deserialize(out)
		if err != nil {
			log.Debugf("deserialize %T: %v", h, err)
			return nil, &page.IOError{Op: fmt.Sprintf("deserialize %T", h), Err: errors.Wrap(page.ErrCorrupt, err.Error())}
		}
	}
	return
}

func (p *Pipeline) Clone() Handler {
	c := &Pipeline{handlers: make([]Handler, len(p.handlers))}
	for i, h := range p.handlers {
		c.handlers[i] = h.Clone()
	}
	return c
}

func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// FromConfig builds a pipeline: compression (none, snappy, zstd or
// xz), then encryption if key is non-nil, then a checksum if sum is
// set.
func FromConfig(compression string, key []byte, sum bool) (p *Pipeline, err error) {
	var handlers []Handler
	switch strings.ToLower(compression) {
	case "", "none":
	case "snappy":
		handlers = append(handlers, Snappy{})
	case "zstd":
		handlers = append(handlers, Zstd{}.New())
	case "xz":
		handlers = append(handlers, XZ{})
	default:
		return nil, errors.Errorf("unknown compression %q", compression)
	}
	if key != nil {
		var enc *Encryptor
		enc, err = Encryptor{}.New(key)
		if err != nil {
			return
		}
		handlers = append(handlers, enc)
	}
	if sum {
		handlers = append(handlers, Checksum{})
	}
	return Pipeline{}.New(handlers...), nil
}
