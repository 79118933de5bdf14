package page

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Factory bundles the seams needed to turn pages into bytes and back.
// Nodes must be set before node pages are encoded or decoded; Meta
// defaults to NameEntries.
type Factory struct {
	Nodes NodeFactory
	Meta  MetaEntryFactory
}

func (f Factory) meta() MetaEntryFactory {
	if f.Meta == nil {
		return NameEntries{}
	}
	return f.Meta
}

// Serialize encodes p into its byte-stable layout: the kind tag
// followed by the page fields.
func (f Factory) Serialize(p Page) (buf []byte, err error) {
	e := &encoder{}
	e.u8(byte(p.Kind()))
	err = p.encode(f, e)
	if err != nil {
		return nil, &IOError{Op: "serialize " + p.Kind().String(), Err: err}
	}
	return e.buf, nil
}

// Deserialize dispatches on the leading kind tag and decodes the page.
func (f Factory) Deserialize(buf []byte) (p Page, err error) {
	if len(buf) == 0 {
		return nil, &IOError{Op: "deserialize", Err: errors.Wrap(ErrCorrupt, "empty buffer")}
	}
	d := &decoder{buf: buf[1:]}
	kind := Kind(buf[0])
	switch kind {
	case KindIndirect:
		p = decodeIndirect(d)
	case KindRevisionRoot:
		p = decodeRevisionRoot(d)
	case KindNode:
		p = decodeNode(f, d)
	case KindName:
		p = decodeName(f, d)
	case KindUber:
		p = decodeUber(d)
	default:
		return nil, &IOError{Op: "deserialize", Err: errors.Wrapf(ErrCorrupt, "unknown page kind %d", buf[0])}
	}
	if d.err == nil && len(d.buf) != 0 {
		d.fail("%d trailing bytes", len(d.buf))
	}
	if d.err != nil {
		return nil, &IOError{Op: "deserialize " + kind.String(), Err: d.err}
	}
	return p, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *encoder) bytes(v []byte) {
	e.u32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) ref(r Reference) {
	if !r.Present() {
		e.u8(0)
	} else {
		e.u8(1)
	}
	e.u64(r.Key)
	e.u64(r.Revision)
}

// decoder reads fields off the front of buf.  The first short read
// sets err; later reads return zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = errors.Wrapf(ErrCorrupt, format, args...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.fail("need %d bytes, have %d", n, len(d.buf))
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) ref() (r Reference) {
	present := d.u8()
	r.Key = d.u64()
	r.Revision = d.u64()
	switch present {
	case 0:
		if r.Key != 0 {
			d.fail("absent reference with key %d", r.Key)
		}
	case 1:
		if r.Key == 0 {
			d.fail("present reference without key")
		}
	default:
		d.fail("bad reference flag %d", present)
	}
	return
}
