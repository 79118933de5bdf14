// Package node defines the records revbase stores for tree-shaped
// documents and byte streams, and the msgpack factory that encodes
// them into node page slots.
//
// Records refer to each other by node key.  Key 0 is always the
// document root, so 0 doubles as "none" in parent, child and sibling
// fields.
package node

import (
	"fmt"

	"github.com/vmihailenco/msgpack"

	"github.com/t7a/revbase/page"
)

// Kind is the leading tag byte of an encoded record.
type Kind byte

const (
	KindDocument Kind = iota + 1
	KindElement
	KindText
	KindBytes
)

// RootKey is the node key of the document root.
const RootKey uint64 = 0

// Attr is an attribute carried inline by its element.
type Attr struct {
	Name  int32  `msgpack:"n"`
	Value string `msgpack:"v"`
}

// Document is the root of the node tree.
type Document struct {
	NodeKey    uint64 `msgpack:"k"`
	FirstChild uint64 `msgpack:"f"`
	LastChild  uint64 `msgpack:"l"`
	ChildCount uint64 `msgpack:"c"`
}

func (d Document) Key() uint64 {
	return d.NodeKey
}

// Element is an inner node with an interned name.
type Element struct {
	NodeKey      uint64 `msgpack:"k"`
	Parent       uint64 `msgpack:"p"`
	LeftSibling  uint64 `msgpack:"ls"`
	RightSibling uint64 `msgpack:"rs"`
	FirstChild   uint64 `msgpack:"f"`
	LastChild    uint64 `msgpack:"l"`
	ChildCount   uint64 `msgpack:"c"`
	Name         int32  `msgpack:"n"`
	Attrs        []Attr `msgpack:"a,omitempty"`
}

func (e Element) Key() uint64 {
	return e.NodeKey
}

// Text is a leaf holding character data.
type Text struct {
	NodeKey      uint64 `msgpack:"k"`
	Parent       uint64 `msgpack:"p"`
	LeftSibling  uint64 `msgpack:"ls"`
	RightSibling uint64 `msgpack:"rs"`
	Value        []byte `msgpack:"v"`
}

func (t Text) Key() uint64 {
	return t.NodeKey
}

// Bytes is one chunk of a byte stream.  Next is the key of the
// following chunk, or 0 at the end of the stream.
type Bytes struct {
	NodeKey uint64 `msgpack:"k"`
	Next    uint64 `msgpack:"x"`
	Data    []byte `msgpack:"d"`
}

func (b Bytes) Key() uint64 {
	return b.NodeKey
}

// Factory is the page.NodeFactory for this package's records.
type Factory struct{}

func (Factory) Encode(r page.Record) (buf []byte, err error) {
	var kind Kind
	switch r.(type) {
	case Document:
		kind = KindDocument
	case Element:
		kind = KindElement
	case Text:
		kind = KindText
	case Bytes:
		kind = KindBytes
	default:
		return nil, fmt.Errorf("cannot encode record %T", r)
	}
	body, err := msgpack.Marshal(r)
	if err != nil {
		return
	}
	return append([]byte{byte(kind)}, body...), nil
}

func (Factory) Decode(buf []byte) (r page.Record, err error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty record")
	}
	body := buf[1:]
	switch Kind(buf[0]) {
	case KindDocument:
		var d Document
		err = msgpack.Unmarshal(body, &d)
		r = d
	case KindElement:
		var e Element
		err = msgpack.Unmarshal(body, &e)
		r = e
	case KindText:
		var t Text
		err = msgpack.Unmarshal(body, &t)
		r = t
	case KindBytes:
		var b Bytes
		err = msgpack.Unmarshal(body, &b)
		r = b
	default:
		return nil, fmt.Errorf("unknown record kind %d", buf[0])
	}
	if err != nil {
		return nil, err
	}
	return
}
