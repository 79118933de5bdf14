// Package page holds the persistent page hierarchy of a revbase
// storage: node pages carrying records, indirect pages routing to
// them, one revision root page per committed revision, the name page,
// and the uber page that anchors everything.
//
// Every page serializes to a byte-stable layout that starts with a
// one-byte kind tag.  Records and meta entries are opaque to this
// package; they are encoded and decoded through the NodeFactory and
// MetaEntryFactory seams carried by a Factory.
package page

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// NodeBits is the number of low node-key bits that select a slot
	// inside a node page.
	NodeBits = 7
	// NodesPerPage is the number of record slots in a node page.
	NodesPerPage = 1 << NodeBits

	// IndirectBits is the number of key bits consumed per indirect level.
	IndirectBits = 7
	// IndirectFanout is the number of references in an indirect page.
	IndirectFanout = 1 << IndirectBits
	// IndirectLevels is the height of the node and revision trees.
	IndirectLevels = 4
)

// Kind tags each serialized page.  The set is closed.
type Kind byte

const (
	KindIndirect Kind = iota + 1
	KindRevisionRoot
	KindNode
	KindName
	KindUber
)

func (k Kind) String() string {
	switch k {
	case KindIndirect:
		return "indirect"
	case KindRevisionRoot:
		return "revisionroot"
	case KindNode:
		return "node"
	case KindName:
		return "name"
	case KindUber:
		return "uber"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Page is implemented by the five page kinds of this package only.
type Page interface {
	Kind() Kind
	encode(f Factory, b *encoder) error
}

// Reference points from one page to another.  A zero Key means the
// reference is absent; storage keys handed out by a storage start at 1.
type Reference struct {
	Key      uint64 // storage key of the target page
	Revision uint64 // revision of the target page
}

// Present reports whether the reference points at a page.
func (r Reference) Present() bool {
	return r.Key != 0
}

func (r Reference) String() string {
	if !r.Present() {
		return "ref(-)"
	}
	return fmt.Sprintf("ref(%d@%d)", r.Key, r.Revision)
}

// IOError reports a failure to read, write, encode or decode a page.
// Key is the storage (or page) key involved, if any.
type IOError struct {
	Op  string
	Key uint64
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause see through an IOError.
func (e *IOError) Cause() error {
	return e.Err
}

// ErrCorrupt is the cause of every IOError raised for malformed bytes.
var ErrCorrupt = errors.New("corrupt page data")

// IsIOError reports whether err is, or wraps, an *IOError.
func IsIOError(err error) bool {
	var ioerr *IOError
	return errors.As(err, &ioerr)
}
