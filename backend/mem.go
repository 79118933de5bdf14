package backend

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"
)

// Mem keeps encoded pages in memory.
type Mem struct {
	mu     sync.RWMutex
	codec  Codec
	pages  map[uint64][]byte
	uber   []byte
	closed bool
}

func NewMem(codec Codec) *Mem {
	return &Mem{codec: codec.Clone(), pages: make(map[uint64][]byte)}
}

func (m *Mem) Read(key uint64) (p page.Page, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, &page.IOError{Op: "read", Key: key, Err: ErrClosed}
	}
	buf, ok := m.pages[key]
	if !ok {
		return nil, nil
	}
	return m.codec.Decode(buf)
}

func (m *Mem) ReadUber() (*page.UberPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, &page.IOError{Op: "read uber", Err: ErrClosed}
	}
	if m.uber == nil {
		return nil, nil
	}
	return decodeUber(m.codec, m.uber)
}

func (m *Mem) Write(key uint64, p page.Page) error {
	buf, err := m.codec.Encode(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &page.IOError{Op: "write", Key: key, Err: ErrClosed}
	}
	log.Debugf("mem write %v page %d (%d bytes)", p.Kind(), key, len(buf))
	m.pages[key] = buf
	return nil
}

func (m *Mem) WriteUber(u *page.UberPage) error {
	buf, err := m.codec.Encode(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &page.IOError{Op: "write uber", Err: ErrClosed}
	}
	m.uber = buf
	return nil
}

// Len returns the number of stored pages, not counting the uber page.
func (m *Mem) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
