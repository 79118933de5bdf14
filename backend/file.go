package backend

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

const uberName = "uber"

// File stores each page in its own write-once file below Dir/page.
// Page files are nested two levels deep using three hex digits per
// level, giving at most 4096 subdirs per parent.  The uber page lives
// in Dir/uber and is replaced with an atomic rename.
type File struct {
	Dir    string
	codec  Codec
	mu     sync.Mutex
	closed bool
}

// OpenFile opens or initializes a file backend rooted at dir.
func OpenFile(dir string, codec Codec) (f *File, err error) {
	dir = filepath.Clean(dir)
	err = os.MkdirAll(filepath.Join(dir, "page"), 0755)
	if err != nil {
		return nil, &page.IOError{Op: "open file backend", Err: err}
	}
	return &File{Dir: dir, codec: codec.Clone()}, nil
}

// Path returns the file that holds the page stored under key.
func (f *File) Path(key uint64) string {
	name := fmt.Sprintf("%016x", key)
	return filepath.Join(f.Dir, "page", name[10:13], name[13:16], name)
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *File) read(op string, key uint64, path string) (buf []byte, err error) {
	if f.isClosed() {
		return nil, &page.IOError{Op: op, Key: key, Err: ErrClosed}
	}
	buf, err = ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &page.IOError{Op: op, Key: key, Err: err}
	}
	return
}

func (f *File) Read(key uint64) (p page.Page, err error) {
	buf, err := f.read("read", key, f.Path(key))
	if buf == nil || err != nil {
		return
	}
	p, err = f.codec.Decode(buf)
	if err != nil {
		return nil, &page.IOError{Op: "read", Key: key, Err: err}
	}
	return
}

func (f *File) ReadUber() (u *page.UberPage, err error) {
	buf, err := f.read("read uber", 0, filepath.Join(f.Dir, uberName))
	if buf == nil || err != nil {
		return
	}
	return decodeUber(f.codec, buf)
}

func (f *File) write(op string, key uint64, path string, p page.Page) (err error) {
	defer func() {
		if err != nil {
			err = &page.IOError{Op: op, Key: key, Err: err}
		}
	}()
	defer Return(&err)
	if f.isClosed() {
		return ErrClosed
	}
	buf, err := f.codec.Encode(p)
	Ck(err)
	err = os.MkdirAll(filepath.Dir(path), 0755)
	Ck(err)
	err = renameio.WriteFile(path, buf, 0644)
	Ck(err)
	log.Debugf("wrote %v page %d to %s (%d bytes)", p.Kind(), key, path, len(buf))
	return
}

func (f *File) Write(key uint64, p page.Page) error {
	return f.write("write", key, f.Path(key), p)
}

// WriteUber swaps in a new uber page.  Readers see either the old or
// the new file, never a partial one.
func (f *File) WriteUber(u *page.UberPage) error {
	return f.write("write uber", 0, filepath.Join(f.Dir, uberName), u)
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Watch sends the new uber page each time another writer replaces it.
// The channel is closed when done is closed or the watcher fails.
func (f *File) Watch(done <-chan struct{}) (out <-chan *page.UberPage, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &page.IOError{Op: "watch", Err: err}
	}
	err = watcher.Add(f.Dir)
	if err != nil {
		watcher.Close()
		return nil, &page.IOError{Op: "watch", Err: err}
	}
	ch := make(chan *page.UberPage)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != uberName {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				u, err := f.ReadUber()
				if err != nil || u == nil {
					log.Debugf("watch: reading uber after %v: %v", event, err)
					continue
				}
				select {
				case ch <- u:
				case <-done:
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watch %s: %v", f.Dir, err)
				return
			}
		}
	}()
	return ch, nil
}
