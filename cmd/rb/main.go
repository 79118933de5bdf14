package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	rb "github.com/t7a/revbase"
	"github.com/t7a/revbase/diff"
	"github.com/t7a/revbase/node"
	"github.com/t7a/revbase/shred"
)

func init() {
	// commit chatter goes to stderr; keep it out of normal output
	if os.Getenv("DEBUG") != "1" {
		log.SetLevel(log.WarnLevel)
	}
}

type Opts struct {
	Init        bool
	Shred       bool
	Cat         bool
	Revs        bool
	Putstream   bool
	Getstream   bool
	Diff        bool
	Info        bool
	Revisioning string `docopt:"--revisioning"`
	Compress    string `docopt:"--compress"`
	Backend     string `docopt:"--backend"`
	Checksum    bool   `docopt:"--checksum"`
	Encrypt     bool   `docopt:"--encrypt"`
	File        string `docopt:"<file>"`
	Rev         string `docopt:"<rev>"`
	Key         string `docopt:"<key>"`
	Old         string `docopt:"<old>"`
	New         string `docopt:"<new>"`
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {

	usage := `revbase

Usage:
  rb init [--revisioning=<kind>] [--compress=<algo>] [--backend=<name>] [--checksum] [--encrypt]
  rb shred <file>
  rb cat [<rev>]
  rb revs
  rb putstream
  rb getstream <key> [<rev>]
  rb diff <old> <new>
  rb info

Options:
  -h --help             Show this screen.
  --version             Show version.
  --revisioning=<kind>  fulldump, incremental, differential or slidingsnapshot.
  --compress=<algo>     none, snappy, zstd or xz.
  --backend=<name>      file or sqlite.
  --checksum            Append a checksum to every page.
  --encrypt             Encrypt pages with the passphrase in RBPASS.

The storage lives in RBDIR, or in the current directory.
`
	parser := &docopt.Parser{OptionsFirst: false}
	o, _ := parser.ParseArgs(usage, os.Args[1:], "0.0")
	var opts Opts
	err := o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	switch true {
	case opts.Init:
		err = create(opts)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println("Initialized empty revbase storage")
	case opts.Shred:
		rev, n, err := shredFile(opts.File)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("revision %d: %d records\n", rev, n)
	case opts.Cat:
		err = cat(opts.Rev)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Revs:
		err = revs()
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Putstream:
		key, rev, err := putStream(os.Stdin)
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("stream %d in revision %d\n", key, rev)
	case opts.Getstream:
		err = getStream(opts.Key, opts.Rev)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Diff:
		err = diffRevs(opts.Old, opts.New)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Info:
		err = info()
		if err != nil {
			log.Error(err)
			return 42
		}
	}
	return 0
}

func rbdir() (dir string) {
	dir = os.Getenv("RBDIR")
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			// XXX handling this better would mean that rbdir() needs
			// to return an err
			panic("can't get current directory")
		}
	}
	return
}

func options() []rb.Option {
	return []rb.Option{rb.WithPassphrase(os.Getenv("RBPASS"))}
}

func create(opts Opts) (err error) {
	conf := rb.Config{
		Dir:         rbdir(),
		Revisioning: opts.Revisioning,
		Compression: opts.Compress,
		Backend:     opts.Backend,
		Checksum:    opts.Checksum,
		Encrypted:   opts.Encrypt,
	}
	s, err := conf.Create(options()...)
	if err != nil {
		return
	}
	return s.Close()
}

func open() (s *rb.Storage, err error) {
	return rb.Open(rbdir(), options()...)
}

// parseRev turns an optional revision argument into what BeginRead
// takes.
func parseRev(arg string) (rev int64, err error) {
	if arg == "" {
		return -1, nil
	}
	return strconv.ParseInt(arg, 10, 64)
}

func reader(s *rb.Storage, arg string) (rt *rb.ReadTrx, err error) {
	rev, err := parseRev(arg)
	if err != nil {
		return
	}
	return s.BeginRead(rev)
}

// shredFile replaces the stored document with the XML in fn.
func shredFile(fn string) (rev uint64, n int, err error) {
	fh, err := os.Open(fn)
	if err != nil {
		return
	}
	defer fh.Close()
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	wt, err := s.TryBeginWrite()
	if err != nil {
		return
	}
	defer wt.Close()

	old, err := wt.Get(node.RootKey)
	if err != nil {
		return
	}
	if old != nil {
		kids, err := node.Tree{}.New(wt).Children(node.RootKey)
		if err != nil {
			return 0, 0, err
		}
		for _, kid := range kids {
			err = node.Remove(wt, kid)
			if err != nil {
				return 0, 0, err
			}
		}
	}
	n, err = shred.Import(wt, fh)
	if err != nil {
		return
	}
	rev, err = wt.Commit()
	return
}

func cat(arg string) (err error) {
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	rt, err := reader(s, arg)
	if err != nil {
		return
	}
	defer rt.Close()
	err = shred.Export(rt, os.Stdout)
	if err != nil {
		return
	}
	fmt.Println()
	return
}

func revs() (err error) {
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	latest, ok := s.Revisions()
	if !ok {
		return
	}
	for rev := uint64(0); rev <= latest; rev++ {
		rt, err := s.BeginRead(int64(rev))
		if err != nil {
			return err
		}
		fmt.Printf("revision %d: %d nodes\n", rev, rt.NodeCount())
		rt.Close()
	}
	return
}

func putStream(rd io.Reader) (key, rev uint64, err error) {
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	wt, err := s.BeginWrite(context.Background())
	if err != nil {
		return
	}
	defer wt.Close()
	key, err = wt.PutStream(rd)
	if err != nil {
		return
	}
	rev, err = wt.Commit()
	return
}

func getStream(keyArg, revArg string) (err error) {
	key, err := strconv.ParseUint(keyArg, 10, 64)
	if err != nil {
		return
	}
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	rt, err := reader(s, revArg)
	if err != nil {
		return
	}
	defer rt.Close()
	_, err = io.Copy(os.Stdout, rb.OpenStream(rt, key))
	return
}

func diffRevs(oldArg, newArg string) (err error) {
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	from, err := reader(s, oldArg)
	if err != nil {
		return
	}
	defer from.Close()
	to, err := reader(s, newArg)
	if err != nil {
		return
	}
	defer to.Close()
	changes, err := diff.Diff(node.Tree{}.New(from), node.Tree{}.New(to))
	if err != nil {
		return
	}
	for _, c := range changes {
		if c.Op != diff.Same {
			fmt.Println(c)
		}
	}
	return
}

// du sums the sizes of the files below dir.
func du(dir string) (size uint64, err error) {
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			size += uint64(fi.Size())
		}
		return nil
	})
	return
}

func info() (err error) {
	s, err := open()
	if err != nil {
		return
	}
	defer s.Close()
	c := s.Config
	fmt.Printf("storage:     %s\n", s.Dir)
	fmt.Printf("revisioning: %s\n", c.Revisioning)
	fmt.Printf("compression: %s\n", c.Compression)
	fmt.Printf("backend:     %s\n", c.Backend)
	fmt.Printf("checksum:    %v\n", c.Checksum)
	fmt.Printf("encrypted:   %v\n", c.Encrypted)
	size, err := du(s.Dir)
	if err != nil {
		return
	}
	fmt.Printf("size:        %s\n", humanize.Bytes(size))
	latest, ok := s.Revisions()
	if !ok {
		fmt.Println("revisions:   none")
		return
	}
	rt, err := s.BeginRead(-1)
	if err != nil {
		return
	}
	defer rt.Close()
	fmt.Printf("revisions:   %s\n", humanize.Comma(int64(latest+1)))
	fmt.Printf("nodes:       %s\n", humanize.Comma(int64(rt.NodeCount())))
	fmt.Printf("committed:   %s\n", humanize.Time(rt.Timestamp()))
	return
}
