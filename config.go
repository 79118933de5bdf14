package revbase

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	resticRabin "github.com/restic/chunker"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/revbase/bytehandler"
	"github.com/t7a/revbase/revisioning"
)

const configName = "config.json"

// Config describes a storage.  It is written to config.json in Dir
// when the storage is created and read back by Open.
type Config struct {
	Dir            string          `json:"-"`
	Revisioning    string          // fulldump, incremental, differential or slidingsnapshot
	Milestone      int             // full dump interval for incremental and differential
	Window         int             // fragment window for slidingsnapshot
	CacheSize      int             // node pages cached per read transaction
	LogCacheSize   int             // node pages a write transaction keeps in memory
	Compression    string          // none, snappy, zstd or xz
	Checksum       bool            // append a blake3 digest to every stored page
	Encrypted      bool            // encrypt pages; needs WithPassphrase
	Salt           string          // hex salt for the encryption key
	Backend        string          // file or sqlite
	Replica        string          // optional secondary backend, e.g. sqlite:/backup/pages.db
	ReplicaTimeout time.Duration   // how long Close waits for the replica
	Poly           resticRabin.Pol // rabin polynomial for chunking streams
	MinChunk       uint            // minimum stream chunk size
	MaxChunk       uint            // maximum stream chunk size
}

const (
	defMilestone = 4
	defWindow    = 4
	defLogCache  = 256
	defMinChunk  = 2 * 1024
	defMaxChunk  = 16 * 1024
)

// ExistsError is returned by Create for a non-empty directory.
type ExistsError struct {
	Dir string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("directory not empty: %s", e.Dir)
}

// NotStorageError is returned by Open for a directory without a
// readable config.json.
type NotStorageError struct {
	Dir string
}

func (e *NotStorageError) Error() string {
	return fmt.Sprintf("not a revbase storage: %s", e.Dir)
}

func (c *Config) setDefaults() {
	if c.Revisioning == "" {
		c.Revisioning = revisioning.SlidingSnapshot.String()
	}
	if c.Milestone <= 0 {
		c.Milestone = defMilestone
	}
	if c.Window <= 0 {
		c.Window = defWindow
	}
	if c.LogCacheSize <= 0 {
		c.LogCacheSize = defLogCache
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.MinChunk == 0 {
		c.MinChunk = defMinChunk
	}
	if c.MaxChunk == 0 {
		c.MaxChunk = defMaxChunk
	}
}

// Strategy returns the revisioning strategy the config names.
func (c *Config) Strategy() (s revisioning.Strategy, err error) {
	kind, err := revisioning.ParseKind(c.Revisioning)
	if err != nil {
		return
	}
	n := c.Milestone
	if kind == revisioning.SlidingSnapshot {
		n = c.Window
	}
	return revisioning.New(kind, n), nil
}

// Create initializes the storage directory c.Dir and opens it.
func (c Config) Create(opts ...Option) (s *Storage, err error) {
	defer Return(&err)

	dir := filepath.Clean(c.Dir)

	// if directory exists, make sure it's empty
	if canstat(dir) {
		var files []os.FileInfo
		files, err = ioutil.ReadDir(dir)
		if len(files) > 0 {
			return nil, &ExistsError{Dir: dir}
		}
		Ck(err)
	}

	c.setDefaults()
	_, err = c.Strategy()
	Ck(err)
	_, err = bytehandler.FromConfig(c.Compression, nil, c.Checksum)
	Ck(err)
	switch c.Backend {
	case "file", "sqlite":
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Poly == 0 {
		c.Poly, err = resticRabin.RandomPolynomial()
		Ck(err)
	}
	if c.Encrypted && c.Salt == "" {
		salt, err := bytehandler.NewSalt()
		Ck(err)
		c.Salt = hex.EncodeToString(salt)
	}

	err = os.MkdirAll(dir, 0755)
	Ck(err)
	buf, err := json.MarshalIndent(c, "", "  ")
	Ck(err)
	err = ioutil.WriteFile(filepath.Join(dir, configName), buf, 0644)
	Ck(err)

	return Open(dir, opts...)
}

func loadConfig(dir string) (c *Config, err error) {
	buf, err := ioutil.ReadFile(filepath.Join(dir, configName))
	if err != nil {
		return nil, &NotStorageError{Dir: dir}
	}
	c = &Config{}
	err = json.Unmarshal(buf, c)
	if err != nil {
		return
	}
	c.Dir = dir
	c.setDefaults()
	return
}

func canstat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
