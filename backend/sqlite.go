package backend

import (
	"database/sql"
	"sync"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/t7a/revbase/page"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pages (
	key  INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS uber (
	id   INTEGER PRIMARY KEY CHECK (id = 0),
	data BLOB NOT NULL
);
`

// SQLite stores pages in a single SQLite database file.
type SQLite struct {
	Path  string
	db    *sql.DB
	codec Codec
	once  sync.Once
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, codec Codec) (s *SQLite, err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &page.IOError{Op: "open sqlite", Err: err}
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;" + sqliteSchema)
	if err != nil {
		db.Close()
		return nil, &page.IOError{Op: "open sqlite", Err: err}
	}
	return &SQLite{Path: path, db: db, codec: codec.Clone()}, nil
}

func (s *SQLite) Read(key uint64) (p page.Page, err error) {
	var buf []byte
	err = s.db.QueryRow("SELECT data FROM pages WHERE key = ?", int64(key)).Scan(&buf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &page.IOError{Op: "read", Key: key, Err: err}
	}
	p, err = s.codec.Decode(buf)
	if err != nil {
		return nil, &page.IOError{Op: "read", Key: key, Err: err}
	}
	return
}

func (s *SQLite) ReadUber() (u *page.UberPage, err error) {
	var buf []byte
	err = s.db.QueryRow("SELECT data FROM uber WHERE id = 0").Scan(&buf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &page.IOError{Op: "read uber", Err: err}
	}
	return decodeUber(s.codec, buf)
}

func (s *SQLite) Write(key uint64, p page.Page) error {
	buf, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO pages (key, data) VALUES (?, ?)", int64(key), buf)
	if err != nil {
		return &page.IOError{Op: "write", Key: key, Err: err}
	}
	log.Debugf("sqlite write %v page %d (%d bytes)", p.Kind(), key, len(buf))
	return nil
}

func (s *SQLite) WriteUber(u *page.UberPage) error {
	buf, err := s.codec.Encode(u)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO uber (id, data) VALUES (0, ?)", buf)
	if err != nil {
		return &page.IOError{Op: "write uber", Err: err}
	}
	return nil
}

func (s *SQLite) Close() (err error) {
	s.once.Do(func() {
		err = s.db.Close()
	})
	return
}
