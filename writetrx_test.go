package revbase

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/t7a/revbase/backend"
	"github.com/t7a/revbase/node"
	"github.com/t7a/revbase/page"
)

// TestStrategies replays random writes and removes through every
// revisioning strategy and checks each committed revision against a
// plain map.
func TestStrategies(t *testing.T) {
	for _, kind := range []string{"fulldump", "incremental", "differential", "slidingsnapshot"} {
		t.Run(kind, func(t *testing.T) {
			s := setup(t, &Config{Revisioning: kind, Milestone: 3, Window: 3, CacheSize: 2})
			wt := begin(t, s)
			defer wt.Close()

			const nkeys = 3*page.NodesPerPage - 20
			for i := 0; i < nkeys; i++ {
				wt.NextNodeKey()
			}
			rng := rand.New(rand.NewSource(42))
			model := map[uint64]string{}
			var history []map[uint64]string
			for rev := 0; rev < 20; rev++ {
				for i := 0; i < 25; i++ {
					key := uint64(rng.Intn(nkeys))
					if _, ok := model[key]; ok && rng.Intn(4) == 0 {
						err := wt.Remove(key)
						tassert(t, err == nil, "Remove(%d): %v", key, err)
						delete(model, key)
						continue
					}
					val := fmt.Sprintf("r%d-%d", rev, i)
					err := wt.Set(node.Text{NodeKey: key, Value: []byte(val)})
					tassert(t, err == nil, "Set(%d): %v", key, err)
					model[key] = val
				}
				commit(t, wt, uint64(rev))
				snap := make(map[uint64]string, len(model))
				for k, v := range model {
					snap[k] = v
				}
				history = append(history, snap)
			}

			for rev, m := range history {
				rt := read(t, s, int64(rev))
				tassert(t, rt.NodeCount() == uint64(len(m)), "rev %d: node count %d, expected %d", rev, rt.NodeCount(), len(m))
				for key := uint64(0); key < nkeys; key++ {
					expect, ok := m[key]
					if !ok {
						expect = "<nil>"
					}
					got := text(t, rt, key)
					tassert(t, got == expect, "rev %d key %d: expected %q got %q", rev, key, expect, got)
				}
				rt.Close()
			}
		})
	}
}

// TestSlidingWindowBound checks that a reader never follows more
// fragments than the window, however many revisions a page has.
func TestSlidingWindowBound(t *testing.T) {
	s := setup(t, &Config{Revisioning: "slidingsnapshot", Window: 4})
	wt := begin(t, s)
	defer wt.Close()
	for i := 0; i < page.NodesPerPage; i++ {
		wt.NextNodeKey()
	}
	// every slot is written once, then only slot 0 changes
	for rev := 0; rev < 12; rev++ {
		lo, hi := 0, 1
		if rev < 4 {
			lo, hi = rev*32, rev*32+32
		}
		for key := lo; key < hi; key++ {
			err := wt.Set(node.Text{NodeKey: uint64(key), Value: []byte(fmt.Sprintf("%d@%d", key, rev))})
			tassert(t, err == nil, "%v", err)
		}
		commit(t, wt, uint64(rev))
	}

	rt := read(t, s, -1)
	ref, err := leafRef(rt.pages.r, rt.root.Indirect, 5>>page.NodeBits)
	tassert(t, err == nil, "%v", err)
	frags, err := fragments(rt.pages.r, ref, 100)
	tassert(t, err == nil, "%v", err)
	tassert(t, len(frags) == 12, "fragment chain has %d entries", len(frags))
	combined := s.strategy.Combine(frags[:s.strategy.Restore()])
	for key := 0; key < page.NodesPerPage; key++ {
		expect := fmt.Sprintf("%d@%d", key, key/32)
		if key == 0 {
			expect = "0@11"
		}
		got := string(combined.Get(key).(node.Text).Value)
		tassert(t, got == expect, "slot %d: expected %q got %q", key, expect, got)
		tassert(t, text(t, rt, uint64(key)) == expect, "reader slot %d", key)
	}
}

func TestConfigs(t *testing.T) {
	confs := map[string]*Config{
		"snappy":    {Compression: "snappy"},
		"zstd-sum":  {Compression: "zstd", Checksum: true},
		"xz":        {Compression: "xz", Revisioning: "fulldump"},
		"encrypted": {Compression: "snappy", Checksum: true, Encrypted: true},
		"sqlite":    {Backend: "sqlite", Revisioning: "differential"},
		"replica":   {Backend: "sqlite", Replica: "file:replica"},
	}
	for name, conf := range confs {
		t.Run(name, func(t *testing.T) {
			s := setup(t, conf, WithPassphrase("correct horse"))
			wt := begin(t, s)
			one, _ := smallDoc(t, wt)
			commit(t, wt, 0)
			err := node.SetText(wt, one, []byte("uno"))
			tassert(t, err == nil, "%v", err)
			commit(t, wt, 1)
			wt.Close()
			tassert(t, text(t, read(t, s, 0), one) == "one", "rev 0")
			tassert(t, text(t, read(t, s, 1), one) == "uno", "rev 1")
			err = s.Close()
			tassert(t, err == nil, "Close(): %v", err)

			s2, err := Open(s.Dir, WithPassphrase("correct horse"))
			tassert(t, err == nil, "Open(): %v", err)
			defer s2.Close()
			tassert(t, text(t, read(t, s2, -1), one) == "uno", "reopened")

			if conf.Replica != "" {
				r, err := backend.OpenFile(filepath.Join(s.Dir, "replica"), s.codec)
				tassert(t, err == nil, "%v", err)
				u, err := r.ReadUber()
				tassert(t, err == nil && u != nil, "replica uber: %v %v", u, err)
				tassert(t, u.Revision == 1, "replica at revision %d", u.Revision)
			}
		})
	}
}

func TestEncryptionNeedsPassphrase(t *testing.T) {
	s := setup(t, &Config{Encrypted: true}, WithPassphrase("right"))
	tassert(t, len(s.Config.Salt) == 32, "salt %q", s.Config.Salt)
	wt := begin(t, s)
	smallDoc(t, wt)
	commit(t, wt, 0)
	wt.Close()
	s.Close()

	_, err := Open(s.Dir)
	tassert(t, err != nil, "opened without passphrase")
	_, err = Open(s.Dir, WithPassphrase("wrong"))
	tassert(t, page.IsIOError(err), "expected IOError with wrong passphrase, got %v", err)
}
