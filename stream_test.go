package revbase

import (
	"bytes"
	"io"
	"io/ioutil"
	"math/rand"
	"testing"

	"github.com/stevegt/readercomp"

	"github.com/t7a/revbase/node"
)

func genbuf(t *testing.T, size int) []byte {
	buf := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	n, err := rng.Read(buf)
	tassert(t, err == nil, "rand.Read(): %v", err)
	tassert(t, size == n, "size: expected %d got %d", size, n)
	return buf
}

func TestChunker(t *testing.T) {
	// polynomial was randomly generated from a call to chunker.Init()
	c, err := Chunker{Poly: 0x25d92e975e1aa3, MinSize: 512, MaxSize: 4096}.Init()
	tassert(t, err == nil, "%v", err)
	data := genbuf(t, 100*1024)
	c.Start(bytes.NewReader(data))
	buf := make([]byte, c.MaxSize)
	var got []byte
	var chunks int
	for {
		chunk, err := c.Next(buf)
		if err == io.EOF {
			break
		}
		tassert(t, err == nil, "Next(): %v", err)
		tassert(t, uint(len(chunk)) <= c.MaxSize, "chunk of %d bytes", len(chunk))
		got = append(got, chunk...)
		chunks++
	}
	tassert(t, chunks >= 25, "only %d chunks", chunks)
	tassert(t, bytes.Equal(data, got), "stream vs. chunks mismatch")

	d, err := Chunker{}.Init()
	tassert(t, err == nil, "%v", err)
	tassert(t, d.Poly != 0 && d.MinSize == defMinChunk && d.MaxSize == defMaxChunk, "defaults: %#v", d)
}

func TestPutStream(t *testing.T) {
	s := setup(t, &Config{MinChunk: 512, MaxChunk: 2048})
	wt := begin(t, s)
	defer wt.Close()

	big := genbuf(t, 300*1024)
	small := []byte("apple bob carol dave echo foxtrot golf hotel india juliet kilo lima mike november oscar pear something ")
	bigKey, err := wt.PutStream(bytes.NewReader(big))
	tassert(t, err == nil, "PutStream(): %v", err)
	smallKey, err := wt.PutStream(bytes.NewReader(small))
	tassert(t, err == nil, "PutStream(): %v", err)
	emptyKey, err := wt.PutStream(bytes.NewReader(nil))
	tassert(t, err == nil, "PutStream(): %v", err)
	tassert(t, bigKey == 0, "first stream starts at %d", bigKey)

	// readable before commit
	ok, err := readercomp.Equal(bytes.NewReader(small), OpenStream(wt, smallKey), 4096)
	tassert(t, err == nil && ok, "uncommitted small stream: %v %v", ok, err)
	commit(t, wt, 0)

	rt := read(t, s, 0)
	tassert(t, rt.NodeCount() > 300*1024/2048, "only %d nodes", rt.NodeCount())
	ok, err = readercomp.Equal(bytes.NewReader(big), OpenStream(rt, bigKey), 4096)
	tassert(t, err == nil && ok, "big stream: %v %v", ok, err)
	ok, err = readercomp.Equal(bytes.NewReader(small), OpenStream(rt, smallKey), 128)
	tassert(t, err == nil && ok, "small stream: %v %v", ok, err)
	got, err := ioutil.ReadAll(OpenStream(rt, emptyKey))
	tassert(t, err == nil && len(got) == 0, "empty stream: %q %v", got, err)

	// the chain ends in a byte node whose Next is 0
	rec, err := rt.Get(emptyKey)
	tassert(t, err == nil, "%v", err)
	tassert(t, rec.(node.Bytes).Next == 0, "empty stream continues")

	_, err = ioutil.ReadAll(OpenStream(rt, 9999))
	tassert(t, err != nil, "missing node read as stream")
}
