package bytehandler

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/t7a/revbase/page"
)

func randBytes(rnd *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	rnd.Read(buf)
	return buf
}

func testKey() []byte {
	return DeriveKey("secret", []byte("0123456789abcdef"))
}

func handlers(t *testing.T) map[string]Handler {
	enc, err := Encryptor{}.New(testKey())
	require.NoError(t, err)
	all, err := FromConfig("zstd", testKey(), true)
	require.NoError(t, err)
	return map[string]Handler{
		"snappy":   Snappy{},
		"zstd":     Zstd{}.New(),
		"xz":       XZ{},
		"encrypt":  enc,
		"checksum": Checksum{},
		"empty":    Pipeline{}.New(),
		"pipeline": all,
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	inputs := [][]byte{
		{},
		[]byte("a"),
		randBytes(rnd, 10000),
		bytes.Repeat([]byte("page"), 4096),
	}
	for name, h := range handlers(t) {
		for _, in := range inputs {
			out, err := h.Serialize(in)
			require.NoError(t, err, name)
			back, err := h.Deserialize(out)
			require.NoError(t, err, name)
			require.True(t, bytes.Equal(in, back), "%s: round trip of %d bytes", name, len(in))

			c := h.Clone()
			back, err = c.Deserialize(out)
			require.NoError(t, err, "%s clone", name)
			require.True(t, bytes.Equal(in, back), "%s clone", name)
		}
	}
}

func TestPipelineOrder(t *testing.T) {
	p, err := FromConfig("snappy", nil, true)
	require.NoError(t, err)
	in := bytes.Repeat([]byte("x"), 1000)
	out, err := p.Serialize(in)
	require.NoError(t, err)
	// the checksum runs last, so the digest is over the compressed bytes
	_, err = Checksum{}.Deserialize(out)
	require.NoError(t, err)
	require.Less(t, len(out), len(in))
}

func TestCorruptIsIOError(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	in := randBytes(rnd, 10000)
	for _, name := range []string{"snappy", "zstd", "xz", "encrypt", "checksum", "pipeline"} {
		h := handlers(t)[name]
		p := Pipeline{}.New(h)
		out, err := p.Serialize(in)
		require.NoError(t, err, name)
		bad := append([]byte{}, out...)
		bad[len(bad)/2] ^= 0xff
		bad = bad[:len(bad)-1]
		_, err = p.Deserialize(bad)
		require.Error(t, err, name)
		require.True(t, page.IsIOError(err), "%s: %v", name, err)
		require.True(t, errors.Is(err, page.ErrCorrupt), "%s: %v", name, err)
	}
}

func TestWrongKey(t *testing.T) {
	enc, err := Encryptor{}.New(testKey())
	require.NoError(t, err)
	other, err := Encryptor{}.New(DeriveKey("other", []byte("0123456789abcdef")))
	require.NoError(t, err)
	out, err := enc.Serialize([]byte("hello"))
	require.NoError(t, err)
	_, err = other.Deserialize(out)
	require.Error(t, err)

	_, err = Encryptor{}.New([]byte("short"))
	require.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig("none", nil, false)
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())
	p, err = FromConfig("xz", testKey(), true)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())
	_, err = FromConfig("lz4", nil, false)
	require.Error(t, err)
}

func TestHandlerErrorsCarryStack(t *testing.T) {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	enc, err := Encryptor{}.New(testKey())
	require.NoError(t, err)
	_, err = Encryptor{}.New([]byte("short"))
	require.Error(t, err)
	for _, err := range []error{
		err,
		func() error { _, err := Checksum{}.Deserialize([]byte("short")); return err }(),
		func() error { _, err := Checksum{}.Deserialize(make([]byte, 40)); return err }(),
		func() error { _, err := enc.Deserialize([]byte{1}); return err }(),
	} {
		require.Error(t, err)
		_, ok := err.(stackTracer)
		require.True(t, ok, "%v", err)
	}
}
