package bytehandler

import (
	"bytes"
	"io/ioutil"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Snappy compresses with the snappy block format.
type Snappy struct{}

func (Snappy) Serialize(buf []byte) ([]byte, error) {
	return snappy.Encode(nil, buf), nil
}

func (Snappy) Deserialize(buf []byte) ([]byte, error) {
	return snappy.Decode(nil, buf)
}

func (s Snappy) Clone() Handler {
	return s
}

// Zstd compresses with zstandard.  The encoder and decoder are built
// lazily and owned by this handler; Clone starts fresh ones.
type Zstd struct {
	mu  *sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (z Zstd) New() *Zstd {
	z.mu = &sync.Mutex{}
	return &z
}

func (z *Zstd) Serialize(buf []byte) (out []byte, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.enc == nil {
		z.enc, err = zstd.NewWriter(nil)
		if err != nil {
			return
		}
	}
	return z.enc.EncodeAll(buf, nil), nil
}

func (z *Zstd) Deserialize(buf []byte) (out []byte, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.dec == nil {
		z.dec, err = zstd.NewReader(nil)
		if err != nil {
			return
		}
	}
	return z.dec.DecodeAll(buf, nil)
}

func (z *Zstd) Clone() Handler {
	return Zstd{}.New()
}

// XZ compresses with the xz container format.
type XZ struct{}

func (XZ) Serialize(buf []byte) (out []byte, err error) {
	var b bytes.Buffer
	w, err := xz.NewWriter(&b)
	if err != nil {
		return
	}
	_, err = w.Write(buf)
	if err != nil {
		return
	}
	err = w.Close()
	if err != nil {
		return
	}
	return b.Bytes(), nil
}

func (XZ) Deserialize(buf []byte) (out []byte, err error) {
	r, err := xz.NewReader(bytes.NewReader(buf))
	if err != nil {
		return
	}
	return ioutil.ReadAll(r)
}

func (x XZ) Clone() Handler {
	return x
}
