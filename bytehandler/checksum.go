package bytehandler

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

const sumSize = 32

// Checksum appends a blake3 digest and verifies it on the way back.
type Checksum struct{}

func (Checksum) Serialize(buf []byte) ([]byte, error) {
	sum := blake3.Sum256(buf)
	out := make([]byte, 0, len(buf)+sumSize)
	out = append(out, buf...)
	return append(out, sum[:]...), nil
}

func (Checksum) Deserialize(buf []byte) ([]byte, error) {
	if len(buf) < sumSize {
		return nil, errors.Errorf("checksummed buffer too short: %d bytes", len(buf))
	}
	body := buf[:len(buf)-sumSize]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], buf[len(body):]) {
		return nil, errors.New("checksum mismatch")
	}
	return body, nil
}

func (c Checksum) Clone() Handler {
	return c
}
