package bytehandler

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// SaltSize is the length of the salt stored in a storage config.
	SaltSize = 16

	kdfRounds = 4096
)

// DeriveKey stretches a passphrase into an encryption key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfRounds, KeySize, sha256.New)
}

// NewSalt returns a random salt for DeriveKey.
func NewSalt() (salt []byte, err error) {
	salt = make([]byte, SaltSize)
	_, err = io.ReadFull(rand.Reader, salt)
	return
}

// Encryptor seals each buffer with AES-256-GCM under a fresh random
// nonce, which is stored in front of the ciphertext.
type Encryptor struct {
	key  []byte
	aead cipher.AEAD
}

func (e Encryptor) New(key []byte) (out *Encryptor, err error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("encryption key is %d bytes, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}
	e.aead, err = cipher.NewGCM(block)
	if err != nil {
		return
	}
	e.key = append([]byte{}, key...)
	return &e, nil
}

func (e *Encryptor) Serialize(buf []byte) (out []byte, err error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(buf)+e.aead.Overhead())
	_, err = io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return
	}
	return e.aead.Seal(nonce, nonce, buf, nil), nil
}

func (e *Encryptor) Deserialize(buf []byte) (out []byte, err error) {
	n := e.aead.NonceSize()
	if len(buf) < n+e.aead.Overhead() {
		return nil, errors.Errorf("ciphertext too short: %d bytes", len(buf))
	}
	return e.aead.Open(nil, buf[:n], buf[n:], nil)
}

func (e *Encryptor) Clone() Handler {
	c, err := Encryptor{}.New(e.key)
	if err != nil {
		// the key was accepted once already
		panic(err)
	}
	return c
}
