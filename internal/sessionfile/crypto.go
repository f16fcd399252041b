package sessionfile

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeyLen is the size of the on-disk master key.
const MasterKeyLen = 32

// formatV1 prefixes every sealed session blob.
const formatV1 byte = 1

// ErrCorrupt is returned when a session blob can't be opened.
var ErrCorrupt = errors.New("session file corrupt")

// box seals session blobs for one namespace. The namespace is both the HKDF
// info and the AEAD associated data.
type box struct {
	aead cipher.AEAD
	ad   []byte
}

func newBox(master, namespace []byte) (*box, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, namespace), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ad := append([]byte{formatV1}, namespace...)
	return &box{aead: aead, ad: ad}, nil
}

// seal returns version || nonce || ciphertext.
func (b *box) seal(plaintext []byte) ([]byte, error) {
	n := b.aead.NonceSize()
	out := make([]byte, 1+n, 1+n+len(plaintext)+b.aead.Overhead())
	out[0] = formatV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, err
	}
	return b.aead.Seal(out, out[1:], plaintext, b.ad), nil
}

func (b *box) open(blob []byte) ([]byte, error) {
	n := b.aead.NonceSize()
	if len(blob) < 1+n+b.aead.Overhead() || blob[0] != formatV1 {
		return nil, ErrCorrupt
	}
	pt, err := b.aead.Open(nil, blob[1:1+n], blob[1+n:], b.ad)
	if err != nil {
		return nil, ErrCorrupt
	}
	return pt, nil
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
