// Package decrypt implements the bootloader's optional image-decryption
// engine: a ChaCha20 keystream applied in place to each flash chunk as
// it arrives, and a no-op stand-in for devices that never enable
// encryption.
package decrypt

import (
	"golang.org/x/crypto/chacha20"
)

// ChaCha20 decrypts a session's flashed chunks as a single continuous
// keystream: Reset rewinds to the start of that stream so a new
// flashing session (and hence a fresh Prepare) starts the counter over,
// just as each Prepare starts a fresh flashio.Session write cursor.
type ChaCha20 struct {
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
	c     *chacha20.Cipher
}

// NewChaCha20 builds a ChaCha20 decryptor from a fixed key and nonce.
// Both must be held by the device the way the ECDSA public key is —
// out of band, not carried on the wire.
func NewChaCha20(key [chacha20.KeySize]byte, nonce [chacha20.NonceSize]byte) *ChaCha20 {
	d := &ChaCha20{key: key, nonce: nonce}
	d.Reset()
	return d
}

// Reset restarts the keystream from its initial counter, as required
// at the start of each new flashing session.
func (d *ChaCha20) Reset() {
	c, err := chacha20.NewUnauthenticatedCipher(d.key[:], d.nonce[:])
	if err != nil {
		// key/nonce sizes are fixed array lengths validated at
		// construction; this path is unreachable in practice.
		panic(err)
	}
	d.c = c
}

// Decrypt XORs in with the next len(in) bytes of keystream into out.
// in and out may overlap (decryption in place).
func (d *ChaCha20) Decrypt(in, out []byte) error {
	d.c.XORKeyStream(out, in)
	return nil
}

// Nop is the "decryption disabled" hal.Decryptor: it passes chunks
// through unchanged, for images that were never encrypted.
type Nop struct{}

func (Nop) Reset() {}

func (Nop) Decrypt(in, out []byte) error {
	copy(out, in)
	return nil
}
