package decrypt

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20"
)

func TestChaCha20RoundTrips(t *testing.T) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	key[0] = 0x42
	nonce[0] = 0x07

	plain := []byte("the quick brown fox jumps over the lazy dog")

	enc := NewChaCha20(key, nonce)
	cipher := make([]byte, len(plain))
	if err := enc.Decrypt(plain, cipher); err != nil {
		t.Fatalf("Decrypt (encrypt direction): %v", err)
	}
	if bytes.Equal(cipher, plain) {
		t.Fatalf("ciphertext equals plaintext")
	}

	dec := NewChaCha20(key, nonce)
	got := make([]byte, len(cipher))
	if err := dec.Decrypt(cipher, got); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip = %q, want %q", got, plain)
	}
}

func TestChaCha20StreamsAcrossChunks(t *testing.T) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	plain := []byte("0123456789abcdef0123456789abcdef")

	whole := NewChaCha20(key, nonce)
	wantCipher := make([]byte, len(plain))
	whole.Decrypt(plain, wantCipher)

	chunked := NewChaCha20(key, nonce)
	gotCipher := make([]byte, len(plain))
	chunked.Decrypt(plain[:16], gotCipher[:16])
	chunked.Decrypt(plain[16:], gotCipher[16:])

	if !bytes.Equal(gotCipher, wantCipher) {
		t.Fatalf("chunked stream diverged from whole stream")
	}
}

func TestChaCha20ResetRestartsStream(t *testing.T) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	plain := []byte("reset me please")

	d := NewChaCha20(key, nonce)
	first := make([]byte, len(plain))
	d.Decrypt(plain, first)

	d.Reset()
	second := make([]byte, len(plain))
	d.Decrypt(plain, second)

	if !bytes.Equal(first, second) {
		t.Fatalf("Reset did not restart the keystream: %x != %x", first, second)
	}
}

func TestNopPassesThrough(t *testing.T) {
	var n Nop
	n.Reset()
	in := []byte("unchanged")
	out := make([]byte, len(in))
	if err := n.Decrypt(in, out); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("Nop.Decrypt altered data: %q != %q", out, in)
	}
}
