// Package flashio orchestrates page-aligned erase and sequential
// chunked write into the application flash region, per spec.md §4.6.
package flashio

import (
	"errors"

	"github.com/openenterprise/fwboot/internal/hal"
)

var (
	// ErrErase is returned by Prepare when a single-page erase fails.
	ErrErase = errors.New("flashio: page erase failed")
	// ErrOverflow is returned by Write when the chunk would write past
	// the session's total size.
	ErrOverflow = errors.New("flashio: write would exceed total size")
	// ErrWrite wraps an underlying flash write failure.
	ErrWrite = errors.New("flashio: write failed")
)

// Session tracks one in-progress flashing pass: the write cursor, the
// bytes written so far, and the declared total size.
type Session struct {
	workingAddr  uint32
	flashedBytes uint32
	totalSize    uint32
}

// NewSession starts a session writing totalSize bytes starting at addr.
func NewSession(addr, totalSize uint32) Session {
	return Session{workingAddr: addr, totalSize: totalSize}
}

// FlashedBytes returns the number of bytes written so far.
func (s Session) FlashedBytes() uint32 { return s.flashedBytes }

// Done reports whether the session has written its full declared size.
func (s Session) Done() bool { return s.flashedBytes >= s.totalSize }

// Orchestrator drives a hal.FlashDevice and hal.Watchdog through the
// erase/write sequence, with an optional decrypt-in-place pre-step.
type Orchestrator struct {
	flash    hal.FlashDevice
	watchdog hal.Watchdog
	decrypt  hal.Decryptor // nil when decryption is disabled
	scratch  []byte
}

// New builds an Orchestrator. decrypt may be nil to disable the
// optional decryption pre-step; maxPayload bounds the scratch buffer
// used for decrypt-in-place so Write never allocates per chunk.
func New(flash hal.FlashDevice, watchdog hal.Watchdog, decrypt hal.Decryptor, maxPayload int) *Orchestrator {
	return &Orchestrator{
		flash:    flash,
		watchdog: watchdog,
		decrypt:  decrypt,
		scratch:  make([]byte, maxPayload),
	}
}

// Prepare erases [addr, addr+size) page by page, kicking the watchdog
// between pages so a slow bulk erase cannot itself trip a reset.
func (o *Orchestrator) Prepare(addr, size uint32) error {
	page := o.flash.PageSize()
	for off := uint32(0); off < size; off += page {
		chunk := page
		if off+chunk > size {
			chunk = size - off
		}
		if err := o.flash.Erase(addr+off, chunk); err != nil {
			return ErrErase
		}
		o.watchdog.Kick()
	}
	return nil
}

// Write decrypts (if enabled) and writes one chunk at the session's
// current cursor, advancing it. It never writes past sess.totalSize.
func (o *Orchestrator) Write(sess *Session, chunk []byte) error {
	if sess.flashedBytes+uint32(len(chunk)) > sess.totalSize {
		return ErrOverflow
	}

	out := chunk
	if o.decrypt != nil {
		if len(chunk) > len(o.scratch) {
			return ErrOverflow
		}
		buf := o.scratch[:len(chunk)]
		if err := o.decrypt.Decrypt(chunk, buf); err != nil {
			return err
		}
		out = buf
	}

	if err := o.flash.Write(sess.workingAddr, out); err != nil {
		return ErrWrite
	}

	sess.workingAddr += uint32(len(chunk))
	sess.flashedBytes += uint32(len(chunk))
	return nil
}

// WriteRaw writes a chunk at the session's cursor without running it
// through the decryptor, advancing the cursor the same way Write does.
// The 256-byte image header is never encrypted (spec.md §4.5), so the
// Prepare handler uses this instead of Write to lay it down even when
// a decryptor is configured for the body that follows.
func (o *Orchestrator) WriteRaw(sess *Session, chunk []byte) error {
	if sess.flashedBytes+uint32(len(chunk)) > sess.totalSize {
		return ErrOverflow
	}
	if err := o.flash.Write(sess.workingAddr, chunk); err != nil {
		return ErrWrite
	}
	sess.workingAddr += uint32(len(chunk))
	sess.flashedBytes += uint32(len(chunk))
	return nil
}

// ResetDecryptor resets the decryption engine's streaming state, if
// one is configured. Called at the start of every flashing session
// (Idle on-entry, per spec.md §4.7) so stale keystream state from a
// prior aborted session never leaks into a new one.
func (o *Orchestrator) ResetDecryptor() {
	if o.decrypt != nil {
		o.decrypt.Reset()
	}
}
