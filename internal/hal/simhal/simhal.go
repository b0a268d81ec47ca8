// Package simhal is a host-buildable, host-testable stand-in for the
// platform collaborators `internal/hal` declares: an in-memory flash
// device, a byte-queue transport, a virtual clock, and recording
// stubs for the watchdog, jumper, and public-key provider. It plays
// the same role for this module that the teacher's `//go:build
// !tinygo` stub played for its hardware peripherals — everything
// above `internal/hal` runs under `go test` without a device attached.
package simhal

import (
	"errors"
	"time"

	"github.com/openenterprise/fwboot/internal/hal"
)

// Flash is an in-memory hal.FlashDevice over a plain byte slice.
type Flash struct {
	mem      []byte
	pageSize uint32
}

// NewFlash builds a Flash of size bytes, erased (0xFF) to start, with
// the given erase page size.
func NewFlash(size int, pageSize uint32) *Flash {
	m := make([]byte, size)
	for i := range m {
		m[i] = 0xFF
	}
	return &Flash{mem: m, pageSize: pageSize}
}

var errFlashRange = errors.New("simhal: access out of range")

func (f *Flash) Read(addr, length uint32, out []byte) error {
	if uint64(addr)+uint64(length) > uint64(len(f.mem)) || uint64(len(out)) < uint64(length) {
		return errFlashRange
	}
	copy(out, f.mem[addr:addr+length])
	return nil
}

func (f *Flash) Erase(addr, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(len(f.mem)) {
		return errFlashRange
	}
	for i := uint32(0); i < length; i++ {
		f.mem[addr+i] = 0xFF
	}
	return nil
}

func (f *Flash) Write(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(f.mem)) {
		return errFlashRange
	}
	copy(f.mem[addr:], data)
	return nil
}

func (f *Flash) PageSize() uint32 { return f.pageSize }

// Bytes exposes the underlying storage for test setup/assertions.
func (f *Flash) Bytes() []byte { return f.mem }

// Transport is a hal.Transport over a pair of byte queues: Inject
// feeds bytes as if received from the host, and Tx appends to a
// buffer tests can inspect with Sent.
type Transport struct {
	rx   []byte
	sent []byte
}

// NewTransport builds an empty Transport.
func NewTransport() *Transport { return &Transport{} }

// Inject appends data to the receive queue, simulating bytes arriving
// from the host link.
func (t *Transport) Inject(data []byte) {
	t.rx = append(t.rx, data...)
}

func (t *Transport) RxByte() (byte, bool) {
	if len(t.rx) == 0 {
		return 0, false
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, true
}

func (t *Transport) Tx(data []byte) error {
	t.sent = append(t.sent, data...)
	return nil
}

// Sent returns everything written via Tx so far.
func (t *Transport) Sent() []byte { return t.sent }

// TakeSent returns and clears everything written via Tx so far.
func (t *Transport) TakeSent() []byte {
	out := t.sent
	t.sent = nil
	return out
}

// Clock is a manually-advanced virtual hal.Clock.
type Clock struct {
	now time.Time
}

// NewClock builds a Clock starting at now.
func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Millis() uint32 { return uint32(c.now.UnixMilli()) }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Set pins the clock to now.
func (c *Clock) Set(now time.Time) { c.now = now }

// Watchdog is a recording hal.Watchdog.
type Watchdog struct{ Kicks int }

func (w *Watchdog) Kick() { w.Kicks++ }

// Jumper is a recording hal.Jumper: JumpToApp does not actually jump
// anywhere (there is nowhere to jump to on a host), it just records
// that it was invoked, since real hardware never returns from the
// call and callers must not rely on doing anything after it.
type Jumper struct {
	Jumped    bool
	EntryAddr uint32
}

func (j *Jumper) JumpToApp(entryAddr uint32) {
	j.Jumped = true
	j.EntryAddr = entryAddr
}

// FixedKey is a hal.PublicKeyProvider that always returns the same
// raw 64-byte X||Y point (or a configured error).
type FixedKey struct {
	Key [64]byte
	Err error
}

func (k FixedKey) PublicKey() ([64]byte, error) {
	if k.Err != nil {
		return [64]byte{}, k.Err
	}
	return k.Key, nil
}

var _ hal.FlashDevice = (*Flash)(nil)
var _ hal.Transport = (*Transport)(nil)
var _ hal.Clock = (*Clock)(nil)
var _ hal.Watchdog = (*Watchdog)(nil)
var _ hal.Jumper = (*Jumper)(nil)
var _ hal.PublicKeyProvider = FixedKey{}
