// Package sharedmem manages the 32-byte persistent record shared
// between the bootloader and the application across a soft reset. The
// region's storage is supplied by the caller as a fixed-size byte
// window (a linker-placed region on real hardware, a plain slice in
// tests) so this package owns no global state of its own beyond what
// the caller chooses to keep alive.
package sharedmem

import (
	"encoding/binary"
	"errors"

	"github.com/openenterprise/fwboot/internal/crc"
)

// RegionSize is the fixed size of the shared-memory record in bytes.
const RegionSize = 32

// LayoutVersion is the current shared-memory layout version written
// by Init. Existing records with a different version are still
// CRC-validated the same way; the version field is informational for
// the application reading boot_ver/boot_reason across a layout change.
const LayoutVersion = 1

// Byte offsets within the 32-byte region (see SPEC_FULL.md §3).
const (
	offCRC        = 0
	offVer        = 1
	offReservedA  = 2 // 6 reserved bytes, offsets 2..7
	offBootVer    = 8 // u32 LE
	offBootReason = 12
	offBootCnt    = 13
	offReservedB  = 14 // 18 reserved bytes, offsets 14..31
)

// ErrCRC is returned by any getter when the stored record fails its
// CRC-8 check.
var ErrCRC = errors.New("sharedmem: crc mismatch")

// ErrBadSize is returned by New when the supplied window is not
// exactly RegionSize bytes.
var ErrBadSize = errors.New("sharedmem: region must be exactly 32 bytes")

// BootReason records why the bootloader should (or should not) remain
// in update mode across the next reset.
type BootReason uint8

const (
	ReasonNone  BootReason = 0
	ReasonCom   BootReason = 1
	ReasonFlash BootReason = 2
)

// Manager owns one 32-byte shared-memory window and implements the
// CRC-guarded get/set contract from spec.md §4.2.
type Manager struct {
	mem []byte
}

// New wraps mem (which must be exactly RegionSize bytes) as a shared
// memory window. mem is not copied; callers must keep it alive and
// addressable across resets (it is typically a slice over a
// linker-placed region).
func New(mem []byte) (*Manager, error) {
	if len(mem) != RegionSize {
		return nil, ErrBadSize
	}
	return &Manager{mem: mem}, nil
}

// calcCRC returns CRC-8 over every byte of the region except the CRC
// byte itself (offsets 1..31).
func (m *Manager) calcCRC() uint8 {
	return crc.CRC8(m.mem[1:])
}

func (m *Manager) checkCRC() bool {
	return m.mem[offCRC] == m.calcCRC()
}

func (m *Manager) writeCRC() {
	m.mem[offCRC] = m.calcCRC()
}

// Init must be called exactly once per reset, before any other method.
// If the stored record's CRC is valid, the boot counter is incremented
// (saturating at 255) and the layout version/bootloader version fields
// are refreshed in place. If the CRC is invalid, every field is reset
// to its default (boot_reason = None, boot_cnt = 0) before the version
// fields are written. Either way the CRC is recomputed and stored
// before returning.
func (m *Manager) Init(bootVersion uint32) {
	if m.checkCRC() {
		cnt := m.mem[offBootCnt]
		if cnt < 255 {
			cnt++
		}
		m.mem[offBootCnt] = cnt
	} else {
		for i := range m.mem {
			m.mem[i] = 0
		}
		m.mem[offBootReason] = byte(ReasonNone)
		m.mem[offBootCnt] = 0
	}

	m.mem[offVer] = LayoutVersion
	binary.LittleEndian.PutUint32(m.mem[offBootVer:], bootVersion)
	m.writeCRC()
}

// GetVersion returns the stored layout version.
func (m *Manager) GetVersion() (uint8, error) {
	if !m.checkCRC() {
		return 0, ErrCRC
	}
	return m.mem[offVer], nil
}

// GetBootVersion returns the bootloader version recorded at the last Init.
func (m *Manager) GetBootVersion() (uint32, error) {
	if !m.checkCRC() {
		return 0, ErrCRC
	}
	return binary.LittleEndian.Uint32(m.mem[offBootVer:]), nil
}

// GetBootReason returns the persisted boot reason.
func (m *Manager) GetBootReason() (BootReason, error) {
	if !m.checkCRC() {
		return ReasonNone, ErrCRC
	}
	return BootReason(m.mem[offBootReason]), nil
}

// SetBootReason persists reason and recomputes the record's CRC.
func (m *Manager) SetBootReason(reason BootReason) error {
	m.mem[offBootReason] = byte(reason)
	m.writeCRC()
	return nil
}

// GetBootCount returns the persisted, saturating boot counter.
func (m *Manager) GetBootCount() (uint8, error) {
	if !m.checkCRC() {
		return 0, ErrCRC
	}
	return m.mem[offBootCnt], nil
}

// SetBootCount persists cnt and recomputes the record's CRC. Used to
// clear the counter to 0 just before jumping to a validated application.
func (m *Manager) SetBootCount(cnt uint8) error {
	m.mem[offBootCnt] = cnt
	m.writeCRC()
	return nil
}
