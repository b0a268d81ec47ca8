// Package hal declares the narrow interfaces the bootloader core uses
// to reach every external collaborator named in spec.md §6 — the
// flash driver, the transport driver, the system tick, the watchdog,
// the public-key provider, the optional decryption engine, and the
// non-returning jump-to-application primitive — plus the two status
// taxonomies from spec.md §7.
package hal

import "time"

// Status is the bootloader's internal result code (spec.md §7),
// local to the device and never placed on the wire.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusTimeout
	StatusCRCError
	StatusQueueEmpty
	StatusQueueFull
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusCRCError:
		return "crc-error"
	case StatusQueueEmpty:
		return "queue-empty"
	case StatusQueueFull:
		return "queue-full"
	default:
		return "unknown"
	}
}

// MsgStatus is the status code carried on the wire in a response
// frame's status field (spec.md §7). These are the exact values a
// host observes.
type MsgStatus uint8

const (
	MsgOK               MsgStatus = 0x00
	MsgValidation       MsgStatus = 0x01
	MsgInvalidRequest   MsgStatus = 0x02
	MsgFlashWrite       MsgStatus = 0x04
	MsgFlashErase       MsgStatus = 0x08
	MsgFwSize           MsgStatus = 0x10
	MsgFwVersion        MsgStatus = 0x20
	MsgHwVersion        MsgStatus = 0x40
	MsgSignature        MsgStatus = 0x80
)

func (s MsgStatus) String() string {
	switch s {
	case MsgOK:
		return "ok"
	case MsgValidation:
		return "validation"
	case MsgInvalidRequest:
		return "invalid-request"
	case MsgFlashWrite:
		return "flash-write"
	case MsgFlashErase:
		return "flash-erase"
	case MsgFwSize:
		return "fw-size"
	case MsgFwVersion:
		return "fw-version"
	case MsgHwVersion:
		return "hw-version"
	case MsgSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// FlashDevice is the platform's internal-flash driver.
type FlashDevice interface {
	// Read copies length bytes starting at addr into out. out must be
	// at least length bytes long. Synchronous, deterministic.
	Read(addr, length uint32, out []byte) error
	// Erase erases the page-aligned range [addr, addr+length). length
	// must be a whole number of pages.
	Erase(addr, length uint32) error
	// Write programs data starting at addr. The target range must
	// already be erased.
	Write(addr uint32, data []byte) error
	// PageSize returns the device's erase page size in bytes.
	PageSize() uint32
}

// Transport is the byte-oriented link to the host Boot Manager.
type Transport interface {
	// Tx sends data to the host.
	Tx(data []byte) error
	// RxByte pulls one byte from the receive buffer if available.
	RxByte() (b byte, ok bool)
}

// Clock is the platform's monotonic millisecond tick source.
type Clock interface {
	// Now returns the current time for duration bookkeeping in tests
	// and simulation; real hardware may derive this from Millis.
	Now() time.Time
	// Millis returns a monotonic millisecond counter.
	Millis() uint32
}

// Watchdog is the platform's hardware watchdog.
type Watchdog interface {
	// Kick pets the watchdog. Idempotent.
	Kick()
}

// PublicKeyProvider supplies the device's fixed ECDSA public key.
type PublicKeyProvider interface {
	PublicKey() ([64]byte, error)
}

// Decryptor is the optional image-decryption engine.
type Decryptor interface {
	// Reset clears any streaming state, starting a fresh decryption
	// session (e.g. at the start of a flashing session).
	Reset()
	// Decrypt decrypts in into out. out must be at least len(in) bytes.
	Decrypt(in, out []byte) error
}

// Jumper performs the non-returning jump to the application's reset
// vector. Any code after a call to JumpToApp is unreachable.
type Jumper interface {
	JumpToApp(entryAddr uint32)
}
