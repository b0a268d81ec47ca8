// Package fsm implements the bootloader's update-session state
// machine: Idle, Prepare, Flash, Exit, plus the idle-timeout
// jump-to-app attempt every Idle period makes on its own (spec.md
// §4.7). It owns all cross-message policy; the frame codec and parser
// never see command semantics, only bytes.
package fsm

import (
	"io"
	"log/slog"
	"time"

	"github.com/openenterprise/fwboot/cfg"
	"github.com/openenterprise/fwboot/internal/flashio"
	"github.com/openenterprise/fwboot/internal/frame"
	"github.com/openenterprise/fwboot/internal/hal"
	"github.com/openenterprise/fwboot/internal/image"
	"github.com/openenterprise/fwboot/internal/sharedmem"
)

// State is one of the four FSM states plus the internal post-jump
// halt marker.
type State uint8

const (
	StateIdle State = iota
	StatePrepare
	StateFlash
	StateExit
	// stateJumped is entered the instant the jump primitive is called.
	// Real hardware never returns from that call; this state exists so
	// the simulated FSM behaves the same way — every subsequent Tick
	// and HandleMessage becomes a no-op, matching "any code after a
	// call to JumpToApp is unreachable" (spec.md §9).
	stateJumped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepare:
		return "prepare"
	case StateFlash:
		return "flash"
	case StateExit:
		return "exit"
	case stateJumped:
		return "jumped"
	default:
		return "unknown"
	}
}

// Deps bundles the FSM's external collaborators and configuration.
type Deps struct {
	Shared   *sharedmem.Manager
	Store    *image.Store
	Flasher  *flashio.Orchestrator
	Jumper   hal.Jumper
	Clock    hal.Clock
	Timeouts cfg.Timeouts
	Policy   cfg.Policy
	Limits   cfg.Limits
	// BootVersion is this bootloader build's own packed version,
	// reported by Info/InfoRsp and persisted via sharedmem.
	BootVersion uint32
	Log         *slog.Logger
}

// FSM is the boot finite state machine.
type FSM struct {
	d Deps

	state      State
	stateEntry time.Time

	lastActivity time.Time // Flash entry or last message handled in Flash, for Flash's inactivity deadline

	jumpAttempted bool // Idle's "tried-to-leave" one-shot

	sess flashio.Session

	pendingJump    bool
	pendingJumpAt  time.Time
	pendingJumpHdr image.Header
}

// New builds an FSM in Idle, entered as of now.
func New(d Deps, now time.Time) *FSM {
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &FSM{d: d}
	f.enterIdle(now)
	return f
}

// State reports the current state.
func (f *FSM) State() State { return f.state }

func (f *FSM) logf(level slog.Level, msg string, args ...any) {
	f.d.Log.Log(nil, level, msg, args...)
}

func (f *FSM) enterIdle(now time.Time) {
	f.state = StateIdle
	f.stateEntry = now
	f.sess = flashio.Session{}
	f.d.Flasher.ResetDecryptor()
	f.jumpAttempted = false
	f.pendingJump = false
	f.logf(slog.LevelDebug, "fsm: entered idle")
}

func (f *FSM) enterPrepare(now time.Time) {
	f.state = StatePrepare
	f.stateEntry = now
	f.logf(slog.LevelDebug, "fsm: entered prepare")
}

func (f *FSM) enterFlash(now time.Time, sess flashio.Session) {
	f.state = StateFlash
	f.stateEntry = now
	f.lastActivity = now
	f.sess = sess
	f.logf(slog.LevelDebug, "fsm: entered flash")
}

func (f *FSM) enterExit(now time.Time) {
	f.state = StateExit
	f.stateEntry = now
	f.logf(slog.LevelDebug, "fsm: entered exit")
}

// abortToIdle poisons the header, whatever state it is called from,
// and returns to Idle. Used by every failure path per spec.md §4.7/§8.
func (f *FSM) abortToIdle(now time.Time, reason string) {
	_ = f.d.Store.EraseHeader()
	f.logf(slog.LevelWarn, "fsm: aborting to idle", "reason", reason)
	f.enterIdle(now)
}

// Response describes what, if anything, the FSM wants sent back.
type Response struct {
	Send    bool
	Command frame.Command
	Status  hal.MsgStatus
	Payload []byte
}

// Tick advances state-entry/inactivity timeouts and the Exit drain
// wait. It does not process incoming messages; call HandleMessage for
// that. Returns true once the jump-to-app primitive has actually been
// invoked (no further Tick/HandleMessage calls do anything after that).
func (f *FSM) Tick(now time.Time) bool {
	switch f.state {
	case stateJumped:
		return true

	case StateIdle:
		if !f.jumpAttempted && now.Sub(f.stateEntry) >= f.d.Timeouts.JumpToApp {
			f.jumpAttempted = true
			f.tryJump()
		}

	case StatePrepare:
		if now.Sub(f.stateEntry) >= f.d.Timeouts.PrepareIdle {
			f.abortToIdle(now, "prepare idle timeout")
		}

	case StateFlash:
		if now.Sub(f.lastActivity) >= f.d.Timeouts.FlashIdle {
			f.abortToIdle(now, "flash inter-byte timeout")
		}

	case StateExit:
		if f.pendingJump {
			if now.Sub(f.pendingJumpAt) >= 0 {
				f.commitJumpTo(f.pendingJumpHdr)
				return true
			}
			return false
		}
		if now.Sub(f.stateEntry) >= f.d.Timeouts.ExitIdle {
			f.abortToIdle(now, "exit idle timeout")
		}
	}
	return f.state == stateJumped
}

// tryJump validates the installed image and, if valid, jumps.
// Invalid images leave the FSM in Idle; the one-shot prevents retrying
// every tick until Idle is re-entered.
func (f *FSM) tryJump() {
	hdr, err := f.d.Store.Validate()
	if err != nil {
		f.logf(slog.LevelDebug, "fsm: idle jump attempt found no valid image", "err", err)
		return
	}
	f.commitJumpTo(hdr)
}

func (f *FSM) commitJumpTo(hdr image.Header) {
	_ = f.d.Shared.SetBootReason(sharedmem.ReasonNone)
	_ = f.d.Shared.SetBootCount(0)
	f.state = stateJumped
	f.logf(slog.LevelInfo, "fsm: jumping to application", "entry", hdr.ImageAddr)
	f.d.Jumper.JumpToApp(hdr.ImageAddr)
}

// HandleMessage dispatches one already-reassembled, already
// source-filtered frame into the FSM and returns the response to
// send, if any. now is used to refresh Flash's inter-byte activity
// clock and to stamp new state entries.
func (f *FSM) HandleMessage(cmd frame.Command, payload []byte, now time.Time) Response {
	if f.state == stateJumped {
		return Response{}
	}

	// Info is valid in every state and never changes it.
	if cmd == frame.CmdInfo {
		return f.handleInfo()
	}

	switch f.state {
	case StateIdle:
		return f.handleIdle(cmd, now)
	case StatePrepare:
		return f.handlePrepare(cmd, payload, now)
	case StateFlash:
		return f.handleFlash(cmd, payload, now)
	case StateExit:
		return f.handleExit(cmd, now)
	default:
		return Response{}
	}
}

func (f *FSM) handleInfo() Response {
	var payload [4]byte
	putUint32LE(payload[:], f.d.BootVersion)
	return Response{Send: true, Command: frame.CmdInfoRsp, Status: hal.MsgOK, Payload: payload[:]}
}

func (f *FSM) handleIdle(cmd frame.Command, now time.Time) Response {
	if cmd != frame.CmdConnect {
		return Response{Send: true, Command: frame.CmdConnectRsp, Status: hal.MsgInvalidRequest}
	}
	_ = f.d.Shared.SetBootReason(sharedmem.ReasonCom)
	f.enterPrepare(now)
	return Response{Send: true, Command: frame.CmdConnectRsp, Status: hal.MsgOK}
}

func (f *FSM) handlePrepare(cmd frame.Command, payload []byte, now time.Time) Response {
	if cmd != frame.CmdPrepare {
		f.abortToIdle(now, "unexpected message in prepare")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgInvalidRequest}
	}
	if len(payload) != image.HeaderSize {
		f.abortToIdle(now, "prepare payload wrong size")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgInvalidRequest}
	}

	hdr, err := image.Unmarshal(payload)
	if err != nil || !image.CheckCRC(payload) {
		f.abortToIdle(now, "prepare header invalid")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgValidation}
	}

	status := f.precheckHeader(hdr)
	if status != hal.MsgOK {
		f.abortToIdle(now, "prepare precheck failed")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: status}
	}

	if err := f.d.Flasher.Prepare(f.d.Limits.AppHeaderAddr, f.d.Limits.MaxImageSize); err != nil {
		f.abortToIdle(now, "prepare erase failed")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgFlashErase}
	}

	headerBytes := hdr.Marshal()
	sess := flashio.NewSession(f.d.Limits.AppHeaderAddr+image.HeaderSize, hdr.ImageSize)
	if err := writeHeader(f.d.Flasher, f.d.Limits.AppHeaderAddr, headerBytes[:]); err != nil {
		f.abortToIdle(now, "prepare header write failed")
		return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgFlashWrite}
	}

	f.enterFlash(now, sess)
	return Response{Send: true, Command: frame.CmdPrepareRsp, Status: hal.MsgOK}
}

func (f *FSM) handleFlash(cmd frame.Command, payload []byte, now time.Time) Response {
	f.lastActivity = now

	if cmd != frame.CmdFlash || len(payload) == 0 {
		f.abortToIdle(now, "unexpected message in flash")
		return Response{Send: true, Command: frame.CmdFlashRsp, Status: hal.MsgInvalidRequest}
	}

	if err := f.d.Flasher.Write(&f.sess, payload); err != nil {
		f.abortToIdle(now, "flash write failed")
		return Response{Send: true, Command: frame.CmdFlashRsp, Status: hal.MsgFlashWrite}
	}

	if f.sess.Done() {
		f.enterExit(now)
	}
	return Response{Send: true, Command: frame.CmdFlashRsp, Status: hal.MsgOK}
}

func (f *FSM) handleExit(cmd frame.Command, now time.Time) Response {
	if cmd != frame.CmdExit {
		f.abortToIdle(now, "unexpected message in exit")
		return Response{Send: true, Command: frame.CmdExitRsp, Status: hal.MsgInvalidRequest}
	}

	hdr, err := f.d.Store.Validate()
	if err != nil {
		f.abortToIdle(now, "post-flash validation failed")
		return Response{Send: true, Command: frame.CmdExitRsp, Status: hal.MsgValidation}
	}

	f.pendingJump = true
	f.pendingJumpAt = now.Add(f.d.Timeouts.ExitDrain)
	f.pendingJumpHdr = hdr
	return Response{Send: true, Command: frame.CmdExitRsp, Status: hal.MsgOK}
}

// precheckHeader runs every check spec.md §4.7's Prepare handler
// requires before committing an image — size, downgrade, hardware
// version, and, for a signed image, the ECDSA signature itself against
// the header's own hash field — OR-ing every failing bit together the
// way the original bootloader's msg_status |= chain does, so a host
// sees every violated constraint at once. Signature verification is
// possible this early because the signature and the hash it covers
// both arrive in the Prepare payload; the body has not been flashed
// yet and does not need to be for this check.
func (f *FSM) precheckHeader(hdr image.Header) hal.MsgStatus {
	var status hal.MsgStatus

	if hdr.ImageType != image.ImageTypeApp {
		status |= hal.MsgInvalidRequest
	}
	if hdr.ImageSize > f.d.Limits.MaxImageSize {
		status |= hal.MsgFwSize
	}
	if f.d.Policy.EnforceDowngrade {
		if installed, err := f.d.Store.ReadHeader(); err == nil && hdr.SWVer <= installed.SWVer {
			status |= hal.MsgFwVersion
		}
	}
	if f.d.Policy.EnforceHWVersion && hdr.HWVer > f.d.Limits.HWVersion {
		status |= hal.MsgHwVersion
	}
	if f.d.Policy.RequireSignature && hdr.SigType != image.SigTypeECDSA {
		status |= hal.MsgSignature
	}
	if hdr.SigType == image.SigTypeECDSA {
		if err := f.d.Store.VerifyHeaderSignature(hdr); err != nil {
			status |= hal.MsgSignature
		}
	}

	return status
}

// writeHeader lays down the 256-byte image header directly, bypassing
// any configured body decryptor: the header is never encrypted even
// when RequireDecrypt enables decryption of the body chunks that
// follow it.
func writeHeader(flasher *flashio.Orchestrator, addr uint32, headerBytes []byte) error {
	sess := flashio.NewSession(addr, uint32(len(headerBytes)))
	return flasher.WriteRaw(&sess, headerBytes)
}

func putUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
