// Package fwboot is the single owned aggregate that wires the
// bootloader's pieces together: the wire parser, the state machine,
// the reset-time controller, and the shared HAL they all depend on.
// DESIGN.md's M14 entry describes exactly this — one
// `&mut self`-style struct rather than a web of free functions passing
// state around — following the teacher's pattern of a single owning
// struct that composes independently-testable collaborators behind a
// couple of entry points.
package fwboot

import (
	"log/slog"
	"time"

	"github.com/openenterprise/fwboot/internal/flashio"
	"github.com/openenterprise/fwboot/internal/frame"
	"github.com/openenterprise/fwboot/internal/fsm"
	"github.com/openenterprise/fwboot/internal/hal"
	"github.com/openenterprise/fwboot/internal/image"
	"github.com/openenterprise/fwboot/internal/parser"
	"github.com/openenterprise/fwboot/internal/resetctl"
	"github.com/openenterprise/fwboot/internal/sharedmem"

	"github.com/openenterprise/fwboot/cfg"
)

// Config bundles everything a Bootloader needs from its caller: the
// platform collaborators, the shared-memory bytes both the reset-time
// controller and the FSM read and write, and the effective
// configuration.
type Config struct {
	Flash     hal.FlashDevice
	Transport hal.Transport
	Clock     hal.Clock
	Watchdog  hal.Watchdog
	Jumper    hal.Jumper
	Keys      hal.PublicKeyProvider
	Decryptor hal.Decryptor

	SharedMem []byte // must be exactly sharedmem.RegionSize bytes

	BootVersion uint32
	Timeouts    cfg.Timeouts
	Policy      cfg.Policy
	Limits      cfg.Limits

	Log *slog.Logger
}

// Bootloader owns every piece of bootloader state for one device: the
// shared-memory record, the wire parser, the boot state machine, and
// the reset-time controller. Callers drive it with Reset once at
// startup and Tick thereafter; everything else is internal wiring.
type Bootloader struct {
	shared *sharedmem.Manager
	store  *image.Store
	cfg    Config

	parser *parser.Parser
	fsm    *fsm.FSM
	reset  *resetctl.Controller

	sendBuf []byte
}

// New builds a Bootloader from c. It does not run the reset-time
// sequence; call Reset once the caller is ready to hand control to it.
func New(c Config) (*Bootloader, error) {
	shared, err := sharedmem.New(c.SharedMem)
	if err != nil {
		return nil, err
	}

	store := image.NewStore(c.Flash, c.Limits.AppHeaderAddr, c.Keys)
	var dec hal.Decryptor
	if c.Policy.RequireDecrypt {
		dec = c.Decryptor
	}
	flasher := flashio.New(c.Flash, c.Watchdog, dec, c.Limits.MaxPayload)
	prs := parser.New(c.Transport, c.Clock, c.Limits.MaxPayload, c.Timeouts.InterByte)

	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	c.Log = log

	f := fsm.New(fsm.Deps{
		Shared:      shared,
		Store:       store,
		Flasher:     flasher,
		Jumper:      c.Jumper,
		Clock:       c.Clock,
		Timeouts:    c.Timeouts,
		Policy:      c.Policy,
		Limits:      c.Limits,
		BootVersion: c.BootVersion,
		Log:         log,
	}, c.Clock.Now())

	return &Bootloader{
		shared: shared,
		store:  store,
		cfg:    c,
		parser: prs,
		fsm:    f,
	}, nil
}

// Reset runs the reset-time sequence (shared-memory init, the
// boot-counter policy, and the conditional startup back-door window).
// Call this once, before the first Tick.
func (b *Bootloader) Reset(now time.Time) {
	b.reset = resetctl.New(resetctl.Deps{
		Shared:           b.shared,
		Store:            b.store,
		Jumper:           b.cfg.Jumper,
		BootVersion:      b.cfg.BootVersion,
		WaitAtStartup:    b.cfg.Timeouts.WaitAtStart,
		BootCounterLimit: b.cfg.Limits.BootCounterLimit,
	}, now)
}

// Tick advances the parser, the reset-time controller, and the FSM by
// one step: one parser Poll (which reads buffered bytes until it
// produces a report or the transport runs dry) and sending any
// response the FSM produces. It returns true once a jump to the
// application has been committed — by the reset-time window, the
// FSM's idle-jump path, or the FSM's jump after a successful Exit — at which point
// the caller must stop calling Tick (the jump itself does not return).
func (b *Bootloader) Tick(now time.Time) bool {
	if b.reset != nil && b.reset.Tick(now) {
		return true
	}

	report := b.parser.Poll()
	switch report.Kind {
	case parser.ReportOk:
		if report.Header.IsFrom(frame.SourceBootloader) {
			// Frames from the bootloader's own source code are never
			// valid inbound requests: reject silently rather than
			// acting on an echo or a misrouted link.
			break
		}
		resp := b.fsm.HandleMessage(report.Header.Command, report.Payload, now)
		b.send(resp)
	case parser.ReportCrc, parser.ReportTimeout, parser.ReportOverrun:
		b.cfg.Log.Warn("fwboot:frame-rejected", slog.String("reason", report.Kind.String()))
	}

	return b.fsm.Tick(now)
}

func (b *Bootloader) send(resp fsm.Response) {
	if !resp.Send {
		return
	}
	b.sendBuf = frame.Encode(b.sendBuf[:0], frame.SourceBootloader, resp.Command, resp.Status, resp.Payload)
	if err := b.cfg.Transport.Tx(b.sendBuf); err != nil {
		b.cfg.Log.Warn("fwboot:tx-failed", slog.String("err", err.Error()))
	}
}

// State reports the FSM's current state, mainly for diagnostics.
func (b *Bootloader) State() fsm.State { return b.fsm.State() }
