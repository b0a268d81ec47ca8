// Package resetctl runs the sequence a device executes once at reset,
// before the ordinary service loop takes over: initializing shared
// memory, applying the boot-counter-forces-COM policy, and — when
// nothing says otherwise — opening a short back-door window that lets
// a host interrupt an otherwise-automatic jump to the application
// (spec.md §4.8).
package resetctl

import (
	"time"

	"github.com/openenterprise/fwboot/internal/hal"
	"github.com/openenterprise/fwboot/internal/image"
	"github.com/openenterprise/fwboot/internal/sharedmem"
)

// Deps bundles resetctl's collaborators and configuration.
type Deps struct {
	Shared           *sharedmem.Manager
	Store            *image.Store
	Jumper           hal.Jumper
	BootVersion      uint32
	WaitAtStartup    time.Duration
	BootCounterLimit uint8
}

// Controller drives the reset-time decision and the startup back-door
// window that follows it.
type Controller struct {
	d              Deps
	windowOpen     bool
	windowDeadline time.Time
	jumped         bool
}

// New runs the reset-time sequence once: shared-memory init, the
// boot-counter policy (force reason=Com and poison the header once the
// counter reaches its limit), then decides whether a back-door window
// should open at all. The window only opens when boot_reason is still
// None and the installed image validates; any other outcome leaves the
// device to fall straight through to the ordinary, indefinite service
// loop, exactly as spec.md §4.8 describes.
func New(d Deps, now time.Time) *Controller {
	c := &Controller{d: d}
	c.d.Shared.Init(d.BootVersion)

	if cnt, err := c.d.Shared.GetBootCount(); err == nil && cnt >= d.BootCounterLimit {
		_ = c.d.Shared.SetBootReason(sharedmem.ReasonCom)
		_ = c.d.Store.EraseHeader()
	}

	reason, err := c.d.Shared.GetBootReason()
	if err != nil {
		// A corrupted shared-memory record cannot be trusted to mean
		// "clean boot" — stay in the bootloader.
		return c
	}
	if reason != sharedmem.ReasonNone {
		return c
	}

	if _, err := c.d.Store.Validate(); err != nil {
		return c
	}

	c.windowOpen = true
	c.windowDeadline = now.Add(d.WaitAtStartup)
	return c
}

// WindowOpen reports whether the startup back-door window is still
// pending a decision.
func (c *Controller) WindowOpen() bool { return c.windowOpen }

// Tick advances the back-door window. While it is open, any Connect
// message the FSM has handled will already have set boot_reason to Com
// (sharedmem is the shared signal, not a direct call between the two
// packages) — the next Tick sees that and closes the window without
// ever reaching the deadline. Once the deadline passes with boot_reason
// still None, Tick re-validates the image and jumps. Returns true once
// the jump primitive has actually been invoked.
func (c *Controller) Tick(now time.Time) bool {
	if c.jumped {
		return true
	}
	if !c.windowOpen {
		return false
	}

	reason, err := c.d.Shared.GetBootReason()
	if err != nil || reason != sharedmem.ReasonNone {
		c.windowOpen = false
		return false
	}

	if now.Before(c.windowDeadline) {
		return false
	}

	hdr, err := c.d.Store.Validate()
	if err != nil {
		c.windowOpen = false
		return false
	}

	_ = c.d.Shared.SetBootCount(0)
	c.windowOpen = false
	c.jumped = true
	c.d.Jumper.JumpToApp(hdr.ImageAddr)
	return true
}
