package parser

import (
	"bytes"
	"testing"
	"time"

	"github.com/openenterprise/fwboot/internal/frame"
	"github.com/openenterprise/fwboot/internal/hal"
)

// fakeTransport feeds a fixed byte queue one byte per RxByte call.
type fakeTransport struct {
	rx []byte
}

func (t *fakeTransport) Tx(data []byte) error { return nil }

func (t *fakeTransport) RxByte() (byte, bool) {
	if len(t.rx) == 0 {
		return 0, false
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, true
}

// fakeClock is a manually advanced clock so inter-byte gaps can be
// exercised deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Millis() uint32 { return uint32(c.now.UnixMilli()) }
func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

var _ hal.Transport = (*fakeTransport)(nil)
var _ hal.Clock = (*fakeClock)(nil)

func newParser(rx []byte) (*Parser, *fakeTransport, *fakeClock) {
	tr := &fakeTransport{rx: rx}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, 256, InterByteTimeout)
	return p, tr, clk
}

func TestPollEmptyWhenNoBytes(t *testing.T) {
	p, _, _ := newParser(nil)
	r := p.Poll()
	if r.Kind != ReportEmpty {
		t.Fatalf("Poll() = %v, want Empty", r.Kind)
	}
}

func TestPollDeliversZeroPayloadFrame(t *testing.T) {
	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdConnect, hal.MsgOK, nil)
	p, _, _ := newParser(raw)

	r := p.Poll()
	if r.Kind != ReportOk {
		t.Fatalf("Poll() = %v, want Ok", r.Kind)
	}
	if r.Header.Command != frame.CmdConnect {
		t.Fatalf("Header.Command = %v, want CmdConnect", r.Header.Command)
	}
	if len(r.Payload) != 0 {
		t.Fatalf("Payload = %v, want empty", r.Payload)
	}

	// Parser must be back in Idle: a second Poll on an empty transport
	// reports Empty, not a stale delivery.
	if r2 := p.Poll(); r2.Kind != ReportEmpty {
		t.Fatalf("second Poll() = %v, want Empty", r2.Kind)
	}
}

func TestPollDeliversPayloadFrame(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdFlash, hal.MsgOK, payload)
	p, _, _ := newParser(raw)

	r := p.Poll()
	if r.Kind != ReportOk {
		t.Fatalf("Poll() = %v, want Ok", r.Kind)
	}
	if !bytes.Equal(r.Payload, payload) {
		t.Fatalf("Payload = %v, want %v", r.Payload, payload)
	}
}

func TestPollReportsCrcOnCorruptedFrame(t *testing.T) {
	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdConnect, hal.MsgOK, nil)
	raw[len(raw)-1] ^= 0xFF
	p, _, _ := newParser(raw)

	r := p.Poll()
	if r.Kind != ReportCrc {
		t.Fatalf("Poll() = %v, want Crc", r.Kind)
	}
}

func TestPollOverrunOnBufferFull(t *testing.T) {
	// Buffer sized for 0 extra payload bytes; a header claiming payload
	// forces an overrun the moment length is parsed.
	tr := &fakeTransport{}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, 0, InterByteTimeout)

	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdFlash, hal.MsgOK, []byte{1, 2, 3})
	tr.rx = raw

	r := p.Poll()
	if r.Kind != ReportOverrun {
		t.Fatalf("Poll() = %v, want Overrun", r.Kind)
	}
}

func TestPollOverrunWithoutLengthField(t *testing.T) {
	// A buffer limit smaller than even the header forces overrun while
	// still assembling the header itself.
	tr := &fakeTransport{rx: bytes.Repeat([]byte{0xAA}, 20)}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, -frame.HeaderSize+3, InterByteTimeout) // buffer smaller than HeaderSize

	r := p.Poll()
	if r.Kind != ReportOverrun {
		t.Fatalf("Poll() = %v, want Overrun", r.Kind)
	}
}

// TestBadPreambleWaitsForTimeout exercises spec.md §4.4's explicit
// rule: a bad preamble does not fail immediately, it waits for the
// inactivity window before the parser resets.
func TestBadPreambleWaitsForTimeout(t *testing.T) {
	good := frame.Encode(nil, frame.SourceBootManager, frame.CmdConnect, hal.MsgOK, nil)
	bad := append([]byte(nil), good...)
	bad[0] ^= 0xFF // corrupt preamble low byte

	tr := &fakeTransport{rx: bad}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, 256, InterByteTimeout)

	r := p.Poll()
	if r.Kind != ReportEmpty {
		t.Fatalf("Poll() after bad-preamble header = %v, want Empty (still waiting)", r.Kind)
	}

	clk.advance(InterByteTimeout + time.Millisecond)
	tr.rx = nil // no further bytes; the gap itself triggers the timeout
	r = p.Poll()
	if r.Kind != ReportTimeout {
		t.Fatalf("Poll() after inactivity gap = %v, want Timeout", r.Kind)
	}

	// Parser must have reset cleanly: a fresh good frame now succeeds.
	tr.rx = good
	r = p.Poll()
	if r.Kind != ReportOk {
		t.Fatalf("Poll() after recovery = %v, want Ok", r.Kind)
	}
}

func TestInterByteTimeoutMidFrame(t *testing.T) {
	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdFlash, hal.MsgOK, []byte{1, 2, 3, 4})
	tr := &fakeTransport{}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, 256, InterByteTimeout)

	tr.rx = raw[:4] // stop partway through the header
	if r := p.Poll(); r.Kind != ReportEmpty {
		t.Fatalf("Poll() on partial header = %v, want Empty", r.Kind)
	}

	clk.advance(InterByteTimeout + time.Millisecond)
	if r := p.Poll(); r.Kind != ReportTimeout {
		t.Fatalf("Poll() after mid-frame gap = %v, want Timeout", r.Kind)
	}

	// A clean frame afterward must reassemble normally.
	tr.rx = raw
	if r := p.Poll(); r.Kind != ReportOk {
		t.Fatalf("Poll() after recovery = %v, want Ok", r.Kind)
	}
}

func TestMaxPayloadFrameDelivered(t *testing.T) {
	const maxPayload = 255
	payload := bytes.Repeat([]byte{0x5A}, maxPayload)
	raw := frame.Encode(nil, frame.SourceBootManager, frame.CmdFlash, hal.MsgOK, payload)

	tr := &fakeTransport{rx: raw}
	clk := &fakeClock{now: time.Unix(0, 0)}
	p := New(tr, clk, maxPayload, InterByteTimeout)

	r := p.Poll()
	if r.Kind != ReportOk {
		t.Fatalf("Poll() = %v, want Ok", r.Kind)
	}
	if !bytes.Equal(r.Payload, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(r.Payload), len(payload))
	}
}
