// Package parser reassembles frames from a byte-oriented transport one
// drained byte at a time, per spec.md §4.4: a three-state reassembler
// (Idle, RcvHeader, RcvPayload) with a fixed per-frame inter-byte
// inactivity deadline. The parser is single-threaded and not
// reentrant; callers poll it from one place only.
package parser

import (
	"encoding/binary"
	"time"

	"github.com/openenterprise/fwboot/internal/frame"
	"github.com/openenterprise/fwboot/internal/hal"
)

// ReportKind classifies the outcome of a single Poll call.
type ReportKind uint8

const (
	// ReportEmpty means the transport had no more bytes to drain this
	// call and no frame is ready.
	ReportEmpty ReportKind = iota
	// ReportOk means a frame was fully reassembled and its CRC matched.
	ReportOk
	// ReportOverrun means the reassembly buffer filled before a frame
	// completed; the buffer was discarded.
	ReportOverrun
	// ReportTimeout means the inter-byte inactivity window elapsed
	// mid-frame; the buffer was discarded.
	ReportTimeout
	// ReportCrc means a complete frame was reassembled but its CRC did
	// not match.
	ReportCrc
)

func (k ReportKind) String() string {
	switch k {
	case ReportEmpty:
		return "empty"
	case ReportOk:
		return "ok"
	case ReportOverrun:
		return "overrun"
	case ReportTimeout:
		return "timeout"
	case ReportCrc:
		return "crc"
	default:
		return "unknown"
	}
}

// Report is the result of one Poll call.
type Report struct {
	Kind    ReportKind
	Header  frame.Header
	Payload []byte
}

type state uint8

const (
	stateIdle state = iota
	stateRcvHeader
	stateRcvPayload
	stateBadPreamble // header complete, preamble wrong: drain and wait for timeout
)

// InterByteTimeout is the fixed inactivity window between any two
// consecutive bytes of a frame (spec.md §4.4).
const InterByteTimeout = 20 * time.Millisecond

// Parser reassembles frames drained from a hal.Transport.
type Parser struct {
	transport hal.Transport
	clock     hal.Clock
	timeout   time.Duration

	buf    []byte
	idx    int
	length uint16
	state  state

	lastByte     time.Time
	haveLastByte bool
}

// New builds a Parser over transport with a reassembly buffer sized
// for frame.HeaderSize+maxPayload bytes. timeout overrides
// InterByteTimeout when non-zero, for tests that want to compress
// time.
func New(transport hal.Transport, clock hal.Clock, maxPayload int, timeout time.Duration) *Parser {
	if timeout == 0 {
		timeout = InterByteTimeout
	}
	return &Parser{
		transport: transport,
		clock:     clock,
		timeout:   timeout,
		buf:       make([]byte, frame.HeaderSize+maxPayload),
	}
}

func (p *Parser) reset() {
	p.idx = 0
	p.length = 0
	p.state = stateIdle
	p.haveLastByte = false
}

// Poll reads bytes from the transport until a report is produced and
// returns it: a completed frame (Ok or Crc), a buffer overrun, a
// timeout, or Empty if the transport ran dry without completing
// anything. Bytes after the one that produced a report stay in the
// transport for the next call. Call Poll repeatedly from one place; it is not
// safe to call concurrently.
func (p *Parser) Poll() Report {
	for {
		if p.haveLastByte && p.state != stateIdle {
			if p.clock.Now().Sub(p.lastByte) > p.timeout {
				p.reset()
				return Report{Kind: ReportTimeout}
			}
		}

		b, ok := p.transport.RxByte()
		if !ok {
			return Report{Kind: ReportEmpty}
		}
		p.lastByte = p.clock.Now()
		p.haveLastByte = true

		if p.state == stateBadPreamble {
			// Desync recovery relies entirely on the inactivity gap;
			// bytes received while waiting for it are not buffered.
			continue
		}

		if p.idx >= len(p.buf) {
			p.reset()
			return Report{Kind: ReportOverrun}
		}
		p.buf[p.idx] = b
		p.idx++

		switch p.state {
		case stateIdle:
			p.state = stateRcvHeader

		case stateRcvHeader:
			if p.idx < frame.HeaderSize {
				continue
			}
			preamble := binary.LittleEndian.Uint16(p.buf[0:2])
			if preamble != frame.Preamble {
				p.state = stateBadPreamble
				continue
			}
			p.length = binary.LittleEndian.Uint16(p.buf[2:4])
			if int(p.length) > len(p.buf)-frame.HeaderSize {
				p.reset()
				return Report{Kind: ReportOverrun}
			}
			if p.length == 0 {
				if r, done := p.deliver(); done {
					return r
				}
				continue
			}
			p.state = stateRcvPayload

		case stateRcvPayload:
			if p.idx < frame.HeaderSize+int(p.length) {
				continue
			}
			if r, done := p.deliver(); done {
				return r
			}
		}
	}
}

// deliver decodes the reassembled buffer and resets the parser for
// the next frame, whether or not the decode succeeded.
func (p *Parser) deliver() (Report, bool) {
	hdr, payload, err := frame.Decode(p.buf[:p.idx])
	p.reset()
	if err != nil {
		return Report{Kind: ReportCrc}, true
	}
	return Report{Kind: ReportOk, Header: hdr, Payload: append([]byte(nil), payload...)}, true
}
