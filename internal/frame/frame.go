// Package frame implements the bootloader wire frame: an 8-byte header
// (preamble, length, source, command, status, crc) followed by a
// variable-length payload, per spec.md §4.3/§6.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/openenterprise/fwboot/internal/crc"
	"github.com/openenterprise/fwboot/internal/hal"
)

// HeaderSize is the fixed size of the frame header in bytes.
const HeaderSize = 8

// Preamble is the fixed frame-start marker.
const Preamble = 0x07B0

// Source identifies which side of the link originated a frame.
type Source uint8

const (
	SourceBootManager Source = 0x2B
	SourceBootloader  Source = 0xB2
)

// Command is the wire opcode (spec.md §6).
type Command uint8

const (
	CmdConnect    Command = 0x10
	CmdConnectRsp Command = 0x11
	CmdPrepare    Command = 0x20
	CmdPrepareRsp Command = 0x21
	CmdFlash      Command = 0x30
	CmdFlashRsp   Command = 0x31
	CmdExit       Command = 0x40
	CmdExitRsp    Command = 0x41
	CmdInfo       Command = 0xA0
	CmdInfoRsp    Command = 0xA1
)

// Header is the 8-byte frame header.
type Header struct {
	Length  uint16
	Source  Source
	Command Command
	Status  hal.MsgStatus
	CRC     uint8
}

var (
	// ErrBadPreamble is returned by Decode when the preamble field does
	// not match the fixed marker.
	ErrBadPreamble = errors.New("frame: bad preamble")
	// ErrCRC is returned by Decode when the computed CRC does not match
	// the frame's crc field.
	ErrCRC = errors.New("frame: crc mismatch")
	// ErrShort is returned by Decode when raw is shorter than the
	// header plus the declared payload length.
	ErrShort = errors.New("frame: buffer too short")
)

// bodyCRC computes the CRC-8 over the four body fields and payload —
// a single contiguous logical CRC, NOT an XOR of two independently
// seeded CRC-8s (see SPEC_FULL.md §4 for why that construction is
// unsound and was rejected).
func bodyCRC(length uint16, source Source, command Command, status hal.MsgStatus, payload []byte) uint8 {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], length)

	var b crc.CRC8Builder
	b.Write(lenBuf[:])
	b.Write([]byte{byte(source), byte(command), byte(status)})
	b.Write(payload)
	return b.Sum()
}

// Encode appends the wire representation of header+payload to dst and
// returns the result. The length and CRC fields are computed from
// payload and the other arguments; callers do not supply them.
func Encode(dst []byte, source Source, command Command, status hal.MsgStatus, payload []byte) []byte {
	length := uint16(len(payload))
	c := bodyCRC(length, source, command, status, payload)

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], Preamble)
	binary.LittleEndian.PutUint16(hdr[2:4], length)
	hdr[4] = byte(source)
	hdr[5] = byte(command)
	hdr[6] = byte(status)
	hdr[7] = c

	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst
}

// Decode parses a complete frame (header + payload, exactly
// HeaderSize+length bytes) already reassembled by the parser.
// Decode only checks framing integrity (preamble, length, CRC); it
// does not reject frames by source — that policy belongs to the
// dispatcher, since spec.md §6's "a device must reject frames with its
// own source code" is a protocol-level guard, not a framing concern
// (see Header.IsFrom).
func Decode(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderSize {
		return Header{}, nil, ErrShort
	}
	preamble := binary.LittleEndian.Uint16(raw[0:2])
	if preamble != Preamble {
		return Header{}, nil, ErrBadPreamble
	}
	length := binary.LittleEndian.Uint16(raw[2:4])
	if len(raw) < HeaderSize+int(length) {
		return Header{}, nil, ErrShort
	}

	source := Source(raw[4])
	command := Command(raw[5])
	status := hal.MsgStatus(raw[6])
	wireCRC := raw[7]
	payload := raw[HeaderSize : HeaderSize+int(length)]

	want := bodyCRC(length, source, command, status, payload)
	if want != wireCRC {
		return Header{}, nil, ErrCRC
	}

	return Header{
		Length:  length,
		Source:  source,
		Command: command,
		Status:  status,
		CRC:     wireCRC,
	}, payload, nil
}

// IsFrom reports whether the frame's source field equals src.
func (h Header) IsFrom(src Source) bool {
	return h.Source == src
}
