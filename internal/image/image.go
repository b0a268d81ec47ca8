// Package image reads, validates, and poisons the 256-byte application
// image header at the front of the application flash region, and
// validates the image body behind it, per spec.md §4.5.
package image

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/openenterprise/fwboot/internal/crc"
	"github.com/openenterprise/fwboot/internal/hal"
)

// HeaderSize is the fixed size of the image header in bytes.
const HeaderSize = 256

// crcStart/crcEnd bound the slice the header CRC-8 covers: the version
// field through one byte before the final CRC byte (spec.md §4.5,
// SPEC_FULL.md §3).
const (
	crcStart = 18
	crcEnd   = HeaderSize - 1
)

// Byte offsets within the 256-byte header.
const (
	offImageAddr = 0
	offImageSize = 4
	offSWVer     = 8
	offHWVer     = 12
	offImageType = 16
	offSigType   = 17
	offVer       = 18
	// offReservedA, 19: padding byte, zero.
	offImageCRC  = 20
	offHash      = 24
	offSignature = 56
	// offReservedB, 120..254: reserved, zero.
	offCRC = 255
)

// ImageType identifies the payload kind a header describes.
type ImageType uint8

const ImageTypeApp ImageType = 0

// SigType selects how the body behind the header is authenticated.
type SigType uint8

const (
	SigTypeNone  SigType = 0
	SigTypeECDSA SigType = 1
)

// HeaderVersion is the current header layout version written when
// building a new header (used by signing tooling, not by the device).
const HeaderVersion = 1

var (
	// ErrHeaderCRC means the header's own CRC-8 did not match.
	ErrHeaderCRC = errors.New("image: header crc mismatch")
	// ErrBadImageType means image_type is not a type this bootloader runs.
	ErrBadImageType = errors.New("image: unsupported image type")
	// ErrBadSigType means sig_type names a validation method this
	// bootloader does not implement.
	ErrBadSigType = errors.New("image: unsupported signature type")
	// ErrBodyCRC means the unsigned body's CRC-32 did not match image_crc.
	ErrBodyCRC = errors.New("image: body crc mismatch")
	// ErrBadPublicKey means the configured public key is not a valid
	// point on secp256k1.
	ErrBadPublicKey = errors.New("image: invalid public key")
	// ErrBadSignature means ECDSA verification failed.
	ErrBadSignature = errors.New("image: signature invalid")
)

// Header is the application image header (spec.md §3, §4.5).
type Header struct {
	ImageAddr uint32
	ImageSize uint32
	SWVer     uint32
	HWVer     uint32
	ImageType ImageType
	SigType   SigType
	Ver       uint8
	ImageCRC  uint32
	Hash      [32]byte
	Signature [64]byte
}

// Marshal encodes h into a HeaderSize-byte buffer, computing and
// writing the trailing header CRC-8.
func (h Header) Marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[offImageAddr:], h.ImageAddr)
	binary.LittleEndian.PutUint32(buf[offImageSize:], h.ImageSize)
	binary.LittleEndian.PutUint32(buf[offSWVer:], h.SWVer)
	binary.LittleEndian.PutUint32(buf[offHWVer:], h.HWVer)
	buf[offImageType] = byte(h.ImageType)
	buf[offSigType] = byte(h.SigType)
	buf[offVer] = h.Ver
	binary.LittleEndian.PutUint32(buf[offImageCRC:], h.ImageCRC)
	copy(buf[offHash:], h.Hash[:])
	copy(buf[offSignature:], h.Signature[:])
	buf[offCRC] = crc.CRC8(buf[crcStart:crcEnd])
	return buf
}

// Unmarshal parses a HeaderSize-byte buffer into a Header without
// checking the header CRC; callers needing CRC validation should call
// CheckCRC or go through ReadHeader.
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, errors.New("image: header must be exactly 256 bytes")
	}
	var h Header
	h.ImageAddr = binary.LittleEndian.Uint32(buf[offImageAddr:])
	h.ImageSize = binary.LittleEndian.Uint32(buf[offImageSize:])
	h.SWVer = binary.LittleEndian.Uint32(buf[offSWVer:])
	h.HWVer = binary.LittleEndian.Uint32(buf[offHWVer:])
	h.ImageType = ImageType(buf[offImageType])
	h.SigType = SigType(buf[offSigType])
	h.Ver = buf[offVer]
	h.ImageCRC = binary.LittleEndian.Uint32(buf[offImageCRC:])
	copy(h.Hash[:], buf[offHash:offHash+32])
	copy(h.Signature[:], buf[offSignature:offSignature+64])
	return h, nil
}

// CheckCRC reports whether buf's trailing CRC-8 byte matches the
// header fields it covers.
func CheckCRC(buf []byte) bool {
	if len(buf) != HeaderSize {
		return false
	}
	return buf[offCRC] == crc.CRC8(buf[crcStart:crcEnd])
}

// Store is the flash-level view the validator reads headers and image
// bodies from and erases headers through.
type Store struct {
	flash         hal.FlashDevice
	headerAddr    uint32
	publicKeyFunc hal.PublicKeyProvider
}

// NewStore builds a Store reading the image header at headerAddr, with
// the body immediately following it, using flash for reads/erases and
// keys for ECDSA verification.
func NewStore(flash hal.FlashDevice, headerAddr uint32, keys hal.PublicKeyProvider) *Store {
	return &Store{flash: flash, headerAddr: headerAddr, publicKeyFunc: keys}
}

// ReadHeader reads and CRC-validates the header. It does not validate
// the body.
func (s *Store) ReadHeader() (Header, error) {
	var buf [HeaderSize]byte
	if err := s.flash.Read(s.headerAddr, HeaderSize, buf[:]); err != nil {
		return Header{}, err
	}
	if !CheckCRC(buf[:]) {
		return Header{}, ErrHeaderCRC
	}
	return Unmarshal(buf[:])
}

// EraseHeader poisons the header so a subsequent reset finds no valid
// application and stays in the bootloader (spec.md §4.5, §9 glossary
// "poison the header").
func (s *Store) EraseHeader() error {
	return s.flash.Erase(s.headerAddr, HeaderSize)
}

// Validate runs the full image-validation pipeline: header CRC, image
// type, then body validation per sig_type. A header that cannot be
// read or fails its CRC is reported without erasing anything; an image
// type or body failure poisons the header, matching the original
// bootloader's re-flash-enabling behavior on a corrupt image.
func (s *Store) Validate() (Header, error) {
	hdr, err := s.ReadHeader()
	if err != nil {
		return Header{}, err
	}

	if err := s.validateBody(hdr); err != nil {
		_ = s.EraseHeader()
		return Header{}, err
	}
	return hdr, nil
}

func (s *Store) validateBody(hdr Header) error {
	if hdr.ImageType != ImageTypeApp {
		return ErrBadImageType
	}

	bodyAddr := s.headerAddr + HeaderSize
	body := make([]byte, hdr.ImageSize)
	if err := s.flash.Read(bodyAddr, hdr.ImageSize, body); err != nil {
		return err
	}

	switch hdr.SigType {
	case SigTypeNone:
		if crc.CRC32(body) != hdr.ImageCRC {
			return ErrBodyCRC
		}
		return nil

	case SigTypeECDSA:
		return s.verifySignature(hdr, body)

	default:
		return ErrBadSigType
	}
}

func (s *Store) verifySignature(hdr Header, body []byte) error {
	digest := sha256.Sum256(body)
	return s.verifyDigest(hdr, digest[:])
}

// VerifyHeaderSignature checks hdr.Signature against hdr.Hash — the
// hash the Boot Manager stamped into the header at build time, not one
// recomputed from a flashed body. It lets a Prepare-time caller reject
// a bad signature before anything has been written to flash, the way
// the reference bootloader's boot_pre_validate_image does: header and
// signature both arrive together in the Prepare payload, so there is
// no need to wait for the body to verify them.
func (s *Store) VerifyHeaderSignature(hdr Header) error {
	return s.verifyDigest(hdr, hdr.Hash[:])
}

func (s *Store) verifyDigest(hdr Header, digest []byte) error {
	rawKey, err := s.publicKeyFunc.PublicKey()
	if err != nil {
		return ErrBadPublicKey
	}

	// Raw 64-byte X||Y is re-prefixed as SEC1 uncompressed so the
	// library can validate the point is actually on the curve.
	var sec1 [65]byte
	sec1[0] = 0x04
	copy(sec1[1:], rawKey[:])
	pubKey, err := secp256k1.ParsePubKey(sec1[:])
	if err != nil {
		return ErrBadPublicKey
	}

	var r, sVal secp256k1.ModNScalar
	if overflow := r.SetByteSlice(hdr.Signature[0:32]); overflow {
		return ErrBadSignature
	}
	if overflow := sVal.SetByteSlice(hdr.Signature[32:64]); overflow {
		return ErrBadSignature
	}
	sig := ecdsa.NewSignature(&r, &sVal)

	if !sig.Verify(digest, pubKey) {
		return ErrBadSignature
	}
	return nil
}
