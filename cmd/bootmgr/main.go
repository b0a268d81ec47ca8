// Command bootmgr is the host side of the wire protocol implemented by
// package fwboot: it connects to a device's bootloader over TCP, drives
// a connect/prepare/flash/exit session, and can sign an image body for
// a device that requires it.
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/openenterprise/fwboot/internal/crc"
	"github.com/openenterprise/fwboot/internal/frame"
	"github.com/openenterprise/fwboot/internal/hal"
	"github.com/openenterprise/fwboot/internal/image"
)

const (
	defaultPort    = "4242"
	dialTimeout    = 5 * time.Second
	readTimeout    = 10 * time.Second
	flashChunkSize = 256
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "push":
		err = runPush(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "bootmgr: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  bootmgr push -host <ip> [-port 4242] <image.bin>
  bootmgr info -host <ip> [-port 4242]
  bootmgr sign [-key <keyfile>] [-sw-ver M.m.p] [-hw-ver M.m.p] [-addr <load-addr>] <image.bin> <out.bin>`)
}

// session wraps a TCP connection with the framing helpers every
// subcommand that talks to a device needs: send one frame, then block
// for exactly one reply frame.
type session struct {
	conn net.Conn
	buf  []byte
	rx   []byte
}

func dial(host, port string) (*session, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &session{conn: conn, rx: make([]byte, frame.HeaderSize+4096)}, nil
}

func (s *session) Close() error { return s.conn.Close() }

func (s *session) roundTrip(cmd frame.Command, payload []byte) (frame.Header, []byte, error) {
	s.buf = frame.Encode(s.buf[:0], frame.SourceBootManager, cmd, hal.MsgOK, payload)
	if _, err := s.conn.Write(s.buf); err != nil {
		return frame.Header{}, nil, fmt.Errorf("write: %w", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := io.ReadAtLeast(s.conn, s.rx, frame.HeaderSize)
	if err != nil {
		return frame.Header{}, nil, fmt.Errorf("read header: %w", err)
	}

	hdr, body, err := frame.Decode(s.rx[:n])
	for err == frame.ErrShort {
		var more int
		more, err = s.conn.Read(s.rx[n:])
		if err != nil {
			return frame.Header{}, nil, fmt.Errorf("read body: %w", err)
		}
		n += more
		hdr, body, err = frame.Decode(s.rx[:n])
	}
	if err != nil {
		return frame.Header{}, nil, fmt.Errorf("decode: %w", err)
	}
	if !hdr.IsFrom(frame.SourceBootloader) {
		return frame.Header{}, nil, fmt.Errorf("reply from unexpected source %#x", hdr.Source)
	}
	return hdr, body, nil
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	host := fs.String("host", "", "device address (required)")
	port := fs.String("port", defaultPort, "device port")
	fs.Parse(args)

	if *host == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: bootmgr push -host <ip> [-port %s] <image.bin>", defaultPort)
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if len(raw) < image.HeaderSize {
		return fmt.Errorf("image file too short to contain a header")
	}
	hdr, err := image.Unmarshal(raw[:image.HeaderSize])
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	body := raw[image.HeaderSize:]
	if uint32(len(body)) != hdr.ImageSize {
		return fmt.Errorf("header declares %d body bytes, file has %d", hdr.ImageSize, len(body))
	}

	sess, err := dial(*host, *port)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := expect(sess, frame.CmdConnect, nil, frame.CmdConnectRsp); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	preparePayload := preparePayload(hdr)
	if err := expect(sess, frame.CmdPrepare, preparePayload, frame.CmdPrepareRsp); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	total := len(body)
	sent := 0
	for sent < total {
		end := sent + flashChunkSize
		if end > total {
			end = total
		}
		if err := expect(sess, frame.CmdFlash, body[sent:end], frame.CmdFlashRsp); err != nil {
			return fmt.Errorf("flash chunk at offset %d: %w", sent, err)
		}
		sent = end
		fmt.Printf("\r[%3d%%] %d/%d bytes", sent*100/total, sent, total)
	}
	fmt.Println()

	if err := expect(sess, frame.CmdExit, nil, frame.CmdExitRsp); err != nil {
		return fmt.Errorf("exit: %w", err)
	}

	fmt.Println("Image accepted, device is exiting to the application.")
	return nil
}

func preparePayload(hdr image.Header) []byte {
	buf := hdr.Marshal()
	return buf[:]
}

// expect round-trips cmd with payload and requires the reply to be
// wantCmd with MsgOK status.
func expect(sess *session, cmd frame.Command, payload []byte, wantCmd frame.Command) error {
	rspHdr, rspBody, err := sess.roundTrip(cmd, payload)
	if err != nil {
		return err
	}
	if rspHdr.Command != wantCmd {
		return fmt.Errorf("got command %#x, want %#x", rspHdr.Command, wantCmd)
	}
	if rspHdr.Status != hal.MsgOK {
		return fmt.Errorf("device rejected request: status %#x, body %x", rspHdr.Status, rspBody)
	}
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	host := fs.String("host", "", "device address (required)")
	port := fs.String("port", defaultPort, "device port")
	fs.Parse(args)

	if *host == "" {
		return fmt.Errorf("usage: bootmgr info -host <ip> [-port %s]", defaultPort)
	}

	sess, err := dial(*host, *port)
	if err != nil {
		return err
	}
	defer sess.Close()

	hdr, body, err := sess.roundTrip(frame.CmdInfo, nil)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if hdr.Command != frame.CmdInfoRsp || hdr.Status != hal.MsgOK {
		return fmt.Errorf("device rejected info request: status %#x", hdr.Status)
	}

	fmt.Printf("reply: %d bytes\n%x\n", len(body), body)
	return nil
}

// runSign builds a 256-byte image header for the given body: it fills
// in the size, versions and CRC, optionally signs the body with an
// ECDSA/secp256k1 private key, and writes header+body to the output
// path.
func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyPath := fs.String("key", "", "private key file (32 raw bytes); omit for an unsigned image")
	swVer := fs.String("sw-ver", "0.0.0", "software version, major.minor.patch")
	hwVer := fs.String("hw-ver", "0.0.0", "target hardware version, major.minor.patch")
	imageAddr := fs.Uint("addr", 0, "image load address")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("usage: bootmgr sign [-key keyfile] -sw-ver M.m.p -hw-ver M.m.p <image.bin> <out.bin>")
	}

	body, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	sw, err := parseVersion(*swVer)
	if err != nil {
		return fmt.Errorf("sw-ver: %w", err)
	}
	hw, err := parseVersion(*hwVer)
	if err != nil {
		return fmt.Errorf("hw-ver: %w", err)
	}

	hdr := image.Header{
		ImageAddr: uint32(*imageAddr),
		ImageSize: uint32(len(body)),
		SWVer:     sw,
		HWVer:     hw,
		ImageType: image.ImageTypeApp,
		SigType:   image.SigTypeNone,
		Ver:       image.HeaderVersion,
		ImageCRC:  crc32Of(body),
		Hash:      sha256.Sum256(body),
	}

	if *keyPath != "" {
		priv, err := loadPrivateKey(*keyPath)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(body)
		sig := ecdsa.Sign(priv, digest[:])
		r := sig.R().Bytes()
		sVal := sig.S().Bytes()
		copy(hdr.Signature[0:32], r[:])
		copy(hdr.Signature[32:64], sVal[:])
		hdr.SigType = image.SigTypeECDSA
	}

	out := hdr.Marshal()
	full := append(out[:], body...)
	if err := os.WriteFile(fs.Arg(1), full, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Printf("wrote %s: %d header + %d body bytes, sig_type=%d\n", fs.Arg(1), image.HeaderSize, len(body), hdr.SigType)
	return nil
}

func crc32Of(body []byte) uint32 {
	return crc.CRC32(body)
}

func parseVersion(s string) (uint32, error) {
	var major, minor, patch uint8
	n, err := fmt.Sscanf(s, "%d.%d.%d", &major, &minor, &patch)
	if err != nil || n != 3 {
		return 0, fmt.Errorf("expected M.m.p, got %q", s)
	}
	return uint32(major)<<16 | uint32(minor)<<8 | uint32(patch), nil
}

// loadPrivateKey reads a 32-byte raw secp256k1 scalar from path,
// prompting for a passphrase to decrypt it if the file is an
// age-less XOR-obfuscated key (flagged by a one-byte 0x01 prefix)
// rather than a bare key.
func loadPrivateKey(path string) (*secp256k1.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if len(raw) == 33 && raw[0] == 0x01 {
		pass, err := promptPassphrase()
		if err != nil {
			return nil, err
		}
		raw = unwrapKey(raw[1:], pass)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key file must be 32 raw bytes, got %d", len(raw))
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	return priv, nil
}

// unwrapKey derives a one-time pad from pass via SHA-256 and XORs it
// over the stored key. This is a simple local-file obfuscation, not a
// cryptographic key-wrap scheme; it only raises the bar against a
// casual read of the signing key file.
func unwrapKey(wrapped []byte, pass string) []byte {
	pad := sha256.Sum256([]byte(pass))
	out := make([]byte, len(wrapped))
	for i := range wrapped {
		out[i] = wrapped[i] ^ pad[i%len(pad)]
	}
	return out
}

func promptPassphrase() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("key file is passphrase-protected but stdin is not a terminal")
	}
	fmt.Print("Key passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(pass), nil
}

