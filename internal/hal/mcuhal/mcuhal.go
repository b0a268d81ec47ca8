//go:build tinygo

// Package mcuhal binds internal/hal's interfaces to the RP2350 running
// TinyGo: ROM flash calls for FlashDevice, a cyw43439+lneto TCP socket
// for Transport, the RP2350 watchdog for Watchdog, and a one-shot
// natiu-mqtt beacon publish fired on entry to the Prepare state.
package mcuhal

import (
	"errors"
	"time"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"
	"machine"

	"github.com/openenterprise/fwboot/internal/rom"
)

// Flash drives the target partition's flash range through the RP2350's
// ROM flash functions rather than machine.Flash, which adds its own
// base offset on top of addr and would double-count it here.
type Flash struct {
	base     uint32
	size     uint32
	pageSize uint32
}

// NewFlash builds a Flash bound to [base, base+size) of raw flash
// offset, typically the inactive partition returned by
// rom.GetPartitionOffset(rom.GetTargetPartition()).
func NewFlash(base, size uint32) *Flash {
	return &Flash{base: base, size: size, pageSize: rom.SectorSize}
}

var errFlashRange = errors.New("mcuhal: access out of range")

func (f *Flash) Read(addr, length uint32, out []byte) error {
	if addr+length > f.size || uint32(len(out)) < length {
		return errFlashRange
	}
	return rom.ReadChunk(f.base+addr, out[:length])
}

func (f *Flash) Erase(addr, length uint32) error {
	if addr+length > f.size {
		return errFlashRange
	}
	for off := uint32(0); off < length; off += rom.SectorSize {
		if err := rom.EraseSector(f.base + addr + off); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flash) Write(addr uint32, data []byte) error {
	if addr+uint32(len(data)) > f.size {
		return errFlashRange
	}
	return rom.WriteChunk(f.base+addr, data)
}

func (f *Flash) PageSize() uint32 { return f.pageSize }

// Transport carries bootloader frames over a TCP connection accepted
// on the device's OTA listen port, mirroring the teacher's ota_server
// accept loop: one connection at a time. NewTransport listens once;
// Close aborts the current connection and nothing here listens again.
type Transport struct {
	conn    tcp.Conn
	rxQueue []byte
}

// NewTransport configures a Transport over the given pre-allocated
// buffers and binds it to stack on port.
func NewTransport(stack *xnet.StackAsync, port uint16, rxBuf, txBuf []byte) (*Transport, error) {
	t := &Transport{}
	if err := t.conn.Configure(tcp.ConnConfig{
		RxBuf:             rxBuf,
		TxBuf:             txBuf,
		TxPacketQueueSize: 2,
	}); err != nil {
		return nil, err
	}
	if err := stack.ListenTCP(&t.conn, port); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) Tx(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

// RxByte drains the connection's receive buffer one byte at a time,
// refilling a small internal queue from the socket as needed.
func (t *Transport) RxByte() (byte, bool) {
	if len(t.rxQueue) == 0 {
		buf := make([]byte, 256)
		n, err := t.conn.Read(buf)
		if err != nil || n == 0 {
			return 0, false
		}
		t.rxQueue = buf[:n]
	}
	b := t.rxQueue[0]
	t.rxQueue = t.rxQueue[1:]
	return b, true
}

// Connected reports whether the underlying TCP connection is
// synchronized with a host, the same check ota_server.go makes before
// handing a session to its protocol handler.
func (t *Transport) Connected() bool { return t.conn.State().IsSynchronized() }

// Close aborts the connection so the next session can start clean.
func (t *Transport) Close() {
	t.conn.Close()
	for i := 0; i < 30 && !t.conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	t.conn.Abort()
}

// Watchdog wraps the RP2350's hardware watchdog timer.
type Watchdog struct{}

// NewWatchdog configures and starts the hardware watchdog with the
// given timeout.
func NewWatchdog(timeout time.Duration) Watchdog {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: uint32(timeout.Milliseconds())})
	machine.Watchdog.Start()
	return Watchdog{}
}

func (Watchdog) Kick() { machine.Watchdog.Update() }

// Clock reads RP2350 ticks via the runtime/machine monotonic clock.
type Clock struct{ boot time.Time }

// NewClock captures boot as the reference instant Now is measured
// from; on real hardware this is whatever time.Now() returns at
// startup, since the device has no RTC of its own.
func NewClock(boot time.Time) Clock { return Clock{boot: boot} }

func (c Clock) Now() time.Time { return time.Now() }

func (c Clock) Millis() uint32 { return uint32(time.Since(c.boot).Milliseconds()) }

// Jumper reboots into the partition holding the image that was just
// validated, via the ROM reboot call — ConfirmPartition must have
// already been called for the target partition to stick past the
// bootrom's try-before-you-buy window.
type Jumper struct{ Partition int }

func (j Jumper) JumpToApp(entryAddr uint32) {
	_ = entryAddr // the ROM call addresses partitions, not raw entry points
	rom.RebootToPartition(j.Partition)
}

// UpdateBeacon publishes a one-shot "entering update mode" notice over
// MQTT when the bootloader transitions into Prepare, the same
// publish-then-forget shape mqtt.go uses for its request/response
// exchange, minus the wait for a reply.
type UpdateBeacon struct {
	client *mqtt.Client
	topic  []byte
}

// NewUpdateBeacon wraps an already-connected MQTT client.
func NewUpdateBeacon(client *mqtt.Client, topic []byte) *UpdateBeacon {
	return &UpdateBeacon{client: client, topic: topic}
}

var beaconPubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// Publish sends the beacon payload once. Errors are not retried: a
// lost beacon does not block the update session that triggered it.
func (b *UpdateBeacon) Publish(payload []byte) error {
	if b == nil || b.client == nil {
		return nil
	}
	pubVar := mqtt.VariablesPublish{TopicName: b.topic}
	return b.client.PublishPayload(beaconPubFlags, pubVar, payload)
}
