//go:build tinygo

// Command firmware is the RP2350 entrypoint: it confirms the booted
// partition, brings up WiFi, builds the mcuhal collaborators, and
// drives a fwboot.Bootloader over the OTA listen port, publishing an
// MQTT beacon the moment an update session begins.
package main

import (
	"log/slog"
	"machine"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/openenterprise/fwboot"
	"github.com/openenterprise/fwboot/cfg"
	"github.com/openenterprise/fwboot/internal/fsm"
	"github.com/openenterprise/fwboot/internal/hal/mcuhal"
	"github.com/openenterprise/fwboot/internal/rom"
	"github.com/openenterprise/fwboot/internal/sharedmem"
	"github.com/openenterprise/fwboot/netcfg"
	"github.com/openenterprise/fwboot/version"
)

const pollTime = 5 * time.Millisecond

// sharedMemRegion is the SRAM range the app and bootloader both read
// and write across a reset, never zeroed by startup init.
var sharedMemRegion [sharedmem.RegionSize]byte

func fatalError(msg string) {
	println(msg)
	for {
		time.Sleep(time.Second)
	}
}

func main() {
	// Must run within 16.7s of boot, before any delay, to stop the
	// bootrom's try-before-you-buy window from auto-reverting.
	if err := rom.ConfirmPartition(); err != nil {
		println("partition confirm returned:", err.Error())
	}

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("fwboot:starting", slog.String("version", version.Version), slog.String("sha", version.GitSHA))

	wd := mcuhal.NewWatchdog(8 * time.Second)

	targetPartition := rom.GetTargetPartition()
	flash := mcuhal.NewFlash(rom.GetPartitionOffset(targetPartition), rom.GetPartitionMaxSize())

	devcfg := cyw43439.DefaultWifiConfig()
	devcfg.Logger = logger
	cystack, err := cywnet.NewConfiguredPicoWithStack(
		netcfg.SSID(), netcfg.Password(), devcfg,
		cywnet.StackConfig{Hostname: "fwboot", MaxTCPPorts: 2},
	)
	if err != nil {
		logger.Error("wifi:setup-failed", slog.String("err", err.Error()))
		fatalError("wifi setup failed")
	}
	go loopForeverStack(cystack, wd)

	if _, err := cystack.SetupWithDHCP(cywnet.DHCPConfig{}); err != nil {
		logger.Error("dhcp:failed", slog.String("err", err.Error()))
		fatalError("dhcp failed")
	}
	stack := cystack.LnetoStack()

	var rxBuf, txBuf [2030]byte
	transport, err := mcuhal.NewTransport(stack, netcfg.ListenPort(), rxBuf[:], txBuf[:])
	if err != nil {
		logger.Error("ota:listen-failed", slog.String("err", err.Error()))
		fatalError("ota listen failed")
	}

	beacon := dialUpdateBeacon(stack, logger)

	bl, err := fwboot.New(fwboot.Config{
		Flash:       flash,
		Transport:   transport,
		Clock:       mcuhal.NewClock(time.Now()),
		Watchdog:    wd,
		Jumper:      mcuhal.Jumper{Partition: targetPartition},
		Keys:        netcfg.DevicePublicKey{},
		SharedMem:   sharedMemRegion[:],
		BootVersion: version.Packed(0, 0, 0),
		Timeouts:    cfg.LoadTimeouts(),
		Policy:      cfg.LoadPolicy(),
		Limits:      cfg.LoadLimits(),
		Log:         logger,
	})
	if err != nil {
		logger.Error("fwboot:init-failed", slog.String("err", err.Error()))
		fatalError("fwboot init failed")
	}
	bl.Reset(time.Now())

	lastState := bl.State()
	for {
		now := time.Now()
		if bl.Tick(now) {
			// JumpToApp does not return; unreachable.
			return
		}
		if bl.State() == fsm.StatePrepare && lastState != fsm.StatePrepare {
			if err := beacon.Publish([]byte("update-starting")); err != nil {
				logger.Warn("beacon:publish-failed", slog.String("err", err.Error()))
			}
		}
		lastState = bl.State()
		wd.Kick()
		time.Sleep(pollTime)
	}
}

// dialUpdateBeacon connects to the configured MQTT broker and wraps
// the client in an UpdateBeacon. A broker that cannot be reached at
// boot is non-fatal: the beacon degrades to a no-op and the update
// session proceeds without it.
func dialUpdateBeacon(stack *xnet.StackAsync, logger *slog.Logger) *mcuhal.UpdateBeacon {
	addr, err := netip.ParseAddrPort(netcfg.BrokerAddr())
	if err != nil {
		logger.Warn("beacon:bad-broker-addr", slog.String("err", err.Error()))
		return nil
	}

	var rxBuf, txBuf [1024]byte
	var conn tcp.Conn
	if err := conn.Configure(tcp.ConnConfig{RxBuf: rxBuf[:], TxBuf: txBuf[:], TxPacketQueueSize: 2}); err != nil {
		logger.Warn("beacon:conn-configure-failed", slog.String("err", err.Error()))
		return nil
	}

	rstack := stack.StackRetrying(5 * time.Millisecond)
	lport := uint16(stack.Prand32()>>17) + 1024
	if err := rstack.DoDialTCP(&conn, lport, addr, 10*time.Second, 3); err != nil {
		logger.Warn("beacon:dial-failed", slog.String("err", err.Error()))
		return nil
	}

	client := mqtt.NewClient(mqtt.ClientConfig{Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 256)}})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte("fwboot"))
	if err := client.StartConnect(&conn, &varconn); err != nil {
		logger.Warn("beacon:connect-failed", slog.String("err", err.Error()))
		return nil
	}
	for i := 0; i < 50 && !client.IsConnected(); i++ {
		time.Sleep(100 * time.Millisecond)
		client.HandleNext()
	}
	if !client.IsConnected() {
		logger.Warn("beacon:connect-timeout")
		return nil
	}

	return mcuhal.NewUpdateBeacon(client, netcfg.BeaconTopic())
}

func loopForeverStack(stack *cywnet.Stack, wd mcuhal.Watchdog) {
	var count int
	for {
		send, recv, _ := stack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
		count++
		if count >= 100 {
			wd.Kick()
			count = 0
		}
	}
}
