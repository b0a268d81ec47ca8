// Package netcfg holds the device's network identity: WiFi
// credentials, the MQTT broker to beacon to, and the OTA listen port,
// each supplied via an embedded text file the same way the teacher's
// credentials and config packages are, rather than compiled-in
// literals.
package netcfg

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

var (
	//go:embed ssid.text
	ssid string
	//go:embed password.text
	password string
	//go:embed broker_addr.text
	brokerAddr string
	//go:embed beacon_topic.text
	beaconTopic string
	//go:embed listen_port.text
	listenPortText string
	//go:embed public_key.text
	publicKeyHex string
)

// DefaultListenPort is used when listen_port.text is empty.
const DefaultListenPort = 4242

// DefaultBeaconTopic is used when beacon_topic.text is empty.
const DefaultBeaconTopic = "fwboot/update"

// SSID returns the WiFi network name from ssid.text.
//
// Deprecated: fill in ssid.text for your own deployment; your
// credentials should not live in version control.
func SSID() string { return strings.TrimSpace(ssid) }

// Password returns the WiFi network password from password.text.
//
// Deprecated: fill in password.text for your own deployment; your
// credentials should not live in version control.
func Password() string { return strings.TrimSpace(password) }

// BrokerAddr returns the MQTT broker address ("host:port") from
// broker_addr.text.
func BrokerAddr() string { return strings.TrimSpace(brokerAddr) }

// BeaconTopic returns the MQTT topic the update beacon publishes to,
// or DefaultBeaconTopic if beacon_topic.text is empty.
func BeaconTopic() []byte {
	if t := strings.TrimSpace(beaconTopic); t != "" {
		return []byte(t)
	}
	return []byte(DefaultBeaconTopic)
}

// ListenPort returns the OTA TCP listen port from listen_port.text, or
// DefaultListenPort if empty or unparsable.
func ListenPort() uint16 {
	if s := strings.TrimSpace(listenPortText); s != "" {
		if v, err := strconv.ParseUint(s, 10, 16); err == nil {
			return uint16(v)
		}
	}
	return DefaultListenPort
}

// DevicePublicKey implements hal.PublicKeyProvider by decoding the
// 128-hex-char (64-byte, raw X||Y) public key baked into
// public_key.text at build time.
type DevicePublicKey struct{}

// PublicKey returns the embedded public key, or an error if
// public_key.text was left empty or is not exactly 64 bytes of hex.
func (DevicePublicKey) PublicKey() ([64]byte, error) {
	var key [64]byte
	raw, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return key, err
	}
	if len(raw) != len(key) {
		return key, errors.New("netcfg: public_key.text must decode to exactly 64 bytes")
	}
	copy(key[:], raw)
	return key, nil
}
