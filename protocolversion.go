package mqttbroker

import "errors"

// ProtocolVersion identifies the MQTT wire revision a connection negotiated.
type ProtocolVersion byte

const (
	// ProtocolVersionUnspecified means no CONNECT has been processed yet;
	// callers that need a concrete version default it to V5.
	ProtocolVersionUnspecified ProtocolVersion = 0

	// V31 is MQTT 3.1 ("MQIsdp", version byte 3).
	V31 ProtocolVersion = 3

	// V311 is MQTT 3.1.1 ("MQTT", version byte 4).
	V311 ProtocolVersion = 4

	// V5 is MQTT 5.0 ("MQTT", version byte 5).
	V5 ProtocolVersion = 5
)

// bridgeVersionBit marks a bridge connection in the version byte of a v3.x
// CONNECT packet (top bit of the otherwise 3/4-valued byte).
const bridgeVersionBit = 0x80

// String returns a human-readable protocol name for logging.
func (v ProtocolVersion) String() string {
	switch v {
	case V31:
		return "3.1"
	case V311:
		return "3.1.1"
	case V5, ProtocolVersionUnspecified:
		return "5.0"
	default:
		return "unknown"
	}
}

// HasProperties reports whether packets at this protocol version carry an
// MQTT v5.0-style properties section on the wire.
func (v ProtocolVersion) HasProperties() bool {
	return v == V5 || v == ProtocolVersionUnspecified
}

// protocolNameForVersion returns the protocol name string a CONNECT packet
// must carry for the given version.
func protocolNameForVersion(v ProtocolVersion) string {
	if v == V31 {
		return "MQIsdp"
	}
	return "MQTT"
}

// ErrUnsupportedProtocolName is returned when a CONNECT packet's protocol
// name/version byte combination does not match any supported revision.
var ErrUnsupportedProtocolName = errors.New("unsupported protocol name for version")
