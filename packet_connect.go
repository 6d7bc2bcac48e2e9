package mqttbroker

import (
	"bytes"
	"errors"
	"io"
)

// Connect flag bit positions.
const (
	connectFlagCleanStart   = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDTooLong        = errors.New("client ID too long")
	ErrClientIDRequired       = errors.New("client ID required with clean start false")
	ErrPasswordWithoutUser    = errors.New("password without username not allowed before MQTT v5")
)

// ConnectPacket represents an MQTT CONNECT packet. It supports MQTT 3.1
// ("MQIsdp", version byte 3), 3.1.1 ("MQTT", version byte 4) and 5.0
// ("MQTT", version byte 5); the version actually present on the wire is
// recorded in Version after Decode.
type ConnectPacket struct {
	// Version is the protocol version this CONNECT carries. Decode sets
	// it from the wire; Encode uses it to pick the wire representation.
	// The zero value (ProtocolVersionUnspecified) encodes as v5.
	Version ProtocolVersion

	// Bridge marks a bridge-to-bridge connection, signaled on v3.x by the
	// top bit of the otherwise 3/4-valued protocol version byte.
	Bridge bool

	// ClientID is the client identifier.
	ClientID string

	// CleanStart indicates whether the session should start clean.
	CleanStart bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Properties contains the CONNECT properties (v5 only).
	Props Properties

	// Username for authentication.
	Username string

	// Password for authentication.
	Password []byte

	// Will message configuration.
	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
	WillProps   Properties
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

// Properties returns a pointer to the packet's properties.
func (p *ConnectPacket) Properties() *Properties {
	return &p.Props
}

// effectiveVersion returns the version to encode/validate against,
// defaulting an unspecified Version to v5.
func (p *ConnectPacket) effectiveVersion() ProtocolVersion {
	if p.Version == ProtocolVersionUnspecified {
		return V5
	}
	return p.Version
}

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanStart {
		flags |= connectFlagCleanStart
	}

	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}

	if len(p.Password) > 0 {
		flags |= connectFlagPasswordFlag
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

// setConnectFlags parses the connect flags byte.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	// Reserved bit must be 0
	if flags&0x01 != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanStart = flags&connectFlagCleanStart != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	// Will QoS must be 0 if Will Flag is 0
	if !p.WillFlag && p.WillQoS != 0 {
		return ErrInvalidConnectFlags
	}

	// Will Retain must be 0 if Will Flag is 0
	if !p.WillFlag && p.WillRetain {
		return ErrInvalidConnectFlags
	}

	// Will QoS must not be 3
	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}

	return nil
}

// Encode writes the packet to the writer.
func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	version := p.effectiveVersion()
	if version.HasProperties() {
		if err := p.Props.ValidateFor(PropCtxCONNECT); err != nil {
			return 0, err
		}
		if p.WillFlag {
			if err := p.WillProps.ValidateFor(PropCtxWill); err != nil {
				return 0, err
			}
		}
	}

	// Build variable header and payload
	var buf bytes.Buffer

	// Protocol Name
	n, err := encodeString(&buf, protocolNameForVersion(version))
	if err != nil {
		return 0, err
	}

	// Protocol Version, with the bridge bit folded in for v3.x
	versionByte := byte(version)
	if version != V5 && p.Bridge {
		versionByte |= bridgeVersionBit
	}
	if err := buf.WriteByte(versionByte); err != nil {
		return n, err
	}
	n++

	// Connect Flags
	if err := buf.WriteByte(p.connectFlags()); err != nil {
		return n, err
	}
	n++

	// Keep Alive
	n2, err := buf.Write([]byte{byte(p.KeepAlive >> 8), byte(p.KeepAlive)})
	n += n2
	if err != nil {
		return n, err
	}

	// Properties (v5 only)
	if version.HasProperties() {
		n3, err := p.Props.Encode(&buf)
		n += n3
		if err != nil {
			return n, err
		}
	}

	// Payload

	// Client ID
	n4, err := encodeString(&buf, p.ClientID)
	n += n4
	if err != nil {
		return n, err
	}

	// Will Properties, Topic, Payload
	if p.WillFlag {
		if version.HasProperties() {
			n5, err := p.WillProps.Encode(&buf)
			n += n5
			if err != nil {
				return n, err
			}
		}

		n6, err := encodeString(&buf, p.WillTopic)
		n += n6
		if err != nil {
			return n, err
		}

		n7, err := encodeBinary(&buf, p.WillPayload)
		n += n7
		if err != nil {
			return n, err
		}
	}

	// Username
	if p.Username != "" {
		n8, err := encodeString(&buf, p.Username)
		n += n8
		if err != nil {
			return n, err
		}
	}

	// Password
	if len(p.Password) > 0 {
		n9, err := encodeBinary(&buf, p.Password)
		n += n9
		if err != nil {
			return n, err
		}
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketCONNECT,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	// Write variable header and payload
	n10, err := w.Write(buf.Bytes())
	return total + n10, err
}

// Decode reads the packet from the reader.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	// Protocol Name
	protoName, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Protocol Version; the top bit of a v3.x version byte marks a bridge
	// connection and is masked off before comparison.
	var versionBuf [1]byte
	n, err = io.ReadFull(r, versionBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	rawVersion := versionBuf[0]
	bridge := false
	version := ProtocolVersion(rawVersion)
	if rawVersion&bridgeVersionBit != 0 {
		bridge = true
		version = ProtocolVersion(rawVersion &^ bridgeVersionBit)
	}

	switch {
	case version == V31 && protoName == "MQIsdp":
	case version == V311 && protoName == "MQTT":
	case version == V5 && protoName == "MQTT":
		if bridge {
			return totalRead, ErrUnsupportedProtocolName
		}
	default:
		if protoName != "MQTT" && protoName != "MQIsdp" {
			return totalRead, ErrInvalidProtocolName
		}
		return totalRead, ErrInvalidProtocolVersion
	}

	p.Version = version
	p.Bridge = bridge

	// Connect Flags
	var flagsBuf [1]byte
	n, err = io.ReadFull(r, flagsBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.setConnectFlags(flagsBuf[0]); err != nil {
		return totalRead, err
	}

	usernameFlag := flagsBuf[0]&connectFlagUsernameFlag != 0
	passwordFlag := flagsBuf[0]&connectFlagPasswordFlag != 0

	// Keep Alive
	var keepAliveBuf [2]byte
	n, err = io.ReadFull(r, keepAliveBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.KeepAlive = uint16(keepAliveBuf[0])<<8 | uint16(keepAliveBuf[1])

	// Properties (v5 only)
	if version.HasProperties() {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxCONNECT); err != nil {
			return totalRead, err
		}
	}

	// Payload

	// Client ID
	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Will Properties, Topic, Payload
	if p.WillFlag {
		if version.HasProperties() {
			n, err = p.WillProps.Decode(r)
			totalRead += n
			if err != nil {
				return totalRead, err
			}
			if err := p.WillProps.ValidateFor(PropCtxWill); err != nil {
				return totalRead, err
			}
		}

		p.WillTopic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		p.WillPayload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Username
	if usernameFlag {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	// Password
	if passwordFlag {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	version := p.effectiveVersion()

	// Client ID length check (max 23 characters recommended, but up to 65535 allowed)
	if len(p.ClientID) > 65535 {
		return ErrClientIDTooLong
	}

	// Pre-v5, a server that does not assign client IDs must see one
	// whenever the client isn't starting clean. v5 allows the server to
	// assign an ID even with CleanStart false, so this is relaxed there.
	if version != V5 && !p.CleanStart && p.ClientID == "" {
		return ErrClientIDRequired
	}

	// Will QoS must be valid
	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}

	// Will Retain and Will QoS should be 0 if Will Flag is not set
	if !p.WillFlag && (p.WillRetain || p.WillQoS != 0) {
		return ErrInvalidConnectFlags
	}

	// Pre-v5, a password without a username is a protocol error.
	if version != V5 && len(p.Password) > 0 && p.Username == "" {
		return ErrPasswordWithoutUser
	}

	return nil
}
