package mqttbroker

import (
	"errors"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("mqttbroker: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqttbroker: unknown packet type")
)

// Codec reads and writes MQTT packets for one connection at a fixed
// protocol version. CONNECT is the one packet type that determines its own
// version from the wire, so Codec.Version only matters for every packet
// that follows it on the same connection.
type Codec struct {
	Version ProtocolVersion
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func (c *Codec) ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	// Check max size
	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	// Read remaining bytes
	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet := c.newPacket(header.PacketType)
	if packet == nil {
		return nil, n, ErrUnknownPacketType
	}

	// Decode packet
	reader := newBytesReader(remaining)
	_, err = packet.Decode(reader, header)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func (c *Codec) WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	// If max size check is needed, encode to buffer first
	if maxSize > 0 {
		var buf bytesBuffer
		n, err := packet.Encode(&buf)
		if err != nil {
			return 0, err
		}
		if uint32(n) > maxSize {
			return 0, ErrPacketTooLarge
		}
		return w.Write(buf.Bytes())
	}

	return packet.Encode(w)
}

// newPacket allocates a zero-value packet for the given type, stamping
// Codec.Version onto every packet struct that carries a Version field.
// ConnectPacket is left at its zero Version since Decode determines it
// from the wire itself.
func (c *Codec) newPacket(t PacketType) Packet {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}
	case PacketCONNACK:
		return &ConnackPacket{Version: c.Version}
	case PacketPUBLISH:
		return &PublishPacket{Version: c.Version}
	case PacketPUBACK:
		return &PubackPacket{Version: c.Version}
	case PacketPUBREC:
		return &PubrecPacket{Version: c.Version}
	case PacketPUBREL:
		return &PubrelPacket{Version: c.Version}
	case PacketPUBCOMP:
		return &PubcompPacket{Version: c.Version}
	case PacketSUBSCRIBE:
		return &SubscribePacket{Version: c.Version}
	case PacketSUBACK:
		return &SubackPacket{Version: c.Version}
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{Version: c.Version}
	case PacketUNSUBACK:
		return &UnsubackPacket{Version: c.Version}
	case PacketPINGREQ:
		return &PingreqPacket{}
	case PacketPINGRESP:
		return &PingrespPacket{}
	case PacketDISCONNECT:
		return &DisconnectPacket{Version: c.Version}
	case PacketAUTH:
		return &AuthPacket{}
	default:
		return nil
	}
}

// ReadPacket reads a complete v5 MQTT packet from the reader, for call
// sites that have not yet negotiated (or don't care about) a connection's
// protocol version, e.g. reading the very first CONNECT.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	return (&Codec{Version: V5}).ReadPacket(r, maxSize)
}

// WritePacket writes a complete MQTT packet to the writer using whatever
// Version is already set on the packet (or v5 if the packet carries none).
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	return (&Codec{}).WritePacket(w, packet, maxSize)
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) *bytesReader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
