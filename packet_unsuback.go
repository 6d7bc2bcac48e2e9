//nolint:dupl // MQTT v5.0 requires separate packet types with same structure
package mqttbroker

import (
	"bytes"
	"io"
)

// UnsubackPacket represents an MQTT UNSUBACK packet.
// MQTT v5.0 spec: Section 3.11
type UnsubackPacket struct {
	PacketID    uint16
	Props       Properties
	ReasonCodes []ReasonCode
	Version     ProtocolVersion
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

// Properties returns a pointer to the packet's properties.
func (p *UnsubackPacket) Properties() *Properties { return &p.Props }

// GetPacketID returns the packet identifier.
func (p *UnsubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.Version.HasProperties() {
		if err := p.Props.ValidateFor(PropCtxUNSUBACK); err != nil {
			return 0, err
		}
	}

	var buf bytes.Buffer

	// Packet Identifier
	_, err := buf.Write([]byte{byte(p.PacketID >> 8), byte(p.PacketID)})
	if err != nil {
		return 0, err
	}

	// Properties (v3.x UNSUBACK has no properties or reason codes at all:
	// it is just a packet identifier)
	if p.Version.HasProperties() {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}

		// Payload: reason codes
		for _, rc := range p.ReasonCodes {
			if err := buf.WriteByte(byte(rc)); err != nil {
				return 0, err
			}
		}
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketUNSUBACK,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBACK {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	// Packet Identifier
	var idBuf [2]byte
	n, err := io.ReadFull(r, idBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = uint16(idBuf[0])<<8 | uint16(idBuf[1])

	// Properties (v3.x UNSUBACK is just the packet identifier)
	if p.Version.HasProperties() {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxUNSUBACK); err != nil {
			return totalRead, err
		}

		// Payload: reason codes
		p.ReasonCodes = nil
		for totalRead < int(header.RemainingLength) {
			var rcBuf [1]byte
			n, err = io.ReadFull(r, rcBuf[:])
			totalRead += n
			if err != nil {
				return totalRead, err
			}
			p.ReasonCodes = append(p.ReasonCodes, ReasonCode(rcBuf[0]))
		}
	} else {
		p.ReasonCodes = []ReasonCode{ReasonSuccess}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *UnsubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReasonCodes) == 0 {
		return ErrProtocolViolation
	}
	for _, rc := range p.ReasonCodes {
		if !rc.ValidForUNSUBACK() {
			return ErrInvalidReasonCode
		}
	}
	return nil
}
