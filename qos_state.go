package mqttbroker

import "time"

// QoS level byte values. MQTT v5.0 spec: Section 3.3.1.2.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// Direction identifies which way a client message entry is flowing
// relative to the broker.
type Direction int

const (
	// DirectionOutbound is broker -> client (PUBLISH the broker is sending).
	DirectionOutbound Direction = iota
	// DirectionInbound is client -> broker (PUBLISH the broker received).
	DirectionInbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// EntryState is the tagged-variant state of a ClientMessageEntry's QoS
// flow. Modelling it this way (rather than a bare int flag alongside
// ad hoc bools) makes invalid transitions unrepresentable, per
// spec.md's state-machine encoding note.
type EntryState int

const (
	// StatePublishQoS0 is the sole state for QoS 0 entries: emit PUBLISH,
	// then remove.
	StatePublishQoS0 EntryState = iota

	// StatePublishQoS1 means PUBLISH has not yet been emitted.
	StatePublishQoS1
	// StateWaitForPuback means PUBLISH was emitted and PUBACK is awaited.
	StateWaitForPuback

	// StatePublishQoS2 means PUBLISH has not yet been emitted (outbound)
	// or was just received and PUBREC has not yet been emitted (inbound).
	StatePublishQoS2
	// StateWaitForPubrec means outbound PUBLISH was emitted and PUBREC is
	// awaited.
	StateWaitForPubrec
	// StateResendPubrel means the session reconnected while a PUBREL was
	// outstanding; PUBREL must be re-emitted before PUBCOMP can arrive.
	StateResendPubrel
	// StateWaitForPubcomp means PUBREL was emitted and PUBCOMP is awaited.
	StateWaitForPubcomp
	// StateWaitForPubrel is the inbound QoS 2 receiver state: PUBREC has
	// been emitted and PUBREL is awaited before the message may be
	// delivered through the subscription trie.
	StateWaitForPubrel
)

func (s EntryState) String() string {
	switch s {
	case StatePublishQoS0:
		return "publish_qos0"
	case StatePublishQoS1:
		return "publish_qos1"
	case StateWaitForPuback:
		return "wait_for_puback"
	case StatePublishQoS2:
		return "publish_qos2"
	case StateWaitForPubrec:
		return "wait_for_pubrec"
	case StateResendPubrel:
		return "resend_pubrel"
	case StateWaitForPubcomp:
		return "wait_for_pubcomp"
	case StateWaitForPubrel:
		return "wait_for_pubrel"
	default:
		return "unknown"
	}
}

// ClientMessageEntry is one message referenced from one session's
// message-data block, in one direction. spec.md section 3, "Client
// message entry".
type ClientMessageEntry struct {
	// Store is the shared, reference-counted message this entry refers to.
	Store *StoredMessage

	// MID is the 16-bit packet identifier (0 for QoS 0).
	MID uint16

	// QoS is the effective delivery QoS for this recipient: the minimum
	// of the originating message's QoS, the subscription's QoS, and the
	// receiver's declared maximum QoS.
	QoS byte

	// State is this entry's position in the QoS state machine.
	State EntryState

	// Direction records whether this is an inbound or outbound entry.
	Direction Direction

	// Dup is set on retransmission.
	Dup bool

	// Retain is the retain flag as seen by this recipient (distinct from
	// the stored message's own Retain, which reflects the publisher's
	// original flag).
	Retain bool

	// Timestamp is the time of the last state transition.
	Timestamp time.Time

	// Properties holds recipient-specific property overrides (for
	// example per-subscription identifiers) layered over the shared
	// message's own properties.
	Properties Properties
}

// initialState returns the state a freshly admitted entry starts in.
func initialState(dir Direction, qos byte) EntryState {
	switch {
	case qos == QoS0:
		return StatePublishQoS0
	case qos == QoS1:
		return StatePublishQoS1
	case dir == DirectionInbound:
		// Inbound QoS2: delivered immediately, server waits for PUBREL.
		return StateWaitForPubrel
	default:
		return StatePublishQoS2
	}
}

// NewOutboundEntry creates a new outbound client message entry for store,
// at effective QoS qos, ready for its initial emission.
func NewOutboundEntry(store *StoredMessage, qos byte, retain bool) *ClientMessageEntry {
	return &ClientMessageEntry{
		Store:     store,
		QoS:       qos,
		Retain:    retain,
		Direction: DirectionOutbound,
		State:     initialState(DirectionOutbound, qos),
	}
}

// NewInboundQoS2Entry creates the receiver-side bookkeeping entry for an
// inbound QoS 2 PUBLISH: the message has already been delivered (per
// spec.md section 4.4), the entry exists purely to remember mid until
// PUBREL arrives and to reject duplicate PUBLISHes in the interim.
func NewInboundQoS2Entry(store *StoredMessage, mid uint16) *ClientMessageEntry {
	return &ClientMessageEntry{
		Store:     store,
		MID:       mid,
		QoS:       QoS2,
		Direction: DirectionInbound,
		State:     StateWaitForPubrel,
	}
}

// MarkEmitted records that PUBLISH has just been written for this entry
// and advances its state.
func (e *ClientMessageEntry) MarkEmitted(now time.Time) {
	e.Timestamp = now
	switch e.State {
	case StatePublishQoS1:
		e.State = StateWaitForPuback
	case StatePublishQoS2:
		e.State = StateWaitForPubrec
	}
}

// OnPuback handles receipt of PUBACK for this entry. Returns true if the
// entry is now complete and should be removed.
func (e *ClientMessageEntry) OnPuback() bool {
	return e.State == StateWaitForPuback
}

// OnPubrec handles receipt of PUBREC for this entry (sender side),
// advancing to wait_for_pubcomp (the caller must still emit PUBREL).
func (e *ClientMessageEntry) OnPubrec(now time.Time) bool {
	if e.State != StateWaitForPubrec {
		return false
	}
	e.State = StateWaitForPubcomp
	e.Timestamp = now
	return true
}

// MarkPubrelEmitted advances resend_pubrel back to wait_for_pubcomp once
// the PUBREL retransmission has been written.
func (e *ClientMessageEntry) MarkPubrelEmitted(now time.Time) {
	if e.State == StateResendPubrel {
		e.State = StateWaitForPubcomp
		e.Timestamp = now
	}
}

// OnPubcomp handles receipt of PUBCOMP. Returns true if the entry is now
// complete and should be removed.
func (e *ClientMessageEntry) OnPubcomp() bool {
	return e.State == StateWaitForPubcomp || e.State == StateResendPubrel
}

// OnPubrel handles receipt of PUBREL for the inbound QoS 2 receiver side.
// Returns true if the message should now be delivered through the
// subscription trie and PUBCOMP emitted.
func (e *ClientMessageEntry) OnPubrel() bool {
	return e.State == StateWaitForPubrel
}

// ResetForReconnect applies the "Reconnect reset" rule of spec.md section
// 4.6 to a surviving outbound entry: recompute its state for
// retransmission and reset Dup.
func (e *ClientMessageEntry) ResetForReconnect() {
	switch e.State {
	case StateWaitForPubcomp:
		e.State = StateResendPubrel
	case StateWaitForPuback:
		e.State = StatePublishQoS1
	case StateWaitForPubrec:
		e.State = StatePublishQoS2
	}
	if e.QoS > QoS0 && e.State != StateResendPubrel {
		e.Dup = true
	}
}

// IsTerminal reports whether the entry has reached a state from which it
// should be removed from the message-data block (QoS 0 is always
// terminal once emitted once, modelled by the caller removing it
// immediately after write).
func (e *ClientMessageEntry) IsTerminal() bool {
	return e.State == StatePublishQoS0
}
