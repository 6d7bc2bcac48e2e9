package mqttbroker

import (
	"sync"
	"time"
)

// MessageData is one message-data block: the inbound or outbound queue
// for one session, split into an in-flight window and a queued backlog,
// per spec.md section 3. Both flow-control formulas (ReadyForFlight,
// ReadyForQueue) and the dequeue-first promotion rule live here so that
// the accounting invariants (msg_count == len(inflight)+len(queued), etc)
// can only be mutated through one place.
type MessageData struct {
	mu sync.RWMutex

	inflight []*ClientMessageEntry
	queued   []*ClientMessageEntry

	// InflightMaximum caps the in-flight window size (0 = unlimited).
	InflightMaximum int
	// InflightQuota is the remaining window slots for QoS>0 entries.
	InflightQuota int

	// MaxInflightBytes caps msg_bytes12 (the QoS 1/2 byte total)
	// (0 = disabled).
	MaxInflightBytes int
	// MaxQueuedMessages / MaxQueuedBytes cap the queued backlog
	// (0 = disabled).
	MaxQueuedMessages int
	MaxQueuedBytes    int

	// QueueQoS0Messages enables queueing QoS 0 messages while the session
	// is offline; otherwise QoS 0 is dropped once in-flight admission
	// fails.
	QueueQoS0Messages bool

	// Offline reflects whether the owning session currently has no live
	// connection; it zeroes the in-flight allowance used by
	// ReadyForQueue per spec.md section 4.4.
	Offline bool

	msgCount   int
	msgBytes   int
	msgCount12 int
	msgBytes12 int

	dropping bool
}

// NewMessageData creates a message-data block with the given in-flight
// window size. A zero inflightMaximum means unlimited.
func NewMessageData(inflightMaximum int) *MessageData {
	return &MessageData{
		InflightMaximum: inflightMaximum,
		InflightQuota:   inflightMaximum,
	}
}

func entrySize(e *ClientMessageEntry) int {
	if e == nil || e.Store == nil || e.Store.Message == nil {
		return 0
	}
	return len(e.Store.Message.Payload)
}

// MsgCount returns msg_count: total entries across inflight and queued.
func (d *MessageData) MsgCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.msgCount
}

// MsgBytes returns msg_bytes.
func (d *MessageData) MsgBytes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.msgBytes
}

// MsgCount12 returns msg_count12: entries restricted to QoS 1 and 2.
func (d *MessageData) MsgCount12() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.msgCount12
}

// MsgBytes12 returns msg_bytes12.
func (d *MessageData) MsgBytes12() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.msgBytes12
}

// Inflight returns a snapshot of the in-flight list, in order.
func (d *MessageData) Inflight() []*ClientMessageEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*ClientMessageEntry, len(d.inflight))
	copy(out, d.inflight)
	return out
}

// Queued returns a snapshot of the queued list, in order.
func (d *MessageData) Queued() []*ClientMessageEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*ClientMessageEntry, len(d.queued))
	copy(out, d.queued)
	return out
}

// readyForFlightLocked implements spec.md section 4.4's
// ready_for_flight(dir, qos).
func (d *MessageData) readyForFlightLocked(qos byte, size int) bool {
	if qos == QoS0 {
		if d.MaxQueuedMessages == 0 && d.MaxQueuedBytes == 0 && !d.QueueQoS0Messages {
			return true
		}
		bytesOK := d.MaxQueuedBytes == 0 || d.msgBytes+size < d.MaxQueuedBytes
		countOK := d.MaxQueuedMessages == 0 || d.msgCount+1 < d.MaxQueuedMessages
		return bytesOK && countOK
	}

	bytesOK := d.MaxInflightBytes == 0 || d.msgBytes12+size < d.MaxInflightBytes
	quotaOK := d.InflightMaximum == 0 || d.InflightQuota > 0
	return bytesOK && quotaOK
}

// readyForQueueLocked implements spec.md section 4.4's
// ready_for_queue(qos, msg_data): admission to the queued backlog once
// the in-flight window is full.
func (d *MessageData) readyForQueueLocked(qos byte, size int) bool {
	if qos == QoS0 {
		return d.Offline && d.QueueQoS0Messages
	}

	countAllowance := d.InflightMaximum
	byteAllowance := d.MaxInflightBytes
	if d.Offline {
		countAllowance = 0
		byteAllowance = 0
	}

	bytesOK := d.MaxQueuedBytes == 0 || (d.msgBytes-byteAllowance+size) < d.MaxQueuedBytes
	countOK := d.MaxQueuedMessages == 0 || (d.msgCount-countAllowance+1) < d.MaxQueuedMessages
	return bytesOK && countOK
}

// Admission is the outcome of attempting to add an entry to a
// MessageData block.
type Admission int

const (
	// AdmittedInflight means the entry was placed directly in flight.
	AdmittedInflight Admission = iota
	// AdmittedQueued means the entry was placed in the queued backlog.
	AdmittedQueued
	// AdmittedDropped means neither the in-flight window nor the queued
	// backlog had room; the entry was not stored.
	AdmittedDropped
)

// Admit attempts to add entry to the block, choosing in-flight placement
// when ReadyForFlight holds, queued placement when ReadyForQueue holds,
// and otherwise dropping it. It returns the placement and whether this
// admission is the transition into the "dropping" condition (spec.md
// section 4.4: one log event per transition, silent thereafter until a
// successful admission clears the flag).
func (d *MessageData) Admit(entry *ClientMessageEntry) (Admission, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := entrySize(entry)

	if d.readyForFlightLocked(entry.QoS, size) {
		d.inflight = append(d.inflight, entry)
		d.addTotalsLocked(entry, size)
		if entry.QoS > QoS0 {
			d.InflightQuota--
		}
		d.dropping = false
		return AdmittedInflight, false
	}

	if d.readyForQueueLocked(entry.QoS, size) {
		d.queued = append(d.queued, entry)
		d.addTotalsLocked(entry, size)
		d.dropping = false
		return AdmittedQueued, false
	}

	transitioned := !d.dropping
	d.dropping = true
	return AdmittedDropped, transitioned
}

func (d *MessageData) addTotalsLocked(entry *ClientMessageEntry, size int) {
	d.msgCount++
	d.msgBytes += size
	if entry.QoS > QoS0 {
		d.msgCount12++
		d.msgBytes12 += size
	}
}

func (d *MessageData) subTotalsLocked(entry *ClientMessageEntry, size int) {
	d.msgCount--
	d.msgBytes -= size
	if entry.QoS > QoS0 {
		d.msgCount12--
		d.msgBytes12 -= size
	}
}

// RemoveInflight removes entry from the in-flight list (identity match),
// updating totals and, for QoS>0, incrementing the quota back. Returns
// false if entry was not found.
func (d *MessageData) RemoveInflight(entry *ClientMessageEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.inflight {
		if e == entry {
			d.inflight = append(d.inflight[:i], d.inflight[i+1:]...)
			d.subTotalsLocked(entry, entrySize(entry))
			if entry.QoS > QoS0 {
				d.InflightQuota++
				if d.InflightMaximum > 0 && d.InflightQuota > d.InflightMaximum {
					d.InflightQuota = d.InflightMaximum
				}
			}
			return true
		}
	}
	return false
}

// RemoveQueued removes entry from the queued list.
func (d *MessageData) RemoveQueued(entry *ClientMessageEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.queued {
		if e == entry {
			d.queued = append(d.queued[:i], d.queued[i+1:]...)
			d.subTotalsLocked(entry, entrySize(entry))
			return true
		}
	}
	return false
}

// DequeueFirst implements spec.md section 4.4's dequeue-first rule: when
// in-flight capacity appears, move the head of the queued list into the
// in-flight list, decrementing quota for QoS>0 and advancing its state to
// the appropriate publish state. Returns nil if nothing was moved.
func (d *MessageData) DequeueFirst() *ClientMessageEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queued) == 0 {
		return nil
	}

	size := entrySize(d.queued[0])
	if !d.readyForFlightLocked(d.queued[0].QoS, size) {
		return nil
	}

	entry := d.queued[0]
	d.queued = d.queued[1:]
	d.inflight = append(d.inflight, entry)
	if entry.QoS > QoS0 {
		d.InflightQuota--
	}
	entry.State = initialState(entry.Direction, entry.QoS)
	return entry
}

// PendingRetriesFromTail returns the trailing contiguous run of entries
// still in a pre-emission publish state (publish_qosN), implementing
// spec.md section 4.4's write_inflight_out_latest: only the newly queued
// tail is (re)considered, without re-walking older entries awaiting an
// ACK.
func (d *MessageData) PendingRetriesFromTail() []*ClientMessageEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	start := len(d.inflight)
	for start > 0 {
		s := d.inflight[start-1].State
		if s != StatePublishQoS0 && s != StatePublishQoS1 && s != StatePublishQoS2 {
			break
		}
		start--
	}
	out := make([]*ClientMessageEntry, len(d.inflight)-start)
	copy(out, d.inflight[start:])
	return out
}

// AllInflight returns every in-flight entry, used by
// write_inflight_out_all on reconnect to retry the full window.
func (d *MessageData) AllInflight() []*ClientMessageEntry {
	return d.Inflight()
}

// ExpireQueued drops queued entries whose stored message has expired as
// of now, decrementing totals (and, for QoS>0, is a no-op on quota since
// queued entries never held quota) and returning the dropped entries so
// the caller can ref_dec the message store.
func (d *MessageData) ExpireQueued(now time.Time) []*ClientMessageEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []*ClientMessageEntry
	kept := d.queued[:0:0]
	for _, e := range d.queued {
		if e.Store != nil && e.Store.IsExpired(now) {
			expired = append(expired, e)
			d.subTotalsLocked(e, entrySize(e))
			continue
		}
		kept = append(kept, e)
	}
	d.queued = kept
	return expired
}

// ResetForReconnect applies spec.md section 4.6's "Reconnect reset" to
// every surviving entry: outbound entries are recomputed into the right
// retransmission state and quota is rebuilt from scratch; inbound QoS 0/1
// entries are dropped outright (the client will retransmit), inbound
// QoS 2 entries are kept so their mid is still remembered.
func (d *MessageData) ResetForReconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.InflightQuota = d.InflightMaximum

	kept := d.inflight[:0:0]
	for _, e := range d.inflight {
		if e.Direction == DirectionInbound {
			if e.QoS == QoS2 {
				kept = append(kept, e)
			} else {
				d.subTotalsLocked(e, entrySize(e))
			}
			continue
		}
		e.ResetForReconnect()
		if e.QoS > QoS0 {
			d.InflightQuota--
		}
		kept = append(kept, e)
	}
	d.inflight = kept
}

// Dropping reports whether the block is currently in the "dropping"
// condition (subsequent admission failures are silent until a
// successful admission clears it).
func (d *MessageData) Dropping() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropping
}
