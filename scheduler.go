package mqttbroker

import "time"

// DeliverySink is the write side of the delivery scheduler's contract
// with a connected client: something that can emit a PUBLISH for a
// client message entry or a PUBREL retransmission for one already
// in flight. ServerClient implements this over the packet codec.
type DeliverySink interface {
	WriteEntry(entry *ClientMessageEntry) error
	WritePubrel(mid uint16) error
}

// Scheduler moves messages from queued to in-flight subject to quotas
// and drives DeliverySink to emit PUBLISH/PUBREL, per spec.md section
// 4.7. It holds no per-session state of its own; every method takes the
// session's message-data block explicitly so it composes with any
// Session implementation.
type Scheduler struct {
	store *MessageStore
}

// NewScheduler creates a scheduler backed by store, used to ref_dec
// expired queued messages.
func NewScheduler(store *MessageStore) *Scheduler {
	return &Scheduler{store: store}
}

func emit(sink DeliverySink, entry *ClientMessageEntry) error {
	switch entry.State {
	case StateResendPubrel:
		if err := sink.WritePubrel(entry.MID); err != nil {
			return err
		}
		entry.MarkPubrelEmitted(time.Now())
	case StatePublishQoS0, StatePublishQoS1, StatePublishQoS2:
		if err := sink.WriteEntry(entry); err != nil {
			return err
		}
		entry.MarkEmitted(time.Now())
	}
	return nil
}

// WriteInflightOutLatest processes only the trailing contiguous run of
// publish-state entries, so newly queued messages get written without
// re-traversing older entries already awaiting an ACK.
func (s *Scheduler) WriteInflightOutLatest(data *MessageData, sink DeliverySink) error {
	for _, entry := range data.PendingRetriesFromTail() {
		if err := emit(sink, entry); err != nil {
			return err
		}
		if entry.IsTerminal() {
			data.RemoveInflight(entry)
			s.release(entry)
		}
	}
	return nil
}

// WriteInflightOutAll retries every in-flight entry still in a
// pre-acknowledgment publish state (or awaiting PUBREL resend); used on
// reconnect after ResetForReconnect has recomputed states.
func (s *Scheduler) WriteInflightOutAll(data *MessageData, sink DeliverySink) error {
	for _, entry := range data.AllInflight() {
		if err := emit(sink, entry); err != nil {
			return err
		}
		if entry.IsTerminal() {
			data.RemoveInflight(entry)
			s.release(entry)
		}
	}
	return nil
}

// WriteQueuedOut promotes queued entries into the in-flight window up to
// quota, emitting each as it is promoted.
func (s *Scheduler) WriteQueuedOut(data *MessageData, sink DeliverySink) error {
	for {
		entry := data.DequeueFirst()
		if entry == nil {
			return nil
		}
		if err := emit(sink, entry); err != nil {
			return err
		}
		if entry.IsTerminal() {
			data.RemoveInflight(entry)
			s.release(entry)
		}
	}
}

// Tick runs the inflight -> dequeue -> inflight sequence spec.md section
// 4.7 describes for one session's outbound block, then drops expired
// queued messages (incrementing send-quota isn't needed there since
// queued entries never held quota).
func (s *Scheduler) Tick(data *MessageData, sink DeliverySink, now time.Time) error {
	if err := s.WriteInflightOutLatest(data, sink); err != nil {
		return err
	}
	if err := s.WriteQueuedOut(data, sink); err != nil {
		return err
	}
	if err := s.WriteInflightOutLatest(data, sink); err != nil {
		return err
	}

	for _, expired := range data.ExpireQueued(now) {
		s.release(expired)
	}
	return nil
}

// DropOversize removes entry from the in-flight list after an
// oversize_packet failure (spec.md section 7): for QoS>0 the message is
// removed and send-quota incremented so the peer never observes it; for
// QoS 0 it is simply dropped.
func (s *Scheduler) DropOversize(data *MessageData, entry *ClientMessageEntry) {
	data.RemoveInflight(entry)
	s.release(entry)
}

func (s *Scheduler) release(entry *ClientMessageEntry) {
	if s.store != nil && entry.Store != nil {
		s.store.RefDec(entry.Store)
	}
}
