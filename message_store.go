package mqttbroker

import (
	"sync"
	"sync/atomic"
	"time"
)

// StoredMessage is a process-wide, reference-counted, immutable message
// held by the message store. Sessions and retained slots hold non-owning
// references via *StoredMessage; the store is the only owner of the
// payload bytes.
type StoredMessage struct {
	// DBID is the monotone identifier assigned at store insertion.
	// Unique within the process lifetime.
	DBID uint64

	// Message is the immutable payload. Callers must not mutate it after
	// the message has been stored; Clone before reusing a buffer.
	Message *Message

	// SourceID is the publisher's client identifier, kept for ACL rechecks
	// on session takeover and carried-over queues.
	SourceID string

	// SourceUsername is the publisher's username, kept for the same reason.
	SourceUsername string

	// ExpiryTime is the absolute wall-clock time after which the message
	// is considered expired. Zero means never.
	ExpiryTime time.Time

	// StoredAt is when the message entered the store.
	StoredAt time.Time

	// destIDs suppresses duplicate delivery across overlapping
	// subscriptions for the same client when configured.
	destMu  sync.Mutex
	destIDs map[string]struct{}

	refCount int32
}

// IsExpired reports whether the message's expiry time has elapsed as of now.
func (m *StoredMessage) IsExpired(now time.Time) bool {
	if m.ExpiryTime.IsZero() {
		return false
	}
	return now.After(m.ExpiryTime)
}

// RefCount returns the current reference count.
func (m *StoredMessage) RefCount() int32 {
	return atomic.LoadInt32(&m.refCount)
}

// markDelivered records that clientID has already received this message,
// returning true if this is the first time. Used by the subscription
// trie to suppress duplicate delivery across overlapping subscriptions.
func (m *StoredMessage) markDelivered(clientID string) bool {
	m.destMu.Lock()
	defer m.destMu.Unlock()
	if m.destIDs == nil {
		m.destIDs = make(map[string]struct{})
	}
	if _, seen := m.destIDs[clientID]; seen {
		return false
	}
	m.destIDs[clientID] = struct{}{}
	return true
}

// MessageStore is a process-wide set of immutable message payloads shared
// among client sessions; reference-counted; enumerated by a monotonically
// increasing db_id. It is the only owner of payload bytes — sessions and
// the subscription trie hold non-owning references and must call RefDec
// when they drop one.
type MessageStore struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*StoredMessage
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		entries: make(map[uint64]*StoredMessage),
	}
}

// Store inserts a message and assigns it a db_id. The returned entry has
// ref_count zero; the caller is responsible for RefInc-ing it once per
// holder (queue insertion, retained slot) immediately after insertion, per
// spec.md's store(message) -> db_id contract.
func (s *MessageStore) Store(msg *Message, sourceID, sourceUsername string, expiry time.Time) *StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := &StoredMessage{
		DBID:           s.nextID,
		Message:        msg,
		SourceID:       sourceID,
		SourceUsername: sourceUsername,
		ExpiryTime:     expiry,
		StoredAt:       time.Now(),
	}
	s.entries[entry.DBID] = entry
	return entry
}

// RefInc increments the reference count of a stored message.
func (s *MessageStore) RefInc(entry *StoredMessage) {
	if entry == nil {
		return
	}
	atomic.AddInt32(&entry.refCount, 1)
}

// RefDec decrements the reference count of a stored message, freeing it
// from the store when it reaches zero.
func (s *MessageStore) RefDec(entry *StoredMessage) {
	if entry == nil {
		return
	}
	if atomic.AddInt32(&entry.refCount, -1) <= 0 {
		s.mu.Lock()
		delete(s.entries, entry.DBID)
		s.mu.Unlock()
	}
}

// Get returns the stored message for a db_id, if it is still live.
func (s *MessageStore) Get(dbID uint64) (*StoredMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[dbID]
	return entry, ok
}

// Count returns the number of live entries.
func (s *MessageStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Compact sweeps the store removing any entry whose reference count has
// fallen to zero without having gone through RefDec's delete path. This is
// a defensive backstop against bookkeeping bugs elsewhere; in a correctly
// operating broker it should find nothing to do.
func (s *MessageStore) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.RefCount() <= 0 {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// FindBySourceMID scans a session's message-data block for the client
// message entry carrying mid in the given direction. This is the only
// place mid-based lookup is needed; the window is bounded by
// inflight_maximum so the linear scan is cheap.
func FindBySourceMID(data *MessageData, mid uint16) (*ClientMessageEntry, bool) {
	if data == nil {
		return nil, false
	}
	data.mu.RLock()
	defer data.mu.RUnlock()

	for _, entry := range data.inflight {
		if entry.MID == mid {
			return entry, true
		}
	}
	for _, entry := range data.queued {
		if entry.MID == mid {
			return entry, true
		}
	}
	return nil, false
}
