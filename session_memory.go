package mqttbroker

import (
	"sync"
	"time"
)

// MemorySession is an in-memory implementation of Session.
type MemorySession struct {
	mu              sync.RWMutex
	clientID        string
	packetIDCounter uint16
	expiryTime      time.Time
	createdAt       time.Time
	lastActivity    time.Time

	msgsIn  *MessageData
	msgsOut *MessageData
	subs    []*TrieHandle
	will    *WillMessage
	lastMID uint16

	cleanStart bool
	version    ProtocolVersion
	state      SessionState
	expirySecs uint32
}

// NewMemorySession creates a new in-memory session.
func NewMemorySession(clientID string) *MemorySession {
	now := time.Now()
	return &MemorySession{
		clientID:     clientID,
		createdAt:    now,
		lastActivity: now,
		msgsIn:       NewMessageData(0),
		msgsOut:      NewMessageData(0),
		state:        SessionStateNew,
	}
}

func (s *MemorySession) ClientID() string {
	return s.clientID
}

// NextPacketID returns an unused packet identifier, checked against the
// session's own in-flight outbound entries so it never collides with one
// still awaiting acknowledgment.
func (s *MemorySession) NextPacketID() uint16 {
	s.mu.Lock()
	id := s.packetIDCounter
	s.mu.Unlock()

	for range 65535 {
		id++
		if id == 0 {
			id = 1
		}
		if _, found := FindBySourceMID(s.msgsOut, id); !found {
			s.mu.Lock()
			s.packetIDCounter = id
			s.mu.Unlock()
			return id
		}
	}

	s.mu.Lock()
	s.packetIDCounter = id
	s.mu.Unlock()
	return id
}

func (s *MemorySession) ExpiryTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiryTime
}

func (s *MemorySession) SetExpiryTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryTime = t
}

func (s *MemorySession) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiryTime.IsZero() {
		return false
	}
	return time.Now().After(s.expiryTime)
}

func (s *MemorySession) CreatedAt() time.Time {
	return s.createdAt
}

func (s *MemorySession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *MemorySession) UpdateLastActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}


// MsgsIn returns the session's inbound message-data block.
func (s *MemorySession) MsgsIn() *MessageData {
	return s.msgsIn
}

// MsgsOut returns the session's outbound message-data block.
func (s *MemorySession) MsgsOut() *MessageData {
	return s.msgsOut
}

// SubscriptionHandles returns the trie leaves this session currently owns.
func (s *MemorySession) SubscriptionHandles() []*TrieHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TrieHandle, len(s.subs))
	copy(out, s.subs)
	return out
}

// AddSubscriptionHandle records a trie leaf the session now owns.
func (s *MemorySession) AddSubscriptionHandle(h *TrieHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing.Filter == h.Filter {
			return
		}
	}
	s.subs = append(s.subs, h)
}

// RemoveSubscriptionHandleByFilter drops the handle for filter.
func (s *MemorySession) RemoveSubscriptionHandleByFilter(filter string) (*TrieHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.subs {
		if h.Filter == filter {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return h, true
		}
	}
	return nil, false
}

// Will returns the session's will message, if any.
func (s *MemorySession) Will() *WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.will
}

// SetWill sets the session's will message.
func (s *MemorySession) SetWill(w *WillMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.will = w
}

// LastMID returns the last packet identifier assigned outbound.
func (s *MemorySession) LastMID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMID
}

// SetLastMID sets the last packet identifier assigned outbound.
func (s *MemorySession) SetLastMID(mid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMID = mid
}

// CleanStartFlag returns the clean-start flag recorded at CONNECT.
func (s *MemorySession) CleanStartFlag() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanStart
}

// SetCleanStartFlag sets the clean-start flag.
func (s *MemorySession) SetCleanStartFlag(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanStart = v
}

// ProtocolVersion returns the protocol version negotiated at CONNECT.
func (s *MemorySession) ProtocolVersion() ProtocolVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetProtocolVersion sets the negotiated protocol version.
func (s *MemorySession) SetProtocolVersion(v ProtocolVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// SessionState returns the session's lifecycle state.
func (s *MemorySession) SessionState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetSessionState sets the session's lifecycle state.
func (s *MemorySession) SetSessionState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// SessionExpiryInterval returns the negotiated session expiry interval.
func (s *MemorySession) SessionExpiryInterval() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expirySecs
}

// SetSessionExpiryInterval sets the negotiated session expiry interval.
func (s *MemorySession) SetSessionExpiryInterval(seconds uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirySecs = seconds
}

// MemorySessionStore is an in-memory implementation of SessionStore.
type MemorySessionStore struct {
	mu            sync.RWMutex
	sessions      map[string]Session
	expiryHandler SessionExpiryHandler
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]Session),
	}
}

// SetExpiryHandler sets the session expiry handler.
func (s *MemorySessionStore) SetExpiryHandler(handler SessionExpiryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryHandler = handler
}

func (s *MemorySessionStore) Create(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ClientID()]; ok {
		return ErrSessionExists
	}
	s.sessions[session.ClientID()] = session
	return nil
}

func (s *MemorySessionStore) Get(clientID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemorySessionStore) Update(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ClientID()]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[session.ClientID()] = session
	return nil
}

func (s *MemorySessionStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[clientID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, clientID)
	return nil
}

func (s *MemorySessionStore) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *MemorySessionStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Session
	for _, session := range s.sessions {
		if session.IsExpired() {
			expired = append(expired, session)
		}
	}

	for _, session := range expired {
		delete(s.sessions, session.ClientID())
		if s.expiryHandler != nil {
			s.expiryHandler(session)
		}
	}

	return len(expired)
}
