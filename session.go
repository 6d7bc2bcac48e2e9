package mqttbroker

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Session represents an MQTT session state.
type Session interface {
	// ClientID returns the client identifier.
	ClientID() string

	// NextPacketID returns the next available packet ID, skipping any
	// still held by an in-flight outbound entry.
	NextPacketID() uint16

	// ExpiryTime returns the session expiry time.
	ExpiryTime() time.Time

	// SetExpiryTime sets the session expiry time.
	SetExpiryTime(t time.Time)

	// IsExpired returns true if the session has expired.
	IsExpired() bool

	// CreatedAt returns when the session was created.
	CreatedAt() time.Time

	// LastActivity returns the last activity time.
	LastActivity() time.Time

	// UpdateLastActivity updates the last activity time.
	UpdateLastActivity()

	// MsgsIn returns the session's inbound message-data block.
	MsgsIn() *MessageData

	// MsgsOut returns the session's outbound message-data block.
	MsgsOut() *MessageData

	// SubscriptionHandles returns the trie leaves this session currently
	// holds, in subscribe order.
	SubscriptionHandles() []*TrieHandle

	// AddSubscriptionHandle records a trie leaf the session now owns.
	AddSubscriptionHandle(h *TrieHandle)

	// RemoveSubscriptionHandleByFilter drops the handle for filter,
	// returning it if found.
	RemoveSubscriptionHandleByFilter(filter string) (*TrieHandle, bool)

	// Will returns the session's will message, if any.
	Will() *WillMessage

	// SetWill sets the session's will message.
	SetWill(w *WillMessage)

	// LastMID returns the last packet identifier assigned outbound.
	LastMID() uint16

	// SetLastMID sets the last packet identifier assigned outbound.
	SetLastMID(mid uint16)

	// CleanStartFlag returns the clean-start flag recorded at CONNECT.
	CleanStartFlag() bool

	// SetCleanStartFlag sets the clean-start flag.
	SetCleanStartFlag(v bool)

	// ProtocolVersion returns the protocol version negotiated at CONNECT.
	ProtocolVersion() ProtocolVersion

	// SetProtocolVersion sets the negotiated protocol version.
	SetProtocolVersion(v ProtocolVersion)

	// SessionState returns the session's lifecycle state.
	SessionState() SessionState

	// SetSessionState sets the session's lifecycle state.
	SetSessionState(s SessionState)

	// SessionExpiryInterval returns the negotiated session expiry
	// interval in seconds. UINT32_MAX means "until explicit cleanup".
	SessionExpiryInterval() uint32

	// SetSessionExpiryInterval sets the negotiated session expiry
	// interval in seconds.
	SetSessionExpiryInterval(seconds uint32)
}

// SessionState is the lifecycle state of a session, per spec.md section 3.
type SessionState int

const (
	SessionStateNew SessionState = iota
	SessionStateAuthenticating
	SessionStateActive
	SessionStateDuplicate
	SessionStateDisconnecting
	SessionStateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case SessionStateNew:
		return "new"
	case SessionStateAuthenticating:
		return "authenticating"
	case SessionStateActive:
		return "active"
	case SessionStateDuplicate:
		return "duplicate"
	case SessionStateDisconnecting:
		return "disconnecting"
	case SessionStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionExpiryForever is the spec.md section 3 sentinel meaning
// "until explicit cleanup" (v3.x clean_start=false maps to this).
const SessionExpiryForever uint32 = 0xFFFFFFFF

// SessionStore defines the interface for session persistence.
type SessionStore interface {
	// Create creates a new session.
	Create(session Session) error

	// Get retrieves a session by client ID.
	Get(clientID string) (Session, error)

	// Update updates an existing session.
	Update(session Session) error

	// Delete deletes a session by client ID.
	Delete(clientID string) error

	// List returns all sessions.
	List() []Session

	// Cleanup removes expired sessions.
	Cleanup() int
}

// SessionExpiryHandler is called when a session expires.
type SessionExpiryHandler func(session Session)

// SessionFactory creates new Session instances.
// This allows custom session implementations to be used with the server.
type SessionFactory func(clientID string) Session

// DefaultSessionFactory returns a factory that creates MemorySession instances.
func DefaultSessionFactory() SessionFactory {
	return func(clientID string) Session {
		return NewMemorySession(clientID)
	}
}
