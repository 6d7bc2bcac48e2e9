package mqttbroker

import (
	"crypto/tls"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by write operations on a client whose
// connection has already been closed.
var ErrNotConnected = errors.New("mqttbroker: client not connected")

// ServerClient represents a connected client on the server.
type ServerClient struct {
	mu                    sync.RWMutex
	writeMu               sync.Mutex // protects concurrent writes to conn
	conn                  Conn
	clientID              string
	username              string
	namespace             string
	session               Session
	topicAliases          *TopicAliasManager
	properties            *ConnectPacket // original connect properties
	connected             atomic.Bool
	cleanDisconnect       atomic.Bool // true if DISCONNECT packet was received
	cleanStart            bool
	keepAlive             uint16
	maxPacketSize         uint32
	sessionExpiryInterval uint32    // session expiry interval in seconds (from CONNECT or DISCONNECT)
	credentialExpiry      time.Time // when credentials (cert/token) expire, zero means no expiry
	tlsConnectionState    *tls.ConnectionState
	tlsIdentity           *TLSIdentity
}

// NewServerClient creates a new server client.
func NewServerClient(conn Conn, connect *ConnectPacket, maxPacketSize uint32, namespace string) *ServerClient {
	client := &ServerClient{
		conn:          conn,
		clientID:      connect.ClientID,
		username:      connect.Username,
		namespace:     namespace,
		properties:    connect,
		cleanStart:    connect.CleanStart,
		keepAlive:     connect.KeepAlive,
		maxPacketSize: maxPacketSize,
		topicAliases:  NewTopicAliasManager(0, 0),
	}
	client.connected.Store(true)
	return client
}

// Conn returns the underlying connection.
func (c *ServerClient) Conn() Conn {
	return c.conn
}

// ClientID returns the client identifier.
func (c *ServerClient) ClientID() string {
	return c.clientID
}

// Username returns the username if provided during connect.
func (c *ServerClient) Username() string {
	return c.username
}

// Namespace returns the namespace for multi-tenancy isolation.
func (c *ServerClient) Namespace() string {
	return c.namespace
}

// Session returns the client's session.
func (c *ServerClient) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession sets the client's session.
func (c *ServerClient) SetSession(session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

// CleanStart returns whether clean start was requested.
func (c *ServerClient) CleanStart() bool {
	return c.cleanStart
}

// KeepAlive returns the keep-alive interval in seconds.
func (c *ServerClient) KeepAlive() uint16 {
	return c.keepAlive
}

// MaxPacketSize returns the negotiated maximum packet size for this client.
func (c *ServerClient) MaxPacketSize() uint32 {
	return c.maxPacketSize
}

// IsConnected returns whether the client is connected.
func (c *ServerClient) IsConnected() bool {
	return c.connected.Load()
}

// SetCleanDisconnect marks this as a clean disconnect (DISCONNECT packet received).
func (c *ServerClient) SetCleanDisconnect() {
	c.cleanDisconnect.Store(true)
}

// SessionExpiryInterval returns the session expiry interval in seconds.
func (c *ServerClient) SessionExpiryInterval() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionExpiryInterval
}

// SetSessionExpiryInterval sets the session expiry interval in seconds.
func (c *ServerClient) SetSessionExpiryInterval(interval uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionExpiryInterval = interval
}

// CredentialExpiry returns when the client's credentials expire.
// Returns zero time if no credential expiry is set.
func (c *ServerClient) CredentialExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentialExpiry
}

// SetCredentialExpiry sets when the client's credentials expire.
// The server will disconnect the client when this time is reached.
// Use zero time to disable credential expiry.
func (c *ServerClient) SetCredentialExpiry(expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentialExpiry = expiry
}

// IsCredentialExpired returns true if the client's credentials have expired.
func (c *ServerClient) IsCredentialExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.credentialExpiry.IsZero() {
		return false
	}
	return time.Now().After(c.credentialExpiry)
}

// TLSConnectionState returns the TLS connection state.
// Returns nil for non-TLS connections.
func (c *ServerClient) TLSConnectionState() *tls.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tlsConnectionState
}

// SetTLSConnectionState sets the TLS connection state.
func (c *ServerClient) SetTLSConnectionState(state *tls.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tlsConnectionState = state
}

// TLSIdentity returns the TLS identity mapped from the certificate.
// Returns nil if no identity mapper is configured or no identity was mapped.
func (c *ServerClient) TLSIdentity() *TLSIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tlsIdentity
}

// SetTLSIdentity sets the TLS identity.
func (c *ServerClient) SetTLSIdentity(identity *TLSIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tlsIdentity = identity
}

// IsCleanDisconnect returns true if the client sent a DISCONNECT packet.
func (c *ServerClient) IsCleanDisconnect() bool {
	return c.cleanDisconnect.Load()
}

// TopicAliases returns the topic alias manager.
func (c *ServerClient) TopicAliases() *TopicAliasManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topicAliases
}

// SetTopicAliasMax sets the topic alias maximum values.
func (c *ServerClient) SetTopicAliasMax(inbound, outbound uint16) {
	c.topicAliases.SetInboundMax(inbound)
	c.topicAliases.SetOutboundMax(outbound)
}

// SendPacket sends a raw packet to the client.
func (c *ServerClient) SendPacket(packet Packet) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err := WritePacket(c.conn, packet, c.maxPacketSize)
	c.writeMu.Unlock()

	return err
}

// Close closes the client connection.
func (c *ServerClient) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	return c.conn.Close()
}

// Disconnect sends a DISCONNECT packet and closes the connection.
// When the server sends a DISCONNECT packet (for any reason), the Will message
// is NOT published because it's a controlled termination. The client is being
// properly notified, so Will (meant for unexpected disconnections) doesn't apply.
func (c *ServerClient) Disconnect(reason ReasonCode) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	// Mark as clean disconnect - server is explicitly sending DISCONNECT,
	// which is a controlled termination. Will messages are for unexpected
	// disconnections where the client can't notify others.
	c.cleanDisconnect.Store(true)

	disconnect := &DisconnectPacket{
		ReasonCode: reason,
	}

	c.writeMu.Lock()
	WritePacket(c.conn, disconnect, c.maxPacketSize)
	c.writeMu.Unlock()

	return c.Close()
}

// WriteEntry implements DeliverySink: it emits a PUBLISH for entry's
// stored message, in the direction and with the dup/retain/mid the
// session-level scheduler prepared. It does not itself mutate entry's
// state; the scheduler calls MarkEmitted after a successful write.
func (c *ServerClient) WriteEntry(entry *ClientMessageEntry) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if entry.Store == nil || entry.Store.Message == nil {
		return nil
	}

	msg := entry.Store.Message
	pub := &PublishPacket{
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      entry.QoS,
		Retain:   entry.Retain,
		DUP:      entry.Dup,
		PacketID: entry.MID,
		Version:  c.properties.Version,
	}

	if alias := c.topicAliases.GetOutbound(msg.Topic); alias > 0 {
		pub.Props.Set(PropTopicAlias, alias)
	}
	if msg.PayloadFormat > 0 {
		pub.Props.Set(PropPayloadFormatIndicator, msg.PayloadFormat)
	}
	if msg.MessageExpiry > 0 {
		pub.Props.Set(PropMessageExpiryInterval, msg.MessageExpiry)
	}
	if msg.ContentType != "" {
		pub.Props.Set(PropContentType, msg.ContentType)
	}
	if msg.ResponseTopic != "" {
		pub.Props.Set(PropResponseTopic, msg.ResponseTopic)
	}
	if len(msg.CorrelationData) > 0 {
		pub.Props.Set(PropCorrelationData, msg.CorrelationData)
	}
	for _, up := range msg.UserProperties {
		pub.Props.Add(PropUserProperty, up)
	}
	entry.Properties.Each(func(id PropertyID, value any) {
		pub.Props.Add(id, value)
	})

	c.writeMu.Lock()
	_, err := WritePacket(c.conn, pub, c.maxPacketSize)
	c.writeMu.Unlock()
	return err
}

// WritePubrel implements DeliverySink: it emits a PUBREL retransmission
// for a QoS 2 entry whose session reconnected while it was in
// wait_for_pubcomp.
func (c *ServerClient) WritePubrel(mid uint16) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	pk := &PubrelPacket{PacketID: mid, Version: c.properties.Version}
	c.writeMu.Lock()
	_, err := WritePacket(c.conn, pk, c.maxPacketSize)
	c.writeMu.Unlock()
	return err
}
