package mqttbroker

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"strings"
	"time"
)

// tlsStateConn is implemented by *tls.Conn; asserted against to reach a
// client certificate's mapped identity without widening the Conn
// interface.
type tlsStateConn interface {
	ConnectionState() tls.ConnectionState
}

// generateClientID produces a session identifier for a zero-length
// CONNECT, per spec.md section 6's auto_id_prefix.
func generateClientID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + hex.EncodeToString([]byte(time.Now().String()))[:24]
	}
	return prefix + hex.EncodeToString(b)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// acceptClient runs the full CONNECT handshake of spec.md section 4.6 on
// a freshly accepted connection: it reads CONNECT, authenticates,
// resolves the client's namespace, attaches or takes over a session
// (merging its surviving message-data blocks on reconnect), registers
// keep-alive and will state, and writes CONNACK. It returns the
// resulting client and true on success; on failure it has already
// written a failure CONNACK (where applicable) and the caller should
// close the connection.
func (s *Server) acceptClient(conn Conn) (*ServerClient, bool) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	pkt, n, err := ReadPacket(conn, s.config.maxPacketSize)
	if err != nil {
		s.config.logger.Debug("failed to read CONNECT", LogFields{LogFieldError: err.Error()})
		return nil, false
	}
	conn.SetReadDeadline(time.Time{})
	s.config.metrics.BytesReceived(n)
	s.config.metrics.PacketReceived(PacketCONNECT)

	connect, ok := pkt.(*ConnectPacket)
	if !ok {
		s.config.logger.Warn("first packet not CONNECT", LogFields{LogFieldPacketType: pkt.Type().String()})
		return nil, false
	}

	version := connect.Version
	if version == ProtocolVersionUnspecified {
		version = V5
	}

	assignedID := false
	clientID := connect.ClientID
	if clientID == "" {
		if !s.config.allowZeroLengthClientID {
			s.failConnect(conn, version, ReasonClientIDNotValid)
			return nil, false
		}
		clientID = generateClientID(s.config.autoIDPrefix)
		connect.ClientID = clientID
		assignedID = true
	} else if !hasAnyPrefix(clientID, s.config.clientIDPrefixes) {
		s.failConnect(conn, version, ReasonClientIDNotValid)
		return nil, false
	}

	logger := s.config.logger.WithFields(LogFields{
		LogFieldClientID:  clientID,
		LogFieldRemoteAddr: conn.RemoteAddr().String(),
	})

	namespace := DefaultNamespace
	var tlsIdentity *TLSIdentity
	var tlsState *tls.ConnectionState
	if s.config.tlsIdentityMapper != nil {
		if tc, ok := conn.(tlsStateConn); ok {
			state := tc.ConnectionState()
			tlsState = &state
			identity, err := s.config.tlsIdentityMapper.MapIdentity(context.Background(), tlsState)
			if err != nil {
				logger.Warn("tls identity mapping failed", LogFields{LogFieldError: err.Error()})
				s.failConnect(conn, version, ReasonNotAuthorized)
				return nil, false
			}
			if identity != nil {
				tlsIdentity = identity
				if identity.Namespace != "" {
					namespace = identity.Namespace
				}
			}
		}
	}

	authMethod := connect.Props.GetString(PropAuthenticationMethod)
	if authMethod != "" && s.config.enhancedAuth != nil && s.config.enhancedAuth.SupportsMethod(authMethod) {
		result, err := s.runEnhancedAuth(conn, clientID, authMethod, connect.Props.GetBinary(PropAuthenticationData))
		if err != nil || result == nil || !result.Success {
			reasonCode := ReasonNotAuthorized
			if result != nil {
				reasonCode = result.ReasonCode
			}
			logger.Warn("enhanced authentication failed", LogFields{LogFieldReasonCode: reasonCode.String()})
			s.failConnect(conn, version, reasonCode)
			return nil, false
		}
		if result.Namespace != "" {
			namespace = result.Namespace
		}
		if result.AssignedClientID != "" {
			clientID = result.AssignedClientID
			connect.ClientID = clientID
			assignedID = true
		}
	} else if s.config.auth != nil {
		actx := &AuthContext{
			ClientID:      clientID,
			Username:      connect.Username,
			Password:      connect.Password,
			RemoteAddr:    conn.RemoteAddr(),
			LocalAddr:     conn.LocalAddr(),
			ConnectPacket: connect,
			CleanStart:    connect.CleanStart,
		}
		result, err := s.config.auth.Authenticate(context.Background(), actx)
		if err != nil || result == nil || !result.Success {
			reasonCode := ReasonNotAuthorized
			if result != nil {
				reasonCode = result.ReasonCode
			}
			logger.Warn("authentication failed", LogFields{LogFieldReasonCode: reasonCode.String()})
			s.failConnect(conn, version, reasonCode)
			return nil, false
		}
		if result.Namespace != "" {
			namespace = result.Namespace
		}
		if result.AssignedClientID != "" {
			clientID = result.AssignedClientID
			connect.ClientID = clientID
			assignedID = true
		}
	}

	if s.config.namespaceValidator != nil {
		if err := s.config.namespaceValidator(namespace); err != nil {
			logger.Warn("namespace rejected", LogFields{LogFieldError: err.Error()})
			s.failConnect(conn, version, ReasonNotAuthorized)
			return nil, false
		}
	}

	key := NamespaceKey(namespace, clientID)

	client := NewServerClient(conn, connect, s.config.maxPacketSize, namespace)
	if tlsIdentity != nil {
		client.SetTLSIdentity(tlsIdentity)
	}
	if tlsState != nil {
		client.SetTLSConnectionState(tlsState)
	}

	session, sessionPresent := s.attachSession(key, connect, version)
	client.SetSession(session)

	effectiveKeepAlive := s.keepAlive.Register(key, connect.KeepAlive)
	if s.config.maxKeepAlive > 0 && effectiveKeepAlive > s.config.maxKeepAlive {
		effectiveKeepAlive = s.config.maxKeepAlive
		s.keepAlive.Register(key, effectiveKeepAlive)
	}

	var will *WillMessage
	if connect.WillFlag {
		will = WillMessageFromConnect(connect)
		will.Namespace = namespace
		session.SetWill(will)
		s.wills.Register(key, will)
	} else {
		session.SetWill(nil)
		s.wills.Unregister(key)
	}

	// Replace any existing live connection for this session (session
	// takeover, spec.md section 4.6 step 8): the old connection's read
	// loop observes the close and, since the server-initiated Disconnect
	// marked it a clean disconnect, skips publishing its will.
	s.mu.Lock()
	if existing, ok := s.clients[key]; ok {
		existing.Disconnect(ReasonSessionTakenOver)
	}
	s.clients[key] = client
	s.mu.Unlock()

	connack := &ConnackPacket{
		SessionPresent: sessionPresent,
		ReasonCode:     ReasonSuccess,
		Version:        version,
	}
	if assignedID {
		connack.Props.Set(PropAssignedClientIdentifier, clientID)
	}
	if s.config.keepAliveOverride > 0 || effectiveKeepAlive != connect.KeepAlive {
		connack.Props.Set(PropServerKeepAlive, effectiveKeepAlive)
	}
	if s.config.topicAliasMax > 0 {
		connack.Props.Set(PropTopicAliasMaximum, s.config.topicAliasMax)
		client.SetTopicAliasMax(s.config.topicAliasMax, 0)
	}
	if s.config.receiveMaximum < 65535 {
		connack.Props.Set(PropReceiveMaximum, s.config.receiveMaximum)
	}
	if s.config.maxQoS < QoS2 {
		connack.Props.Set(PropMaximumQoS, s.config.maxQoS)
	}
	if !s.config.retainAvailable {
		connack.Props.Set(PropRetainAvailable, byte(0))
	}
	if !s.config.wildcardSubAvail {
		connack.Props.Set(PropWildcardSubAvailable, byte(0))
	}
	if !s.config.subIDAvailable {
		connack.Props.Set(PropSubscriptionIDAvailable, byte(0))
	}
	if !s.config.sharedSubAvailable {
		connack.Props.Set(PropSharedSubAvailable, byte(0))
	}
	if s.config.maxPacketSize > 0 {
		connack.Props.Set(PropMaximumPacketSize, s.config.maxPacketSize)
	}

	if _, err := WritePacket(conn, connack, s.config.maxPacketSize); err != nil {
		s.removeClient(key, client)
		return nil, false
	}

	s.config.metrics.ConnectionOpened()
	logger.Info("client connected", LogFields{"session_present": sessionPresent})

	if s.config.onConnect != nil {
		s.config.onConnect(client)
	}

	if sessionPresent {
		s.resumeSubscriptions(client, session)
		s.scheduler.WriteInflightOutAll(session.MsgsOut(), client)
		s.scheduler.WriteQueuedOut(session.MsgsOut(), client)
	}

	return client, true
}

// runEnhancedAuth drives the AUTH packet exchange of spec.md section
// 6's authenticate collaborator for a CONNECT naming an authentication
// method the configured EnhancedAuthenticator supports: it calls
// AuthStart, then alternates writing an AUTH challenge and reading the
// client's AUTH reply for as long as the authenticator reports
// Continue, returning the final result.
func (s *Server) runEnhancedAuth(conn Conn, clientID, method string, authData []byte) (*EnhancedAuthResult, error) {
	ctx := context.Background()
	actx := &EnhancedAuthContext{
		ClientID:   clientID,
		AuthMethod: method,
		AuthData:   authData,
		RemoteAddr: conn.RemoteAddr(),
	}
	result, err := s.config.enhancedAuth.AuthStart(ctx, actx)
	if err != nil {
		return nil, err
	}

	for result != nil && result.Continue && !result.Success {
		challenge := &AuthPacket{ReasonCode: ReasonContinueAuth}
		challenge.Props.Set(PropAuthenticationMethod, method)
		if len(result.AuthData) > 0 {
			challenge.Props.Set(PropAuthenticationData, result.AuthData)
		}
		if _, err := WritePacket(conn, challenge, s.config.maxPacketSize); err != nil {
			return nil, err
		}

		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		pkt, _, err := ReadPacket(conn, s.config.maxPacketSize)
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			return nil, err
		}
		reply, ok := pkt.(*AuthPacket)
		if !ok {
			return nil, ErrProtocolViolation
		}

		actx.AuthData = reply.Props.GetBinary(PropAuthenticationData)
		actx.ReasonCode = reply.ReasonCode
		actx.State = result.State
		result, err = s.config.enhancedAuth.AuthContinue(ctx, actx)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// attachSession implements spec.md section 4.6's clean-start and
// session-takeover-with-merge rules: a clean start (or an expired /
// missing prior session) starts fresh; otherwise the prior session's
// message-data blocks are resumed and their in-flight entries are reset
// for retransmission.
func (s *Server) attachSession(key string, connect *ConnectPacket, version ProtocolVersion) (Session, bool) {
	if connect.CleanStart {
		if old, err := s.config.sessionStore.Get(key); err == nil {
			s.trie.CleanSession(old.SubscriptionHandles())
			s.config.sessionStore.Delete(key)
		}
		session := s.config.sessionFactory(key)
		s.applyQueueLimits(session)
		session.SetProtocolVersion(version)
		session.SetCleanStartFlag(true)
		session.SetSessionExpiryInterval(clampSessionExpiry(connect, s.config.sessionExpiryMax))
		s.config.sessionStore.Create(session)
		return session, false
	}

	existing, err := s.config.sessionStore.Get(key)
	if err != nil || existing.IsExpired() {
		session := s.config.sessionFactory(key)
		s.applyQueueLimits(session)
		session.SetProtocolVersion(version)
		session.SetCleanStartFlag(false)
		session.SetSessionExpiryInterval(clampSessionExpiry(connect, s.config.sessionExpiryMax))
		s.config.sessionStore.Create(session)
		return session, false
	}

	existing.SetProtocolVersion(version)
	existing.SetCleanStartFlag(false)
	existing.SetSessionExpiryInterval(clampSessionExpiry(connect, s.config.sessionExpiryMax))
	existing.MsgsOut().Offline = false
	existing.MsgsIn().ResetForReconnect()
	existing.MsgsOut().ResetForReconnect()
	return existing, true
}

// applyQueueLimits stamps a freshly created session's message-data blocks
// with the server's configured inflight/queue caps (spec.md section 6);
// NewMemorySession itself always starts unbounded.
func (s *Server) applyQueueLimits(session Session) {
	for _, data := range []*MessageData{session.MsgsIn(), session.MsgsOut()} {
		data.InflightMaximum = s.config.maxInflightMessages
		data.InflightQuota = s.config.maxInflightMessages
		data.MaxQueuedMessages = s.config.maxQueuedMessages
		data.MaxQueuedBytes = s.config.maxQueuedBytes
		data.MaxInflightBytes = s.config.maxInflightBytes
		data.QueueQoS0Messages = s.config.queueQoS0Messages
	}
}

func clampSessionExpiry(connect *ConnectPacket, max uint32) uint32 {
	interval := connect.Props.GetUint32(PropSessionExpiryInterval)
	if !connect.Version.HasProperties() {
		if connect.CleanStart {
			return 0
		}
		return SessionExpiryForever
	}
	if max > 0 && interval > max {
		return max
	}
	return interval
}

// resumeSubscriptions rebinds a resumed session's trie handles onto the
// new client's session object, so publishes routed through the trie
// deliver against the live session again.
func (s *Server) resumeSubscriptions(client *ServerClient, session Session) {
	for _, h := range session.SubscriptionHandles() {
		h.Rebind(session)
	}
}

func (s *Server) failConnect(conn Conn, version ProtocolVersion, reason ReasonCode) {
	connack := &ConnackPacket{ReasonCode: reason, Version: version}
	WritePacket(conn, connack, s.config.maxPacketSize)
}
