package mqttbroker

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrServerClosed is returned by ListenAndServe after Close.
var ErrServerClosed = errors.New("mqttbroker: server closed")

// Server is an MQTT v3.1/3.1.1/5.0 broker server. It owns the process-wide
// message store, subscription trie and delivery scheduler shared by every
// connected client's session, per spec.md section 3.
type Server struct {
	mu        sync.RWMutex
	config    *serverConfig
	listeners []net.Listener
	clients   map[string]*ServerClient

	store     *MessageStore
	trie      *SubscriptionTrie
	scheduler *Scheduler
	keepAlive *KeepAliveManager
	wills     *WillManager
	limiter   *connectLimiter

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// newServerCore builds a Server and its collaborators from opts, without
// binding any listener. Used by NewServerWithListener and by NewWSServer
// (server_ws.go), which supplies its own accept path.
func newServerCore(opts ...ServerOption) *Server {
	config := defaultServerConfig()
	for _, opt := range opts {
		opt(config)
	}

	store := NewMessageStore()
	trie := NewSubscriptionTrie(store)
	trie.AllowDuplicateMessages = config.allowDuplicateMessages

	ka := NewKeepAliveManager()
	if config.keepAliveOverride > 0 {
		ka.SetServerOverride(config.keepAliveOverride)
	}

	s := &Server{
		config:    config,
		clients:   make(map[string]*ServerClient),
		store:     store,
		trie:      trie,
		scheduler: NewScheduler(store),
		keepAlive: ka,
		wills:     NewWillManager(),
		limiter:   newConnectLimiter(config.connectRateLimit, config.connectRateBurst),
		done:      make(chan struct{}),
	}

	if memStore, ok := config.sessionStore.(*MemorySessionStore); ok {
		memStore.SetExpiryHandler(func(session Session) {
			s.trie.CleanSession(session.SubscriptionHandles())
		})
	}

	return s
}

// NewServer creates a new MQTT server listening on addr.
func NewServer(addr string, opts ...ServerOption) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, opts...), nil
}

// NewServerWithListener creates a new MQTT server accepting connections on
// listener, plus any additional listeners supplied via WithListener.
func NewServerWithListener(listener net.Listener, opts ...ServerOption) *Server {
	s := newServerCore(opts...)
	s.listeners = append([]net.Listener{listener}, s.config.listeners...)
	return s
}

// ListenAndServe starts the server's background loops and accept loops,
// and blocks until Close is called.
func (s *Server) ListenAndServe() error {
	if len(s.listeners) == 0 {
		return errors.New("mqttbroker: no listeners configured")
	}

	if !s.running.CompareAndSwap(false, true) {
		return errors.New("mqttbroker: server already running")
	}

	s.wg.Add(4)
	go s.keepAliveLoop()
	go s.willLoop()
	go s.deliveryLoop()
	go s.sessionReapLoop()

	for _, l := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(l)
	}

	s.wg.Wait()
	return ErrServerClosed
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}

		if s.limiter != nil && !s.limiter.Allow(conn.RemoteAddr()) {
			conn.Close()
			continue
		}

		if s.config.maxConnections > 0 {
			s.mu.RLock()
			count := len(s.clients)
			s.mu.RUnlock()
			if count >= s.config.maxConnections {
				conn.Close()
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Close stops the server: listeners are closed, connected clients are sent
// a DISCONNECT with ReasonServerShuttingDown, and background loops exit.
func (s *Server) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	close(s.done)

	for _, l := range s.listeners {
		l.Close()
	}

	s.mu.Lock()
	clients := make([]*ServerClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Disconnect(ReasonServerShuttingDown)
	}

	s.wg.Wait()
	return nil
}

// Publish injects a message as if it had arrived from an internal,
// unauthenticated source, fanning it out through the subscription trie.
func (s *Server) Publish(msg *Message) error {
	if !s.running.Load() {
		return ErrServerClosed
	}
	if msg.Namespace == "" {
		msg.Namespace = DefaultNamespace
	} else if err := ValidateNamespace(msg.Namespace); err != nil {
		return err
	}
	s.deliverMessage(msg, "", "")
	return nil
}

// Clients returns the namespaced keys of connected clients.
func (s *Server) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Addr returns the first listener's network address, or nil if the server
// has none (for example a server driven purely over WebSocket).
func (s *Server) Addr() net.Addr {
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Addrs returns the network addresses of every listener the server serves.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.Addr()
	}
	return addrs
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	client, ok := s.acceptClient(conn)
	if !ok {
		conn.Close()
		return
	}

	s.clientLoop(client)
}

// clientLoop runs the read/dispatch loop of spec.md section 4 for an
// already-accepted client, until the connection errors, the client sends
// DISCONNECT, or the server is closed.
func (s *Server) clientLoop(client *ServerClient) {
	conn := client.Conn()
	session := client.Session()
	key := NamespaceKey(client.Namespace(), client.ClientID())
	codec := &Codec{Version: session.ProtocolVersion()}

	defer func() {
		wasClean := client.IsCleanDisconnect()
		client.Close()

		s.mu.Lock()
		if cur, ok := s.clients[key]; ok && cur == client {
			delete(s.clients, key)
		}
		s.mu.Unlock()

		s.keepAlive.Unregister(key)

		if s.config.onDisconnect != nil {
			s.config.onDisconnect(client)
		}

		if wasClean {
			s.wills.Unregister(key)
		} else if entry := s.wills.TriggerWill(key, s.willExpiryDuration(session)); entry != nil && entry.IsReady() {
			s.deliverMessage(entry.Will.ToMessage(), key, client.Username())
			s.wills.Unregister(key)
		}

		if session != nil {
			session.MsgsOut().Offline = true
			if session.SessionExpiryInterval() == 0 {
				s.trie.CleanSession(session.SubscriptionHandles())
				s.config.sessionStore.Delete(key)
			} else if session.SessionExpiryInterval() != SessionExpiryForever {
				session.SetExpiryTime(time.Now().Add(time.Duration(session.SessionExpiryInterval()) * time.Second))
			}
		}

		s.config.metrics.ConnectionClosed()
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if deadline, ok := s.keepAlive.GetDeadline(key); ok {
			conn.SetReadDeadline(deadline)
		}

		pkt, n, err := codec.ReadPacket(conn, s.config.maxPacketSize)
		if err != nil {
			return
		}

		s.config.metrics.BytesReceived(n)
		s.config.metrics.PacketReceived(pkt.Type())
		s.keepAlive.UpdateActivity(key)
		session.UpdateLastActivity()

		switch p := pkt.(type) {
		case *PublishPacket:
			s.handlePublish(client, p)
		case *PubackPacket:
			s.handlePuback(client, p)
		case *PubrecPacket:
			s.handlePubrec(client, p)
		case *PubrelPacket:
			s.handlePubrel(client, p)
		case *PubcompPacket:
			s.handlePubcomp(client, p)
		case *SubscribePacket:
			s.handleSubscribe(client, p)
		case *UnsubscribePacket:
			s.handleUnsubscribe(client, p)
		case *PingreqPacket:
			client.SendPacket(&PingrespPacket{})
		case *DisconnectPacket:
			s.handleDisconnect(client, p)
			return
		case *AuthPacket:
			client.Disconnect(ReasonProtocolError)
			return
		}
	}
}

func (s *Server) willExpiryDuration(session Session) time.Duration {
	if session == nil {
		return 0
	}
	return time.Duration(session.SessionExpiryInterval()) * time.Second
}

func (s *Server) handleDisconnect(client *ServerClient, d *DisconnectPacket) {
	session := client.Session()
	if session != nil && d.Props.Has(PropSessionExpiryInterval) {
		session.SetSessionExpiryInterval(d.Props.GetUint32(PropSessionExpiryInterval))
	}
	// A v5 client may request its will still be sent despite an otherwise
	// graceful DISCONNECT (spec.md section 4.6); every other reason code
	// suppresses the will.
	if d.ReasonCode != ReasonDisconnectWithWill {
		client.SetCleanDisconnect()
	}
	client.Close()
}

func (s *Server) messageFromPublish(pub *PublishPacket, topic, namespace string) *Message {
	msg := &Message{Topic: topic, Payload: pub.Payload, QoS: pub.QoS, Retain: pub.Retain, Namespace: namespace}
	msg.FromProperties(&pub.Props)
	return msg
}

func (s *Server) messageExpiry(msg *Message) time.Time {
	if msg.MessageExpiry == 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(msg.MessageExpiry) * time.Second)
}

func (s *Server) handlePublish(client *ServerClient, pub *PublishPacket) {
	session := client.Session()
	key := NamespaceKey(client.Namespace(), client.ClientID())

	topic := pub.Topic
	if alias := pub.Props.GetUint16(PropTopicAlias); alias > 0 {
		if topic != "" {
			if err := client.TopicAliases().SetInbound(alias, topic); err != nil {
				client.Disconnect(ReasonTopicAliasInvalid)
				return
			}
		} else {
			resolved, err := client.TopicAliases().GetInbound(alias)
			if err != nil {
				client.Disconnect(ReasonTopicAliasInvalid)
				return
			}
			topic = resolved
		}
	}
	if topic == "" {
		client.Disconnect(ReasonProtocolError)
		return
	}
	if err := ValidateTopicName(topic); err != nil {
		client.Disconnect(ReasonTopicNameInvalid)
		return
	}
	if pub.QoS > s.config.maxQoS {
		client.Disconnect(ReasonQoSNotSupported)
		return
	}
	if pub.Retain && !s.config.retainAvailable {
		client.Disconnect(ReasonRetainNotSupported)
		return
	}
	if s.config.messageSizeLimit > 0 && uint32(len(pub.Payload)) > s.config.messageSizeLimit {
		client.Disconnect(ReasonPacketTooLarge)
		return
	}

	if s.config.authz != nil {
		azCtx := &AuthzContext{
			ClientID:   client.ClientID(),
			Username:   client.Username(),
			Topic:      topic,
			Action:     AuthzActionPublish,
			QoS:        pub.QoS,
			Retain:     pub.Retain,
			RemoteAddr: client.Conn().RemoteAddr(),
			LocalAddr:  client.Conn().LocalAddr(),
			Namespace:  client.Namespace(),
		}
		result, err := s.config.authz.Authorize(context.Background(), azCtx)
		if err != nil || result == nil || !result.Allowed {
			reason := ReasonNotAuthorized
			if result != nil {
				reason = result.ReasonCode
			}
			switch pub.QoS {
			case QoS1:
				client.SendPacket(&PubackPacket{PacketID: pub.PacketID, ReasonCode: reason, Version: session.ProtocolVersion()})
			case QoS2:
				client.SendPacket(&PubrecPacket{PacketID: pub.PacketID, ReasonCode: reason, Version: session.ProtocolVersion()})
			}
			return
		}
		if result.MaxQoS < pub.QoS {
			pub.QoS = result.MaxQoS
		}
	}

	if pub.QoS == QoS2 {
		if _, dup := FindBySourceMID(session.MsgsIn(), pub.PacketID); dup {
			client.SendPacket(&PubrecPacket{PacketID: pub.PacketID, ReasonCode: ReasonSuccess, Version: session.ProtocolVersion()})
			return
		}
	}

	msg := s.messageFromPublish(pub, topic, client.Namespace())
	if s.config.onMessage != nil {
		s.config.onMessage(client, msg)
	}

	stored := s.deliverMessage(msg, key, client.Username())

	switch pub.QoS {
	case QoS1:
		client.SendPacket(&PubackPacket{PacketID: pub.PacketID, ReasonCode: ReasonSuccess, Version: session.ProtocolVersion()})
	case QoS2:
		entry := NewInboundQoS2Entry(stored, pub.PacketID)
		if stored != nil {
			s.store.RefInc(stored)
		}
		if admission, _ := session.MsgsIn().Admit(entry); admission == AdmittedDropped && stored != nil {
			s.store.RefDec(stored)
		}
		client.SendPacket(&PubrecPacket{PacketID: pub.PacketID, ReasonCode: ReasonSuccess, Version: session.ProtocolVersion()})
	}
}

// deliverMessage implements the fan-out point of spec.md section 4.3: it
// updates the retained slot for the topic if requested, stores the message
// once, and admits one outbound entry per matching recipient.
func (s *Server) deliverMessage(msg *Message, sourceID, sourceUsername string) *StoredMessage {
	expiry := s.messageExpiry(msg)

	if msg.Retain {
		if err := s.trie.SetRetained(msg.Topic, msg, sourceID, sourceUsername, expiry); err == nil {
			if len(msg.Payload) == 0 {
				s.config.metrics.RetainedMessageRemoved()
			} else {
				s.config.metrics.RetainedMessageSet()
			}
		}
	}

	recipients := s.trie.Publish(msg.Topic)
	stored := s.store.Store(msg, sourceID, sourceUsername, expiry)
	s.config.metrics.MessageReceived(msg.QoS)

	for _, r := range recipients {
		s.deliverToRecipient(stored, r)
	}

	return stored
}

func (s *Server) deliverToRecipient(stored *StoredMessage, r Recipient) {
	if r.Session == nil {
		return
	}

	retain := GetDeliveryRetain(r.Sub, stored.Message.Retain)
	entry := NewOutboundEntry(stored, r.QoS, retain)
	if r.SubscriptionID > 0 {
		entry.Properties.Add(PropSubscriptionIdentifier, r.SubscriptionID)
	}
	if entry.QoS > QoS0 {
		entry.MID = r.Session.NextPacketID()
	}

	s.store.RefInc(stored)
	admission, _ := r.Session.MsgsOut().Admit(entry)
	if admission == AdmittedDropped {
		s.store.RefDec(stored)
		return
	}
	s.config.metrics.MessageSent(entry.QoS)

	key := r.Session.ClientID()
	s.mu.RLock()
	client, ok := s.clients[key]
	s.mu.RUnlock()
	if ok && client.IsConnected() {
		s.scheduler.Tick(r.Session.MsgsOut(), client, time.Now())
	}
}

func (s *Server) handlePuback(client *ServerClient, p *PubackPacket) {
	session := client.Session()
	entry, ok := FindBySourceMID(session.MsgsOut(), p.PacketID)
	if !ok {
		return
	}
	if entry.OnPuback() {
		session.MsgsOut().RemoveInflight(entry)
		if entry.Store != nil {
			s.store.RefDec(entry.Store)
		}
		s.scheduler.WriteQueuedOut(session.MsgsOut(), client)
	}
}

func (s *Server) handlePubrec(client *ServerClient, p *PubrecPacket) {
	session := client.Session()
	entry, ok := FindBySourceMID(session.MsgsOut(), p.PacketID)
	if !ok {
		client.SendPacket(&PubrelPacket{PacketID: p.PacketID, ReasonCode: ReasonPacketIDNotFound, Version: session.ProtocolVersion()})
		return
	}
	if entry.OnPubrec(time.Now()) {
		client.SendPacket(&PubrelPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess, Version: session.ProtocolVersion()})
	}
}

func (s *Server) handlePubrel(client *ServerClient, p *PubrelPacket) {
	session := client.Session()
	entry, ok := FindBySourceMID(session.MsgsIn(), p.PacketID)
	if !ok {
		client.SendPacket(&PubcompPacket{PacketID: p.PacketID, ReasonCode: ReasonPacketIDNotFound, Version: session.ProtocolVersion()})
		return
	}
	if entry.OnPubrel() {
		session.MsgsIn().RemoveInflight(entry)
		if entry.Store != nil {
			s.store.RefDec(entry.Store)
		}
	}
	client.SendPacket(&PubcompPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess, Version: session.ProtocolVersion()})
}

func (s *Server) handlePubcomp(client *ServerClient, p *PubcompPacket) {
	session := client.Session()
	entry, ok := FindBySourceMID(session.MsgsOut(), p.PacketID)
	if !ok {
		return
	}
	if entry.OnPubcomp() {
		session.MsgsOut().RemoveInflight(entry)
		if entry.Store != nil {
			s.store.RefDec(entry.Store)
		}
		s.scheduler.WriteQueuedOut(session.MsgsOut(), client)
	}
}

func (s *Server) handleSubscribe(client *ServerClient, sub *SubscribePacket) {
	session := client.Session()
	reasonCodes := make([]ReasonCode, len(sub.Subscriptions))
	var granted []Subscription

	if !s.config.subIDAvailable && sub.Props.Has(PropSubscriptionIdentifier) {
		for i := range reasonCodes {
			reasonCodes[i] = ReasonSubIDsNotSupported
		}
		client.SendPacket(&SubackPacket{PacketID: sub.PacketID, ReasonCodes: reasonCodes, Version: session.ProtocolVersion()})
		return
	}

	for i, subscription := range sub.Subscriptions {
		if err := ValidateTopicFilter(subscription.TopicFilter); err != nil {
			reasonCodes[i] = ReasonTopicFilterInvalid
			continue
		}
		if !s.config.wildcardSubAvail && containsWildcard(subscription.TopicFilter) {
			reasonCodes[i] = ReasonWildcardSubsNotSupported
			continue
		}
		if !s.config.sharedSubAvailable {
			if shared, err := ParseSharedSubscription(subscription.TopicFilter); err == nil && shared != nil {
				reasonCodes[i] = ReasonSharedSubsNotSupported
				continue
			}
		}
		if subscription.QoS > s.config.maxQoS {
			subscription.QoS = s.config.maxQoS
		}

		if s.config.authz != nil {
			azCtx := &AuthzContext{
				ClientID:   client.ClientID(),
				Username:   client.Username(),
				Topic:      subscription.TopicFilter,
				Action:     AuthzActionSubscribe,
				QoS:        subscription.QoS,
				RemoteAddr: client.Conn().RemoteAddr(),
				LocalAddr:  client.Conn().LocalAddr(),
				Namespace:  client.Namespace(),
			}
			result, err := s.config.authz.Authorize(context.Background(), azCtx)
			if err != nil || result == nil || !result.Allowed {
				reason := ReasonNotAuthorized
				if result != nil {
					reason = result.ReasonCode
				}
				reasonCodes[i] = reason
				continue
			}
			if result.MaxQoS < subscription.QoS {
				subscription.QoS = result.MaxQoS
			}
		}

		isNew := true
		for _, h := range session.SubscriptionHandles() {
			if h.Filter == subscription.TopicFilter {
				isNew = false
				break
			}
		}

		handle, err := s.trie.Subscribe(session, subscription)
		if err != nil {
			reasonCodes[i] = ReasonTopicFilterInvalid
			continue
		}
		session.AddSubscriptionHandle(handle)
		if isNew {
			s.config.metrics.SubscriptionAdded()
		}
		reasonCodes[i] = ReasonCode(subscription.QoS)
		granted = append(granted, subscription)

		if ShouldSendRetained(subscription.RetainHandling, isNew) {
			for _, stored := range s.trie.FetchRetainedFor(subscription.TopicFilter) {
				s.deliverRetained(session, subscription, stored)
			}
		}
	}

	if s.config.onSubscribe != nil && len(granted) > 0 {
		s.config.onSubscribe(client, granted)
	}

	client.SendPacket(&SubackPacket{PacketID: sub.PacketID, ReasonCodes: reasonCodes, Version: session.ProtocolVersion()})
	s.scheduler.Tick(session.MsgsOut(), client, time.Now())
}

func (s *Server) deliverRetained(session Session, sub Subscription, stored *StoredMessage) {
	qos := sub.QoS
	if stored.Message.QoS < qos {
		qos = stored.Message.QoS
	}
	entry := NewOutboundEntry(stored, qos, GetDeliveryRetain(sub, true))
	if sub.SubscriptionID > 0 {
		entry.Properties.Add(PropSubscriptionIdentifier, sub.SubscriptionID)
	}
	if entry.QoS > QoS0 {
		entry.MID = session.NextPacketID()
	}

	s.store.RefInc(stored)
	if admission, _ := session.MsgsOut().Admit(entry); admission == AdmittedDropped {
		s.store.RefDec(stored)
	}
}

func (s *Server) handleUnsubscribe(client *ServerClient, unsub *UnsubscribePacket) {
	session := client.Session()
	reasonCodes := make([]ReasonCode, len(unsub.TopicFilters))
	var removed []string

	for i, filter := range unsub.TopicFilters {
		if s.trie.Unsubscribe(session, filter) {
			session.RemoveSubscriptionHandleByFilter(filter)
			reasonCodes[i] = ReasonSuccess
			s.config.metrics.SubscriptionRemoved()
			removed = append(removed, filter)
		} else {
			reasonCodes[i] = ReasonNoSubscriptionExisted
		}
	}

	if s.config.onUnsubscribe != nil && len(removed) > 0 {
		s.config.onUnsubscribe(client, removed)
	}

	client.SendPacket(&UnsubackPacket{PacketID: unsub.PacketID, ReasonCodes: reasonCodes, Version: session.ProtocolVersion()})
}

// removeClient deletes the clients-map entry at key only if it still holds
// client, so a superseded connection's cleanup can never evict the entry of
// the client that took its session over.
func (s *Server) removeClient(key string, client *ServerClient) {
	s.mu.Lock()
	if cur, ok := s.clients[key]; ok && cur == client {
		delete(s.clients, key)
	}
	s.mu.Unlock()
	s.keepAlive.Unregister(key)
}

func (s *Server) keepAliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, key := range s.keepAlive.GetExpiredClients() {
				s.mu.RLock()
				client, ok := s.clients[key]
				s.mu.RUnlock()
				if ok {
					client.Close()
				}
			}
		}
	}
}

func (s *Server) willLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, entry := range s.wills.GetReadyWills() {
				s.deliverMessage(entry.Will.ToMessage(), entry.ClientID, "")
			}
		}
	}
}

// deliveryLoop periodically ticks every connected session's outbound
// message-data block, writing in-flight entries not yet sent, promoting
// queued entries as quota allows and dropping expired queued ones, per
// scheduler.Tick's contract.
func (s *Server) deliveryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			clients := make([]*ServerClient, 0, len(s.clients))
			for _, c := range s.clients {
				clients = append(clients, c)
			}
			s.mu.RUnlock()

			now := time.Now()
			for _, c := range clients {
				if !c.IsConnected() {
					continue
				}
				session := c.Session()
				if session == nil {
					continue
				}
				s.scheduler.Tick(session.MsgsOut(), c, now)
			}
		}
	}
}

func (s *Server) sessionReapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.config.sessionStore.Cleanup()
			s.store.Compact()
		}
	}
}
