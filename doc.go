// Package mqttbroker implements the session and message-delivery engine of an
// MQTT 3.1, 3.1.1, and 5.0 broker.
//
// This package implements the relevant portions of the MQTT Version 5.0 OASIS
// Standard: https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - All MQTT 3.1/3.1.1/5.0 control packet types
//   - Complete v5 properties system
//   - QoS 0, 1, 2 message flows with a scheduler-driven delivery state machine
//   - Topic matching with wildcard support (+, #) and shared subscriptions
//   - Transport: TCP, TLS, WebSocket, WSS
//   - Pluggable interfaces for session storage, authentication, and authorization
//
// # Packet Types
//
// The package provides structs for all MQTT control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//   - AuthPacket: Enhanced (multi-step) authentication
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet
//	pkt, n, err := mqttbroker.ReadPacket(conn, maxPacketSize)
//
//	// Write a packet
//	n, err := mqttbroker.WritePacket(conn, packet, maxPacketSize)
//
// # Server
//
// Use the high-level Server API for building MQTT brokers:
//
//	srv, err := mqttbroker.NewServer(":1883",
//	    mqttbroker.OnConnect(func(c *mqttbroker.ServerClient) { ... }),
//	    mqttbroker.OnMessage(func(c *mqttbroker.ServerClient, m *mqttbroker.Message) { ... }),
//	)
//	srv.ListenAndServe()
//
// For TLS, build the server around a TLS listener:
//
//	tlsListener, _ := tls.Listen("tcp", ":8883", tlsConfig)
//	srv := mqttbroker.NewServerWithListener(tlsListener)
//
// Additional listeners can be attached with WithListener, so a single server
// serves multiple ports:
//
//	tcpListener, _ := net.Listen("tcp", ":1883")
//	tlsListener, _ := tls.Listen("tcp", ":8883", tlsConfig)
//	srv := mqttbroker.NewServerWithListener(tcpListener,
//	    mqttbroker.WithListener(tlsListener),
//	)
//
// For WebSocket, use WSServer as an http.Handler:
//
//	ws := mqttbroker.NewWSServer(
//	    mqttbroker.OnConnect(func(c *mqttbroker.ServerClient) { ... }),
//	)
//	http.Handle("/mqtt", ws)
//
// # Session Management
//
// Session state is managed through the Session and SessionStore interfaces.
// A reference implementation is provided with MemorySession and
// MemorySessionStore:
//
//	store := mqttbroker.NewMemorySessionStore()
//	session := mqttbroker.NewMemorySession("client-id")
//	store.Create(session)
//
// Sessions track subscription trie handles, pending messages, and packet
// IDs; the server attaches a handle to the owning session when a
// SUBSCRIBE succeeds:
//
//	handle, _ := trie.Subscribe(session, mqttbroker.Subscription{TopicFilter: "sensors/#", QoS: 1})
//	session.AddSubscriptionHandle(handle)
//	packetID := session.NextPacketID()
//
// A custom Session implementation can be plugged in with WithSessionFactory,
// for example to back sessions with a durable store instead of MemorySession.
//
// # QoS Delivery
//
// QoS 1 and 2 message flows are driven by the Scheduler, which walks each
// session's pending ClientMessageEntry queue and hands ready entries to a
// DeliverySink (ServerClient implements this) for retry-aware delivery:
//
//	entry := &mqttbroker.ClientMessageEntry{Store: stored, MID: mid, QoS: mqttbroker.QoS1}
//	session.MsgsOut().Admit(entry)
//	scheduler.Tick(session.MsgsOut(), sink, time.Now())
//
// Receive Maximum governs how many QoS 1/2 messages may be in flight for a
// session at once; the scheduler stops handing out entries once a session's
// in-flight count reaches its negotiated limit and resumes as PUBACK,
// PUBREC, and PUBCOMP acknowledgements free up room.
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	// Validate topic names and filters
//	err := mqttbroker.ValidateTopicName("sensors/temperature")
//	err = mqttbroker.ValidateTopicFilter("sensors/+/status")
//
//	// Match topics against filters
//	matched := mqttbroker.TopicMatch("sensors/#", "sensors/room1/temp")
//
//	// Parse shared subscriptions
//	shared, _ := mqttbroker.ParseSharedSubscription("$share/group/topic")
//
// # Authentication
//
// Implement the Authenticator interface for basic (CONNECT-time) authentication:
//
//	type MyAuth struct{}
//	func (a *MyAuth) Authenticate(ctx context.Context, authCtx *mqttbroker.AuthContext) (*mqttbroker.AuthResult, error) {
//	    if authCtx.Username == "valid" {
//	        return &mqttbroker.AuthResult{Success: true, ReasonCode: mqttbroker.ReasonSuccess}, nil
//	    }
//	    return &mqttbroker.AuthResult{Success: false, ReasonCode: mqttbroker.ReasonBadUserNameOrPassword}, nil
//	}
//
// For multi-step (SASL-style) authentication, implement EnhancedAuthenticator
// and register it with WithEnhancedAuth; the server drives the AUTH packet
// exchange until the authenticator reports success or failure.
//
// TLS-authenticated clients can derive their identity from the client
// certificate instead of a username/password by implementing
// TLSIdentityMapper (CommonNameMapper is provided) and registering it with
// WithTLSIdentityMapper.
//
// # Authorization
//
// Implement the Authorizer interface for access control:
//
//	type MyAuthz struct{}
//	func (a *MyAuthz) Authorize(ctx context.Context, authzCtx *mqttbroker.AuthzContext) (*mqttbroker.AuthzResult, error) {
//	    if authzCtx.Topic == "public" {
//	        return &mqttbroker.AuthzResult{Allowed: true, MaxQoS: 1}, nil
//	    }
//	    return &mqttbroker.AuthzResult{Allowed: false, ReasonCode: mqttbroker.ReasonNotAuthorized}, nil
//	}
//
// # Metrics
//
// Implement the Metrics interface (Counter, Gauge, Histogram) to plug in
// Prometheus, statsd, or any other backend. MemoryMetrics is provided as an
// in-process reference implementation, useful in tests:
//
//	metrics := mqttbroker.NewMemoryMetrics()
//	srv, err := mqttbroker.NewServer(":1883",
//	    mqttbroker.WithMetrics(metrics),
//	)
//
// BrokerMetrics wraps a Metrics sink with the broker-specific counters and
// histograms (connections, message throughput, retained sets, publish
// latency) the server records during operation.
//
// # Logging
//
// Implement the Logger interface for structured logging:
//
//	logger := mqttbroker.NewStdLogger(os.Stdout, mqttbroker.LogLevelInfo)
//	logger.Info("client connected", mqttbroker.LogFields{"client_id": "test"})
package mqttbroker
