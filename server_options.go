package mqttbroker

import "net"

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

const (
	// MaxPacketSizeDefault is the maximum packet size a Server accepts
	// when WithServerMaxPacketSize is not used.
	MaxPacketSizeDefault = 256 * 1024

	// MaxPacketSizeProtocol is the largest packet size the MQTT wire
	// format can express (a four-byte variable-length remaining-length
	// field), and the ceiling WithServerMaxPacketSize clamps to.
	MaxPacketSizeProtocol = 268435455
)

type serverConfig struct {
	sessionStore       SessionStore
	sessionFactory     SessionFactory
	auth               Authenticator
	authz              Authorizer
	enhancedAuth       EnhancedAuthenticator
	tlsIdentityMapper  TLSIdentityMapper
	namespaceValidator func(namespace string) error
	metrics            *BrokerMetrics
	logger             Logger
	listeners          []net.Listener
	maxPacketSize      uint32
	maxConnections     int

	keepAliveOverride uint16
	maxKeepAlive      uint16
	topicAliasMax     uint16
	receiveMaximum    uint16
	maxQoS            byte

	maxInflightMessages int
	maxQueuedMessages   int
	maxQueuedBytes      int
	maxInflightBytes    int
	queueQoS0Messages   bool

	retainAvailable         bool
	wildcardSubAvail        bool
	subIDAvailable          bool
	sharedSubAvailable      bool
	allowDuplicateMessages  bool
	allowZeroLengthClientID bool
	autoIDPrefix            string
	clientIDPrefixes        []string
	messageSizeLimit        uint32
	sessionExpiryMax        uint32

	connectRateLimit  float64
	connectRateBurst  int

	onConnect     func(*ServerClient)
	onDisconnect  func(*ServerClient)
	onMessage     func(*ServerClient, *Message)
	onSubscribe   func(*ServerClient, []Subscription)
	onUnsubscribe func(*ServerClient, []string)
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		sessionStore:            NewMemorySessionStore(),
		sessionFactory:          DefaultSessionFactory(),
		namespaceValidator:      func(string) error { return nil },
		metrics:                 NewBrokerMetrics(&NoOpMetrics{}),
		logger:                  NewNoOpLogger(),
		maxPacketSize:           MaxPacketSizeDefault,
		maxConnections:          0,          // unlimited
		maxKeepAlive:            65535,
		receiveMaximum:          65535,
		maxQoS:                  QoS2,
		maxInflightMessages:     20,
		maxQueuedMessages:       1000,
		maxQueuedBytes:          0, // unlimited
		maxInflightBytes:        0, // unlimited
		queueQoS0Messages:       true,
		retainAvailable:         true,
		wildcardSubAvail:        true,
		subIDAvailable:          true,
		sharedSubAvailable:      true,
		allowDuplicateMessages:  false,
		allowZeroLengthClientID: true,
		autoIDPrefix:            "auto-",
		messageSizeLimit:        256 * 1024,
		sessionExpiryMax:        SessionExpiryForever,
		connectRateLimit:        0, // unlimited
		connectRateBurst:        0,
	}
}

// WithSessionStore sets the session store.
func WithSessionStore(store SessionStore) ServerOption {
	return func(c *serverConfig) {
		c.sessionStore = store
	}
}

// WithSessionFactory sets the collaborator used to construct new
// Session values on a fresh CONNECT, letting callers plug in a custom
// Session implementation in place of MemorySession. A nil factory
// leaves the configured one unchanged.
func WithSessionFactory(f SessionFactory) ServerOption {
	return func(c *serverConfig) {
		if f != nil {
			c.sessionFactory = f
		}
	}
}

// WithTLSIdentityMapper sets the collaborator that derives a client's
// identity and namespace from its TLS client certificate, consulted
// during the CONNECT handshake for connections carrying a
// crypto/tls.ConnectionState.
func WithTLSIdentityMapper(m TLSIdentityMapper) ServerOption {
	return func(c *serverConfig) {
		c.tlsIdentityMapper = m
	}
}

// WithNamespaceValidator sets a hook that vets a client's resolved
// namespace before a session is attached to it; returning an error
// fails the CONNECT with ReasonNotAuthorized. A nil validator leaves
// the configured one unchanged.
func WithNamespaceValidator(v func(namespace string) error) ServerOption {
	return func(c *serverConfig) {
		if v != nil {
			c.namespaceValidator = v
		}
	}
}

// WithServerAuth sets the authenticator.
func WithServerAuth(auth Authenticator) ServerOption {
	return func(c *serverConfig) {
		c.auth = auth
	}
}

// WithServerAuthz sets the authorizer.
func WithServerAuthz(authz Authorizer) ServerOption {
	return func(c *serverConfig) {
		c.authz = authz
	}
}

// WithEnhancedAuth sets the collaborator used to run SASL-style
// multi-step authentication (spec.md §6 authenticate) for CONNECTs
// that name an authentication method via PropAuthenticationMethod. A
// CONNECT naming a method the authenticator doesn't support falls back
// to the plain Authenticator, if any.
func WithEnhancedAuth(auth EnhancedAuthenticator) ServerOption {
	return func(c *serverConfig) {
		c.enhancedAuth = auth
	}
}

// WithMetrics sets the metrics sink used for broker-level counters.
func WithMetrics(m Metrics) ServerOption {
	return func(c *serverConfig) {
		c.metrics = NewBrokerMetrics(m)
	}
}

// WithLogger sets the structured logger used by the server and its
// session/store/trie/scheduler collaborators.
func WithLogger(l Logger) ServerOption {
	return func(c *serverConfig) {
		if l == nil {
			return
		}
		c.logger = l
	}
}

// WithListener adds an additional listener for the server to accept
// connections on, alongside the one passed to NewServer/NewServerWithListener.
// Use it to run several listeners (e.g. a plain TCP listener and a
// TLS listener) out of one Server with per_listener_settings sharing
// the rest of the server's configuration.
func WithListener(l net.Listener) ServerOption {
	return func(c *serverConfig) {
		c.listeners = append(c.listeners, l)
	}
}

// WithServerMaxPacketSize sets the maximum packet size, clamped to
// MaxPacketSizeProtocol.
func WithServerMaxPacketSize(size uint32) ServerOption {
	return func(c *serverConfig) {
		if size > MaxPacketSizeProtocol {
			size = MaxPacketSizeProtocol
		}
		c.maxPacketSize = size
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
// 0 means unlimited.
func WithMaxConnections(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxConnections = n
	}
}

// WithServerKeepAlive sets the server keep-alive override.
// When set, clients must use this value instead of their requested value.
func WithServerKeepAlive(seconds uint16) ServerOption {
	return func(c *serverConfig) {
		c.keepAliveOverride = seconds
	}
}

// WithMaxKeepAlive sets the upper bound a client-requested keep-alive
// may take before the server clamps it down (spec.md §6 max_keepalive).
func WithMaxKeepAlive(seconds uint16) ServerOption {
	return func(c *serverConfig) {
		c.maxKeepAlive = seconds
	}
}

// WithServerTopicAliasMax sets the maximum topic alias value.
func WithServerTopicAliasMax(maxVal uint16) ServerOption {
	return func(c *serverConfig) {
		c.topicAliasMax = maxVal
	}
}

// WithServerReceiveMaximum sets the receive maximum.
func WithServerReceiveMaximum(maxVal uint16) ServerOption {
	return func(c *serverConfig) {
		if maxVal == 0 {
			maxVal = 65535
		}
		c.receiveMaximum = maxVal
	}
}

// WithMaxQoS caps the QoS level the server will grant in SUBACK and
// downgrade PUBLISH to (spec.md §6 max_qos).
func WithMaxQoS(qos byte) ServerOption {
	return func(c *serverConfig) {
		if qos > QoS2 {
			return
		}
		c.maxQoS = qos
	}
}

// WithMaxInflightMessages sets the per-session inflight window
// (spec.md §6 max_inflight_messages), used as MessageData.InflightMaximum.
func WithMaxInflightMessages(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxInflightMessages = n
	}
}

// WithMaxQueuedMessages sets the per-session queued-message cap
// (spec.md §6 max_queued_messages equivalent), 0 means unlimited.
func WithMaxQueuedMessages(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxQueuedMessages = n
	}
}

// WithMaxQueuedBytes sets the per-session queued-byte cap
// (spec.md §6 max_queued_bytes), 0 means unlimited.
func WithMaxQueuedBytes(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxQueuedBytes = n
	}
}

// WithMaxInflightBytes sets the per-session in-flight byte cap, 0 means
// unlimited.
func WithMaxInflightBytes(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxInflightBytes = n
	}
}

// WithQueueQoS0Messages controls whether QoS 0 messages are queued for
// an offline session at all, or dropped immediately (spec.md §6
// queue_qos0_messages).
func WithQueueQoS0Messages(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.queueQoS0Messages = enabled
	}
}

// WithRetainAvailable toggles whether RETAIN is honored
// (spec.md §6 retain_available); when disabled, retained PUBLISHes are
// rejected with ReasonRetainNotSupported.
func WithRetainAvailable(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.retainAvailable = enabled
	}
}

// WithWildcardSubAvailable toggles whether topic filters containing +
// or # wildcards are accepted in SUBSCRIBE; when disabled, wildcard
// filters are rejected with ReasonWildcardSubsNotSupported and the
// CONNACK advertises the restriction.
func WithWildcardSubAvailable(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.wildcardSubAvail = enabled
	}
}

// WithSubIDAvailable toggles whether SUBSCRIBE's subscription
// identifier property is honored; when disabled, a SUBSCRIBE carrying
// one is rejected with ReasonSubIDsNotSupported.
func WithSubIDAvailable(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.subIDAvailable = enabled
	}
}

// WithSharedSubAvailable toggles whether $share/ shared subscriptions
// are accepted; when disabled, a shared subscription filter is
// rejected with ReasonSharedSubsNotSupported.
func WithSharedSubAvailable(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.sharedSubAvailable = enabled
	}
}

// WithAllowDuplicateMessages controls whether the subscription trie
// delivers a message once per matching subscription leaf (true) or
// once per client, deduplicated across overlapping filters (false),
// per spec.md §6 allow_duplicate_messages.
func WithAllowDuplicateMessages(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.allowDuplicateMessages = enabled
	}
}

// WithAllowZeroLengthClientID controls whether a CONNECT with an empty
// client identifier is accepted and assigned a generated one
// (spec.md §6 allow_zero_length_clientid / §4.6 step 3).
func WithAllowZeroLengthClientID(enabled bool) ServerOption {
	return func(c *serverConfig) {
		c.allowZeroLengthClientID = enabled
	}
}

// WithAutoIDPrefix sets the prefix used when generating a client
// identifier for a zero-length CONNECT (spec.md §6 auto_id_prefix).
func WithAutoIDPrefix(prefix string) ServerOption {
	return func(c *serverConfig) {
		c.autoIDPrefix = prefix
	}
}

// WithClientIDPrefixes restricts accepted client identifiers to those
// starting with one of the given prefixes (spec.md §6
// clientid_prefixes); an empty list means no restriction.
func WithClientIDPrefixes(prefixes ...string) ServerOption {
	return func(c *serverConfig) {
		c.clientIDPrefixes = prefixes
	}
}

// WithMessageSizeLimit sets the maximum PUBLISH payload size accepted
// from a client, independent of the packet-level MaxPacketSize
// (spec.md §6 message_size_limit).
func WithMessageSizeLimit(n uint32) ServerOption {
	return func(c *serverConfig) {
		c.messageSizeLimit = n
	}
}

// WithSessionExpiryMax caps the session expiry interval a CONNECT may
// request (spec.md §6 session_expiry_interval upper bound).
func WithSessionExpiryMax(seconds uint32) ServerOption {
	return func(c *serverConfig) {
		c.sessionExpiryMax = seconds
	}
}

// WithConnectRateLimit sets a per-listener token-bucket limit on
// CONNECT acceptance: ratePerSecond tokens replenished per second, up
// to burst tokens banked. ratePerSecond of 0 disables the limiter.
func WithConnectRateLimit(ratePerSecond float64, burst int) ServerOption {
	return func(c *serverConfig) {
		c.connectRateLimit = ratePerSecond
		c.connectRateBurst = burst
	}
}

// OnConnect sets the callback for client connections.
func OnConnect(fn func(*ServerClient)) ServerOption {
	return func(c *serverConfig) {
		c.onConnect = fn
	}
}

// OnDisconnect sets the callback for client disconnections.
func OnDisconnect(fn func(*ServerClient)) ServerOption {
	return func(c *serverConfig) {
		c.onDisconnect = fn
	}
}

// OnMessage sets the callback for received messages.
func OnMessage(fn func(*ServerClient, *Message)) ServerOption {
	return func(c *serverConfig) {
		c.onMessage = fn
	}
}

// OnSubscribe sets the callback for subscribe requests.
func OnSubscribe(fn func(*ServerClient, []Subscription)) ServerOption {
	return func(c *serverConfig) {
		c.onSubscribe = fn
	}
}

// OnUnsubscribe sets the callback for unsubscribe requests.
func OnUnsubscribe(fn func(*ServerClient, []string)) ServerOption {
	return func(c *serverConfig) {
		c.onUnsubscribe = fn
	}
}
