package mqttbroker

import "net/http"

// WSServer is an MQTT broker server accepting connections over WebSocket,
// sharing the same accept/session/delivery machinery as the plain TCP
// Server via acceptClient/clientLoop.
type WSServer struct {
	*Server
	handler *WSHandler
}

// NewWSServer creates a new WebSocket MQTT server. It has no bound
// net.Listener; wire it into an http.Server via ServeHTTP.
func NewWSServer(opts ...ServerOption) *WSServer {
	srv := newServerCore(opts...)
	ws := &WSServer{Server: srv}
	ws.handler = NewWSHandler(ws.handleWSConnection)
	return ws
}

// ServeHTTP implements http.Handler for WebSocket connections.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the server's background loops without binding a listener.
// Call this before using the server as an http.Handler.
func (s *WSServer) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(4)
	go s.keepAliveLoop()
	go s.willLoop()
	go s.deliveryLoop()
	go s.sessionReapLoop()
}

// handleWSConnection is the WSHandler callback for a newly upgraded
// WebSocket connection.
func (s *WSServer) handleWSConnection(conn Conn) {
	if !s.running.Load() {
		conn.Close()
		return
	}

	if s.config.maxConnections > 0 {
		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if count >= s.config.maxConnections {
			conn.Close()
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client, ok := s.acceptClient(conn)
		if !ok {
			conn.Close()
			return
		}
		s.clientLoop(client)
	}()
}
