// Command mqttbrokerd runs a standalone MQTT broker over TCP, exercising
// the mqttbroker package's default configuration surface.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitalvas/mqttbroker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	addr := flag.String("addr", ":1883", "TCP address to listen on")
	maxInflight := flag.Int("max-inflight", 20, "per-session inflight message window")
	maxQueued := flag.Int("max-queued", 1000, "per-session queued message cap (0 = unlimited)")
	sessionExpiryMax := flag.Uint("session-expiry-max", 0, "maximum session expiry interval in seconds accepted from CONNECT (0 = unlimited)")
	flag.Parse()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		return err
	}

	srv := mqttbroker.NewServerWithListener(listener,
		mqttbroker.WithMaxInflightMessages(*maxInflight),
		mqttbroker.WithMaxQueuedMessages(*maxQueued),
		mqttbroker.WithSessionExpiryMax(uint32(*sessionExpiryMax)),
		mqttbroker.OnConnect(func(client *mqttbroker.ServerClient) {
			log.Printf("client connected: %s", client.ClientID())
		}),
		mqttbroker.OnDisconnect(func(client *mqttbroker.ServerClient) {
			log.Printf("client disconnected: %s", client.ClientID())
		}),
		mqttbroker.OnSubscribe(func(client *mqttbroker.ServerClient, subs []mqttbroker.Subscription) {
			for _, sub := range subs {
				log.Printf("client %s subscribed to %s (QoS %d)", client.ClientID(), sub.TopicFilter, sub.QoS)
			}
		}),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		<-sigCh
		log.Println("shutting down")
		close(done)
		srv.Close()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != mqttbroker.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	log.Printf("mqtt broker listening on %s", listener.Addr())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case t := <-ticker.C:
			msg := &mqttbroker.Message{
				Topic:   "$SYS/broker/status",
				Payload: []byte(fmt.Sprintf(`{"time":%q,"clients":%d}`, t.Format(time.RFC3339), srv.ClientCount())),
				QoS:     mqttbroker.QoS0,
				Retain:  true,
			}
			if err := srv.Publish(msg); err != nil {
				log.Printf("failed to publish status: %v", err)
			}
		}
	}
}
