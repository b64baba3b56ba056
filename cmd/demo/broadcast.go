package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rxsim/rx"
)

// stateMessage is the wire payload pushed to each connected observer: the
// object's current best-known state at the time the universe advanced it.
type stateMessage struct {
	Object string `json:"object"`
	Time   int64  `json:"time"`
	State  any    `json:"state,omitempty"`
}

// Broadcaster fans out ObserveState transitions for a fixed set of tracked
// objects to any number of websocket clients, mirroring the teacher's
// hub-to-client push model (server/hub.go's broadcastState) without any of
// its game-specific payload shaping.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewBroadcaster constructs a Broadcaster that accepts connections from any
// origin, matching the teacher's permissive demo-grade upgrader.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects (this demo is push-only: inbound messages are read and
// discarded, and the first read error ends the session).
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("demo: websocket upgrade failed: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish writes msg to every currently connected client, logging any
// write that fails. A broken connection stays registered until its own
// ServeHTTP goroutine's read loop notices and removes it.
func (b *Broadcaster) Publish(msg stateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Printf("demo: marshal state message: %v", err)
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Printf("demo: write to client failed: %v", err)
		}
	}
}

// Watch subscribes to object's state stream and forwards every emission to
// b until ctx is cancelled. It implements app.Broadcaster.
func (b *Broadcaster) Watch(ctx context.Context, universe *rx.Universe, object rx.ObjectID) {
	states, err := universe.ObserveState(ctx, object, 1<<62)
	if err != nil {
		b.logger.Printf("demo: observe %s: %v", object, err)
		return
	}
	for state := range states {
		b.Publish(stateMessage{Object: object.String(), Time: time.Now().UnixMilli(), State: state})
	}
}
