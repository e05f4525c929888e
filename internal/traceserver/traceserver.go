// Package traceserver implements the live compile-event feed described
// in §4.10 of the originating spec: when ME_DSL_TRACE_WS names an
// address, a gorilla/websocket server broadcasts one JSON line per
// diag.Event to every connected client. It is strictly additive to
// stderr tracing — attaching a Hub as a diag.Tracer's Sink never
// blocks or fails a compile, since broadcast drops events to slow
// clients rather than waiting on them, the same non-blocking-fanout
// shape the teacher's internal/network/websocket code uses for its own
// connection broadcast loop.
package traceserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"medsl/internal/diag"
)

// clientBacklog bounds how many unsent events a slow client tolerates
// before Hub starts dropping its events rather than blocking the
// publisher.
const clientBacklog = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	out  chan diag.Event
}

// Hub is a diag.Sink that fans every published Event out to every
// currently connected websocket client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	server  *http.Server
}

// NewHub creates an empty Hub. Use Serve to start accepting
// connections.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish implements diag.Sink: it enqueues ev for every connected
// client, dropping it for any client whose backlog is full instead of
// blocking the caller.
func (h *Hub) Publish(ev diag.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- ev:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket connection and streams
// every subsequently published Event to it as a JSON text message,
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, out: make(chan diag.Event, clientBacklog)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard any client-sent frames so the connection
	// stays alive (a close frame or read error ends the loop); this
	// feed is publish-only from the server's side.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range c.out {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Serve starts an HTTP server on addr with the Hub mounted at "/" and
// blocks until ctx is canceled, at which point it shuts the server
// down gracefully. Intended to run in its own goroutine.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	h.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return h.server.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("traceserver: %v", err)
		}
		return err
	}
}
