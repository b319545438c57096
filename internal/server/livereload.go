package server

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"sitepipe/internal/core"
	"sitepipe/internal/logging"
	"sitepipe/internal/metrics"
)

// Live-reload endpoints, shared by static and proxy mode.
const (
	LiveReloadPath   = "/__sitepipe/livereload"
	LiveReloadScript = "/__sitepipe/livereload.js"
)

// Message kinds sent to clients.
const (
	KindHello  = "hello"
	KindCSS    = "css"
	KindReload = "reload"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

//go:embed livereload.js
var clientScript []byte

// Message is one live-reload notification.
type Message struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths,omitempty"`
}

type client struct {
	msgs chan Message
	conn *websocket.Conn
}

// Hub fans notifications out to connected browsers. It implements the
// stage Notifier.
type Hub struct {
	variant core.Variant
	log     *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub for one variant.
func NewHub(v core.Variant, log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{variant: v, log: log, clients: make(map[*client]struct{})}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify tells clients that paths changed. Stylesheets alone are hot
// swapped; anything else reloads the page.
func (h *Hub) Notify(paths []string) {
	if len(paths) == 0 {
		return
	}
	kind := KindCSS
	for _, p := range paths {
		if strings.ToLower(path.Ext(p)) != ".css" {
			kind = KindReload
			break
		}
	}
	h.broadcast(Message{Type: kind, Paths: append([]string(nil), paths...)})
}

// Reload forces a full page reload on every client.
func (h *Hub) Reload() {
	h.broadcast(Message{Type: KindReload})
}

func (h *Hub) broadcast(msg Message) {
	metrics.LiveReloadBroadcastsTotal.WithLabelValues(string(h.variant), msg.Type).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.msgs <- msg:
		default:
			// Too slow to keep up; it reconnects and reloads.
			h.removeLocked(c)
			go c.conn.Close(websocket.StatusPolicyViolation, "too slow")
		}
	}
	h.log.Debug("Live reload broadcast", "kind", msg.Type, "paths", len(msg.Paths), "clients", len(h.clients))
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.LiveReloadClients.WithLabelValues(string(h.variant)).Set(float64(n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.LiveReloadClients.WithLabelValues(string(h.variant)).Set(float64(len(h.clients)))
}

// ServeHTTP upgrades the request and streams notifications until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Debug("Live reload upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := &client{msgs: make(chan Message, clientBuffer), conn: conn}
	c.msgs <- Message{Type: KindHello}
	h.add(c)
	defer h.remove(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.msgs:
			if err := writeMessage(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
		go c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func serveClientScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(clientScript)
}
