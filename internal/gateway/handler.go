// Package gateway bridges UI frontends to the session core over
// JSON-on-websocket. Each connection gets its own coordinator and chat
// stream bound to the identity presented in the upgrade request, and
// receives a room snapshot push after every state change.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/session"
	"github.com/mcdev12/focusroom/internal/store"
)

// Config holds websocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns defaults suitable for development. Restrict
// CheckOrigin before exposing the gateway publicly.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// Handler upgrades websocket connections and tracks the live clients.
type Handler struct {
	store    store.Store
	clock    clockwork.Clock
	config   Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHandler returns a gateway handler over the given store.
func NewHandler(st store.Store, clock clockwork.Clock, cfg Config) *Handler {
	return &Handler{
		store:  st,
		clock:  clock,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// The client's identity comes from the username and avatar query
// parameters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	avatar := r.URL.Query().Get("avatar")
	if avatar == "" {
		avatar = "cat.png"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity := session.Identity{Username: username, Avatar: avatar}
	cl := newClient(h, conn, identity)
	h.register(cl)

	log.Info().Str("username", username).Str("remote", r.RemoteAddr).Msg("gateway connection established")
	go cl.writePump()
	go cl.readPump()
}

// InSession reports whether any connected client is currently inside a
// session. The reaper uses it as its sweep gate.
func (h *Handler) InSession() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		if cl.coord.InSession() {
			return true
		}
	}
	return false
}

func (h *Handler) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, cl)
}

// Close tears down every connected client.
func (h *Handler) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
}
