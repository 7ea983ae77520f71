// Package server serves scopes to replicas over WebSocket.
//
// A connecting client first receives one ScopeState per scope. It then sends
// ScopeSync batches, each answered by a Reply, and receives as ScopeSync the
// batches other clients get accepted.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/model"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 8 << 20
	defaultSendSize = 256
)

// Hub fans scope changes out to connected clients.
type Hub struct {
	scopes   []*model.Scope
	upgrader gorilla.Upgrader
	log      zerolog.Logger
	sendSize int

	mu      sync.Mutex
	members []map[*client]struct{}
	closed  bool

	unsubscribe []func()
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) {
		h.log = l
	}
}

// WithSendBuffer sets how many outbound messages may queue per client before
// the client is dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendSize = n
		}
	}
}

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub serves scopes; a scope's position is its scopeIndex on the wire.
func NewHub(scopes []*model.Scope, opts ...Option) *Hub {
	h := &Hub{
		scopes:   scopes,
		log:      zerolog.Nop(),
		sendSize: defaultSendSize,
		members:  make([]map[*client]struct{}, len(scopes)),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i, s := range scopes {
		h.members[i] = make(map[*client]struct{})
		h.unsubscribe = append(h.unsubscribe, s.Subscribe(h.broadcast(i)))
	}
	return h
}

// OriginID returns the client id behind an origin value handed to change
// handlers, or "" when the batch did not come from a client of this hub.
func OriginID(origin any) string {
	if c, ok := origin.(*client); ok {
		return c.id
	}
	return ""
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*client]struct{})
	for _, m := range h.members {
		for c := range m {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// Handler returns the hub's HTTP routes: the WebSocket endpoint at /sync and
// a liveness probe at /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/sync", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := newClient(h, conn)
	log := h.log.With().Str("client", c.id).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	go c.writePump()
	defer func() {
		h.leave(c)
		c.close()
		log.Info().Msg("client disconnected")
	}()

	ctx := r.Context()
	for i := range h.scopes {
		if err := h.join(ctx, c, i); err != nil {
			log.Error().Err(err).Int("scopeIndex", i).Msg("sending scope state")
			return
		}
	}
	c.readPump(ctx, log)
}

// join sends the scope state and registers c for the changes that follow it.
func (h *Hub) join(ctx context.Context, c *client, i int) error {
	return h.scopes[i].SnapshotThen(ctx, func(snap *fragment.Snapshot) error {
		msg, err := json.Marshal(ScopeStateMessage{
			Type:         TypeScopeState,
			ScopeIndex:   i,
			RootFragment: snap.Root,
			Fragments:    snap.Fragments,
		})
		if err != nil {
			return err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return errHubClosed
		}
		if !c.enqueue(msg) {
			return errClientGone
		}
		h.members[i][c] = struct{}{}
		return nil
	})
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.members {
		delete(m, c)
	}
}

// broadcast returns the changes handler of scope i. It runs on the scope's
// serialized path so it only enqueues.
func (h *Hub) broadcast(i int) model.ChangeHandler {
	return func(applied []*fragment.SyncFragment, origin any) {
		msg, err := json.Marshal(ScopeSyncMessage{Type: TypeScopeSync, ScopeIndex: i, Fragments: applied})
		if err != nil {
			h.log.Error().Err(err).Int("scopeIndex", i).Msg("encoding changes")
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.members[i] {
			if any(c) == origin {
				continue
			}
			if !c.enqueue(msg) {
				delete(h.members[i], c)
				h.log.Warn().Str("client", c.id).Msg("send queue full, client dropped")
			}
		}
	}
}

// Close stops broadcasting and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var clients []*client
	for _, m := range h.members {
		for c := range m {
			clients = append(clients, c)
		}
		clear(m)
	}
	h.mu.Unlock()

	for _, unsubscribe := range h.unsubscribe {
		unsubscribe()
	}
	for _, c := range clients {
		c.close()
	}
}

var (
	errHubClosed  = errors.New("hub is closed")
	errClientGone = errors.New("client is gone")
)

// ListenAndServe serves handler on addr until ctx is done, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
