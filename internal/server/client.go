package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// client is one WebSocket connection. The client pointer is the origin value
// of every batch it sends, which is how its own changes are kept from being
// echoed back.
type client struct {
	id   string
	hub  *Hub
	conn *gorilla.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	nextIndex atomic.Int64
}

func newClient(h *Hub, conn *gorilla.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.sendSize),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. A full queue closes the client.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(gorilla.CloseMessage,
				gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump handles inbound messages until the connection fails.
func (c *client) readPump(ctx context.Context, log zerolog.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, data, log)
	}
}

func (c *client) handle(ctx context.Context, data []byte, log zerolog.Logger) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Msg("dropping unparsable message")
		return
	}
	switch msg.Type {
	case TypeScopeSync:
		c.handleSync(ctx, msg, log)
	default:
		log.Debug().Str("type", msg.Type).Msg("ignoring message")
	}
}

func (c *client) handleSync(ctx context.Context, msg inbound, log zerolog.Logger) {
	if msg.ScopeIndex == nil || *msg.ScopeIndex < 0 || *msg.ScopeIndex >= len(c.hub.scopes) {
		c.fail(msg.Index, types.ErrScopeNotFound)
		return
	}
	scopeIndex := *msg.ScopeIndex

	batch, err := decodeFragments(msg.Fragments)
	if err != nil {
		log.Warn().Err(err).Int("scopeIndex", scopeIndex).Msg("rejecting sync message")
		c.fail(msg.Index, types.ErrCouldNotApplySyncMessage.Withf("%v", err))
		return
	}

	fragments := batch.valid()
	applied, err := c.hub.scopes[scopeIndex].ApplySyncFragments(ctx, fragments, c)
	if err != nil {
		log.Warn().Err(err).Int("scopeIndex", scopeIndex).Msg("sync message not applied")
		c.fail(msg.Index, types.ErrCouldNotApplySyncMessage.Withf("%v", err))
		return
	}
	log.Debug().Int("scopeIndex", scopeIndex).Int("fragments", len(fragments)).Msg("sync message applied")
	c.reply(msg.Index, SyncResponse{Results: batch.results(applied)})
}

func (c *client) fail(replyTo *int, e *types.Error) {
	c.reply(replyTo, FailureResponse{Result: false, Error: e})
}

// reply answers the message numbered replyTo. Messages sent without an index
// get no reply.
func (c *client) reply(replyTo *int, response any) {
	if replyTo == nil {
		return
	}
	msg, err := json.Marshal(ReplyMessage{
		Type:     TypeReply,
		Index:    int(c.nextIndex.Add(1)),
		ReplyTo:  *replyTo,
		Response: response,
	})
	if err != nil {
		c.hub.log.Error().Err(err).Str("client", c.id).Msg("encoding reply")
		return
	}
	c.enqueue(msg)
}
