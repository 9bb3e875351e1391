package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler receives the raw payload of one push event.
type Handler func(data json.RawMessage)

// Channel manages the single push connection for an authenticated session.
// Connect and Disconnect belong to the session coordinator; JoinRoom and
// LeaveRoom belong to the subscription registry. Consumers only bind handlers.
type Channel struct {
	baseURL string
	log     *zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	token  string
	epoch  uint64 // bumped on teardown so an in-flight dial cannot install a stale conn
	cancel context.CancelFunc
	rooms  map[int64]struct{}

	handlerMu sync.Mutex
	handlers  map[Kind]Handler
	reconnect func()
}

// NewChannel builds a channel dialing <baseURL>/ws. baseURL accepts http(s)
// or ws(s) schemes.
func NewChannel(baseURL string, logger *zerolog.Logger) *Channel {
	return &Channel{
		baseURL:  baseURL,
		log:      logger,
		rooms:    make(map[int64]struct{}),
		handlers: make(map[Kind]Handler),
	}
}

// Connect establishes the push connection authenticated with accessToken.
// Calling it while already connected with the same token is a no-op; a
// different token tears down the old connection first. Failures are logged
// and delivered to the connection-error handler, not returned.
func (c *Channel) Connect(ctx context.Context, accessToken string) {
	c.mu.Lock()
	if c.conn != nil {
		if c.token == accessToken {
			c.mu.Unlock()
			return
		}
		c.teardownLocked("reconnecting with new token")
	}
	epoch := c.epoch
	c.mu.Unlock()

	// Dial without holding the lock so room writes and Disconnect stay
	// responsive while the handshake is in flight.
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.baseURL+"/ws?token="+url.QueryEscape(accessToken), nil)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Msg("realtime dial failed")
		c.emitError(err)
		return
	}

	c.mu.Lock()
	if c.conn != nil || c.epoch != epoch {
		// A concurrent Connect or Disconnect superseded this dial.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	readCtx, readCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.token = accessToken
	c.cancel = readCancel
	c.rooms = make(map[int64]struct{})
	go c.readLoop(readCtx, conn)
	c.mu.Unlock()

	c.log.Debug().Msg("realtime connected")

	c.handlerMu.Lock()
	hook := c.reconnect
	c.handlerMu.Unlock()
	if hook != nil {
		hook()
	}
}

// Disconnect tears down the active connection and clears room membership.
// Safe to call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.teardownLocked("disconnecting")
	c.mu.Unlock()
}

// Connected reports whether a push connection is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// On registers the handler for a push-event kind, replacing any previous one.
// Handlers run on the read goroutine; events of one kind keep server order.
func (c *Channel) On(kind Kind, h Handler) {
	c.handlerMu.Lock()
	c.handlers[kind] = h
	c.handlerMu.Unlock()
}

// Off removes the handler for a push-event kind.
func (c *Channel) Off(kind Kind) {
	c.handlerMu.Lock()
	delete(c.handlers, kind)
	c.handlerMu.Unlock()
}

// OnReconnect installs the hook invoked after every successful (re)connect.
// The subscription registry uses it to restore room membership.
func (c *Channel) OnReconnect(fn func()) {
	c.handlerMu.Lock()
	c.reconnect = fn
	c.handlerMu.Unlock()
}

// JoinRoom requests membership in an event room. Dropped without error when
// the connection is not open; reconnect logic re-issues joins.
func (c *Channel) JoinRoom(eventID int64) {
	c.sendRoom(TypeJoinEvent, eventID)
}

// LeaveRoom gives up membership in an event room. Dropped when not connected.
func (c *Channel) LeaveRoom(eventID int64) {
	c.sendRoom(TypeLeaveEvent, eventID)
}

func (c *Channel) sendRoom(msgType string, eventID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.log.Debug().Str("type", msgType).Int64("event_id", eventID).Msg("dropped room message, not connected")
		return
	}

	data, err := json.Marshal(RoomData{EventID: eventID})
	if err != nil {
		c.log.Error().Err(err).Msg("marshal room message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, Envelope{Type: msgType, Data: data}); err != nil {
		c.log.Warn().Err(err).Str("type", msgType).Int64("event_id", eventID).Msg("write room message")
		return
	}

	if msgType == TypeJoinEvent {
		c.rooms[eventID] = struct{}{}
	} else {
		delete(c.rooms, eventID)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				c.cancel = nil
				c.token = ""
				c.rooms = make(map[int64]struct{})
			}
			c.mu.Unlock()

			if current && !isLocalClose(err) {
				c.log.Warn().Err(err).Msg("realtime connection lost")
				c.emitError(err)
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.handlerMu.Lock()
	h := c.handlers[Kind(env.Type)]
	c.handlerMu.Unlock()

	if h == nil {
		c.log.Debug().Str("type", env.Type).Msg("unhandled push event")
		return
	}
	h(env.Data)
}

func (c *Channel) emitError(err error) {
	c.handlerMu.Lock()
	h := c.handlers[KindConnectionError]
	c.handlerMu.Unlock()
	if h == nil {
		return
	}
	data, _ := json.Marshal(ErrorData{Error: err.Error()})
	h(data)
}

// teardownLocked closes the connection and clears state. Caller holds c.mu.
func (c *Channel) teardownLocked(reason string) {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, reason)
		c.conn = nil
	}
	c.token = ""
	c.rooms = make(map[int64]struct{})
}

func isLocalClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
