package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// wsTestServer accepts push connections and records the control messages
// clients send, so tests can drive both directions of the wire.
type wsTestServer struct {
	accepts atomic.Int32
	control chan Envelope

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
}

func newWSTestServer(t *testing.T) (*wsTestServer, string) {
	t.Helper()
	ws := &wsTestServer{control: make(chan Envelope, 16)}
	srv := httptest.NewServer(http.HandlerFunc(ws.handle))
	t.Cleanup(srv.Close)
	return ws, srv.URL
}

func (s *wsTestServer) handle(w http.ResponseWriter, r *http.Request) {
	s.accepts.Add(1)
	s.mu.Lock()
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var env Envelope
		if err := wsjson.Read(r.Context(), conn, &env); err != nil {
			return
		}
		s.control <- env
	}
}

// latest waits briefly for the handler goroutine to record the accepted
// connection; the client's dial can return a beat before that happens.
func (s *wsTestServer) latest() *websocket.Conn {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if n := len(s.conns); n > 0 {
			conn := s.conns[n-1]
			s.mu.Unlock()
			return conn
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (s *wsTestServer) push(t *testing.T, kind Kind, payload any) {
	t.Helper()
	conn := s.latest()
	if conn == nil {
		t.Fatalf("no client connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal push: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Envelope{Type: string(kind), Data: data}); err != nil {
		t.Fatalf("write push: %v", err)
	}
}

func recvEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for control message")
		return Envelope{}
	}
}

func recvRaw(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for push event")
		return nil
	}
}

func newTestChannel(t *testing.T, baseURL string) *Channel {
	t.Helper()
	logger := zerolog.Nop()
	ch := NewChannel(baseURL, &logger)
	t.Cleanup(ch.Disconnect)
	return ch
}

func TestChannel_DispatchesInServerOrder(t *testing.T) {
	srv, url := newWSTestServer(t)
	ch := newTestChannel(t, url)

	got := make(chan json.RawMessage, 3)
	ch.On(KindNotification, func(data json.RawMessage) { got <- data })

	ch.Connect(context.Background(), "tok1")
	if !ch.Connected() {
		t.Fatalf("expected channel to be connected")
	}

	for i := 1; i <= 3; i++ {
		srv.push(t, KindNotification, map[string]int{"seq": i})
	}

	for i := 1; i <= 3; i++ {
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(recvRaw(t, got), &payload); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		if payload.Seq != i {
			t.Fatalf("push %d arrived out of order: got seq %d", i, payload.Seq)
		}
	}
}

func TestChannel_JoinAndLeaveRoom(t *testing.T) {
	srv, url := newWSTestServer(t)
	ch := newTestChannel(t, url)
	ch.Connect(context.Background(), "tok1")

	ch.JoinRoom(7)
	env := recvEnvelope(t, srv.control)
	if env.Type != TypeJoinEvent {
		t.Fatalf("expected %s, got %s", TypeJoinEvent, env.Type)
	}
	var room RoomData
	if err := json.Unmarshal(env.Data, &room); err != nil {
		t.Fatalf("decode room data: %v", err)
	}
	if room.EventID != 7 {
		t.Fatalf("expected event 7, got %d", room.EventID)
	}

	ch.LeaveRoom(7)
	env = recvEnvelope(t, srv.control)
	if env.Type != TypeLeaveEvent {
		t.Fatalf("expected %s, got %s", TypeLeaveEvent, env.Type)
	}
}

func TestChannel_ConnectIsIdempotentPerToken(t *testing.T) {
	srv, url := newWSTestServer(t)
	ch := newTestChannel(t, url)

	ch.Connect(context.Background(), "tok1")
	ch.Connect(context.Background(), "tok1")
	if got := srv.accepts.Load(); got != 1 {
		t.Fatalf("expected one dial for repeated token, got %d", got)
	}

	ch.Connect(context.Background(), "tok2")
	if got := srv.accepts.Load(); got != 2 {
		t.Fatalf("expected re-dial for new token, got %d dials", got)
	}

	srv.mu.Lock()
	lastToken := srv.tokens[len(srv.tokens)-1]
	srv.mu.Unlock()
	if lastToken != "tok2" {
		t.Fatalf("expected handshake with tok2, got %q", lastToken)
	}
}

func TestChannel_ReconnectHookRunsOnConnect(t *testing.T) {
	_, url := newWSTestServer(t)
	ch := newTestChannel(t, url)

	fired := make(chan struct{}, 1)
	ch.OnReconnect(func() { fired <- struct{}{} })

	ch.Connect(context.Background(), "tok1")
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("reconnect hook never ran")
	}
}

func TestChannel_DialFailureEmitsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening

	ch := newTestChannel(t, srv.URL)
	errs := make(chan json.RawMessage, 1)
	ch.On(KindConnectionError, func(data json.RawMessage) { errs <- data })

	ch.Connect(context.Background(), "tok1")

	var payload ErrorData
	if err := json.Unmarshal(recvRaw(t, errs), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error == "" {
		t.Fatalf("expected a non-empty error message")
	}
	if ch.Connected() {
		t.Fatalf("expected channel to stay disconnected")
	}
}

func TestChannel_ServerDropEmitsConnectionError(t *testing.T) {
	srv, url := newWSTestServer(t)
	ch := newTestChannel(t, url)

	errs := make(chan json.RawMessage, 1)
	ch.On(KindConnectionError, func(data json.RawMessage) { errs <- data })
	ch.Connect(context.Background(), "tok1")

	if err := srv.latest().Close(websocket.StatusInternalError, "boom"); err != nil {
		t.Fatalf("server close: %v", err)
	}

	recvRaw(t, errs)
	if ch.Connected() {
		t.Fatalf("expected channel to report disconnected after drop")
	}
}

func TestChannel_DisconnectDuringDial(t *testing.T) {
	var enterOnce, releaseOnce sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enterOnce.Do(func() { close(entered) })
		<-release
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "bye")
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	ch := newTestChannel(t, srv.URL)

	dialDone := make(chan struct{})
	go func() {
		ch.Connect(context.Background(), "tok1")
		close(dialDone)
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("dial never reached the server")
	}

	// Room writes and Disconnect must not wait out the handshake.
	opsDone := make(chan struct{})
	go func() {
		ch.JoinRoom(7)
		ch.Disconnect()
		close(opsDone)
	}()
	select {
	case <-opsDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("channel operations blocked behind an in-flight dial")
	}

	releaseOnce.Do(func() { close(release) })
	select {
	case <-dialDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("dial never finished")
	}

	// The handshake eventually succeeded, but Disconnect happened first; the
	// stale dial result must be discarded.
	if ch.Connected() {
		t.Fatalf("superseded dial installed a connection")
	}
}

func TestChannel_NoopWhenDisconnected(t *testing.T) {
	_, url := newWSTestServer(t)
	ch := newTestChannel(t, url)

	// None of these may panic or dial.
	ch.JoinRoom(7)
	ch.LeaveRoom(7)
	ch.Disconnect()

	if ch.Connected() {
		t.Fatalf("expected disconnected channel")
	}
}
