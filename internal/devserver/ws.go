package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hopon-app/hopon-go/internal/realtime"
)

const pushWriteTimeout = 10 * time.Second

type wsClient struct {
	userID  int64
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// hub tracks connected push clients and their room membership.
type hub struct {
	log *zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	rooms   map[int64]map[*wsClient]struct{}
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{
		log:     logger,
		clients: make(map[*wsClient]struct{}),
		rooms:   make(map[int64]map[*wsClient]struct{}),
	}
}

func (h *hub) register(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	for id, members := range h.rooms {
		delete(members, cl)
		if len(members) == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()
}

func (h *hub) joinRoom(cl *wsClient, eventID int64) {
	h.mu.Lock()
	if h.rooms[eventID] == nil {
		h.rooms[eventID] = make(map[*wsClient]struct{})
	}
	h.rooms[eventID][cl] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) leaveRoom(cl *wsClient, eventID int64) {
	h.mu.Lock()
	if members := h.rooms[eventID]; members != nil {
		delete(members, cl)
		if len(members) == 0 {
			delete(h.rooms, eventID)
		}
	}
	h.mu.Unlock()
}

// RoomSize reports how many push clients are joined to an event room.
// Tests use it to wait for a join_event control message to land.
func (s *Server) RoomSize(eventID int64) int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.rooms[eventID])
}

func (h *hub) pushToUser(userID int64, kind realtime.Kind, payload any) {
	h.mu.Lock()
	targets := make([]*wsClient, 0, 1)
	for cl := range h.clients {
		if cl.userID == userID {
			targets = append(targets, cl)
		}
	}
	h.mu.Unlock()
	h.push(targets, kind, payload)
}

func (h *hub) pushToRoom(eventID int64, kind realtime.Kind, payload any) {
	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.rooms[eventID]))
	for cl := range h.rooms[eventID] {
		targets = append(targets, cl)
	}
	h.mu.Unlock()
	h.push(targets, kind, payload)
}

func (h *hub) push(targets []*wsClient, kind realtime.Kind, payload any) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(kind)).Msg("marshal push payload")
		return
	}
	env := realtime.Envelope{Type: string(kind), Data: data}
	for _, cl := range targets {
		cl.writeMu.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), pushWriteTimeout)
		if err := wsjson.Write(ctx, cl.conn, env); err != nil {
			h.log.Debug().Err(err).Int64("user_id", cl.userID).Msg("push write failed")
		}
		cancel()
		cl.writeMu.Unlock()
	}
}

// GET /ws?token=...
func (s *Server) handleWS(c *gin.Context) {
	claims, err := s.tokens.validateAccess(c.Query("token"))
	if err != nil {
		s.log.Debug().Err(err).Msg("ws handshake rejected")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	cl := &wsClient{userID: claims.UserID, conn: conn}
	s.hub.register(cl)
	defer s.hub.unregister(cl)

	s.log.Debug().Int64("user_id", cl.userID).Msg("push client connected")

	err = s.readControl(c.Request.Context(), conn, cl)
	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if st := websocket.CloseStatus(err); st != -1 {
			status = st
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			s.log.Debug().Err(err).Int64("user_id", cl.userID).Msg("push client closed with error")
		}
	}
	conn.Close(status, reason)
}

func (s *Server) readControl(ctx context.Context, conn *websocket.Conn, cl *wsClient) error {
	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}

		switch env.Type {
		case realtime.TypeJoinEvent:
			var room realtime.RoomData
			if err := json.Unmarshal(env.Data, &room); err != nil {
				s.log.Debug().Err(err).Msg("bad join_event payload")
				continue
			}
			s.hub.joinRoom(cl, room.EventID)
		case realtime.TypeLeaveEvent:
			var room realtime.RoomData
			if err := json.Unmarshal(env.Data, &room); err != nil {
				s.log.Debug().Err(err).Msg("bad leave_event payload")
				continue
			}
			s.hub.leaveRoom(cl, room.EventID)
		default:
			s.log.Debug().Str("type", env.Type).Msg("unknown control message")
		}
	}
}
