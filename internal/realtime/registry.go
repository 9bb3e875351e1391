package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// RoomConn is the join/leave surface the registry multiplexes over.
type RoomConn interface {
	JoinRoom(eventID int64)
	LeaveRoom(eventID int64)
}

// Registry reference-counts room subscriptions so multiple views interested in
// the same event share one wire-level membership. It is the sole caller of
// JoinRoom/LeaveRoom.
type Registry struct {
	conn RoomConn
	log  *zerolog.Logger

	mu     sync.Mutex
	counts map[int64]int
}

// NewRegistry builds a registry over the given connection. Wire Resubscribe
// into the channel's reconnect hook so membership survives reconnects.
func NewRegistry(conn RoomConn, logger *zerolog.Logger) *Registry {
	return &Registry{
		conn:   conn,
		log:    logger,
		counts: make(map[int64]int),
	}
}

// Subscribe registers interest in an event room. The first subscriber issues
// the wire-level join. Release the returned handle to undo; release is safe to
// call more than once.
func (r *Registry) Subscribe(eventID int64) *Subscription {
	r.mu.Lock()
	r.counts[eventID]++
	first := r.counts[eventID] == 1
	r.mu.Unlock()

	if first {
		r.conn.JoinRoom(eventID)
	}
	return &Subscription{registry: r, eventID: eventID}
}

// Resubscribe re-issues joins for every room with active subscribers. The
// channel calls it after each (re)connect.
func (r *Registry) Resubscribe() {
	r.mu.Lock()
	rooms := make([]int64, 0, len(r.counts))
	for id := range r.counts {
		rooms = append(rooms, id)
	}
	r.mu.Unlock()

	for _, id := range rooms {
		r.conn.JoinRoom(id)
	}
	if len(rooms) > 0 {
		r.log.Debug().Int("rooms", len(rooms)).Msg("resubscribed event rooms")
	}
}

func (r *Registry) release(eventID int64) {
	r.mu.Lock()
	count, ok := r.counts[eventID]
	if !ok {
		r.mu.Unlock()
		return
	}
	count--
	last := count == 0
	if last {
		delete(r.counts, eventID)
	} else {
		r.counts[eventID] = count
	}
	r.mu.Unlock()

	if last {
		r.conn.LeaveRoom(eventID)
	}
}

// Subscription is one consumer's claim on an event room.
type Subscription struct {
	registry *Registry
	eventID  int64
	once     sync.Once
}

// EventID returns the subscribed room's event id.
func (s *Subscription) EventID() int64 {
	return s.eventID
}

// Release drops this claim. The last release for a room issues the wire-level
// leave. Releasing twice has no effect.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.registry.release(s.eventID)
	})
}
