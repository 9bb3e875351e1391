package realtime

import "encoding/json"

// Envelope is the wire format for both push events and control messages.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Kind names a push-event stream a consumer can bind a handler to.
type Kind string

const (
	// KindNotification delivers notification pushes.
	KindNotification Kind = "notification"
	// KindEventUpdated delivers state changes for events whose room is joined.
	KindEventUpdated Kind = "event_updated"
	// KindNewMessage delivers direct-message pushes.
	KindNewMessage Kind = "new_message"
	// KindConnectionError delivers local connect/read failures. Its payload is
	// an ErrorData; it never originates from the server.
	KindConnectionError Kind = "connection_error"
)

// Control message types sent from client to server.
const (
	TypeJoinEvent  = "join_event"
	TypeLeaveEvent = "leave_event"
)

// RoomData identifies an event room in join/leave control messages.
type RoomData struct {
	EventID int64 `json:"event_id"`
}

// ErrorData is the payload delivered to the connection-error handler.
type ErrorData struct {
	Error string `json:"error"`
}
