package collab

import "time"

// Boundary event names shared between the session manager and the
// socket transport. Inbound events are registered in handlers/websocket;
// outbound events are emitted through each connection's Emitter.
const (
	EventUsersList     = "users-list"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventTextChange    = "text-change"
	EventCursorMove    = "cursor-move"
	EventDocumentSaved = "document-saved"
	EventError         = "error"
)

type (
	// UserJoinedEvent is sent to existing room members when a new member
	// is admitted.
	UserJoinedEvent struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
		Color       string `json:"color"`
	}

	// UserLeftEvent is sent to remaining room members on leave/disconnect.
	UserLeftEvent struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
	}

	// TextChangeEvent relays an edit to the rest of the room. Delta is an
	// opaque client representation; the server never interprets it.
	TextChangeEvent struct {
		Delta   any    `json:"delta"`
		Content string `json:"content"`
		UserID  string `json:"userId"`
	}

	// CursorMoveEvent relays a cursor position with the sender's presence
	// attached so peers can render a labelled caret.
	CursorMoveEvent struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
		Color       string `json:"color"`
		Position    any    `json:"position"`
	}

	// DocumentSavedEvent acknowledges an explicit save. Timestamp is only
	// set on success.
	DocumentSavedEvent struct {
		Success   bool       `json:"success"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}

	// ErrorEvent reports a failed request back to the originating
	// connection only.
	ErrorEvent struct {
		Message string `json:"message"`
	}
)
