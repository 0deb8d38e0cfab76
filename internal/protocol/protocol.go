package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client → server event kinds.
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventCodeChange       = "code_change"
	EventStdinChange      = "stdin_change"
	EventLanguageChange   = "language_change"
	EventChatSend         = "chat_send"
	EventTyping           = "typing"
	EventWhiteboardChange = "whiteboard_change"
	EventWhiteboardJoin   = "whiteboard_join"
	EventCodeRun          = "code_run"
)

// Server → client event kinds.
const (
	EventRoomJoined       = "room_joined"
	EventChatMessage      = "chat_message"
	EventChatHistory      = "chat_history"
	EventPresenceUpdate   = "presence_update"
	EventWhiteboardUpdate = "whiteboard_update"
	EventExecutionResult  = "execution_result"
	EventError            = "error"
)

// Validation errors returned to the originating connection only.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotInRoom        = errors.New("not in room")
	ErrRoomNotFound     = errors.New("room not found")
)

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload into a marshaled envelope.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// Participant is one attached connection in a room. Identity may appear
// under several connection IDs at once while an old connection drains.
type Participant struct {
	Identity     string `json:"identity"`
	DisplayName  string `json:"displayName"`
	ConnectionID string `json:"connectionId"`
	IsTyping     bool   `json:"isTyping"`
}

// ChatMessage is immutable once appended to a room's log.
type ChatMessage struct {
	ID                string    `json:"id"`
	AuthorIdentity    string    `json:"authorIdentity"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	Text              string    `json:"text"`
	SentAt            time.Time `json:"sentAt"`
}

// CodeState is the shared editor state of a room.
type CodeState struct {
	Text       string `json:"text"`
	LanguageID int    `json:"languageId"`
	Stdin      string `json:"stdin"`
}

// Whiteboard holds the last-known-good drawing snapshot. Elements are
// opaque to the sync layer; each update replaces the whole collection.
type Whiteboard struct {
	Elements []json.RawMessage `json:"elements"`
	AppState map[string]string `json:"appState"`
}

// Client → server payloads.

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// CodeChangePayload carries only the fields the client actually changed;
// nil fields are left untouched on the server (last write wins per field).
type CodeChangePayload struct {
	RoomID     string  `json:"roomId"`
	Text       *string `json:"text,omitempty"`
	LanguageID *int    `json:"languageId,omitempty"`
	Stdin      *string `json:"stdin,omitempty"`
}

type ChatSendPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type WhiteboardChangePayload struct {
	RoomID   string            `json:"roomId"`
	Elements []json.RawMessage `json:"elements"`
	AppState map[string]string `json:"appState"`
}

type WhiteboardJoinPayload struct {
	RoomID string `json:"roomId"`
}

type CodeRunPayload struct {
	RoomID string `json:"roomId"`
}

// Server → client payloads.

// RoomJoinedPayload hydrates a joining client with the full authoritative
// room state. It is sent to the requester only.
type RoomJoinedPayload struct {
	RoomID       string        `json:"roomId"`
	Code         CodeState     `json:"code"`
	ChatLog      []ChatMessage `json:"chatLog"`
	Whiteboard   Whiteboard    `json:"whiteboard"`
	Participants []Participant `json:"participants"`
	You          Participant   `json:"you"`
}

type ChatMessagePayload struct {
	RoomID  string      `json:"roomId"`
	Message ChatMessage `json:"message"`
}

type ChatHistoryPayload struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

type PresenceUpdatePayload struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// CodeDeltaPayload is the peer-facing echo of a code/stdin/language change,
// stamped with the server-verified author identity.
type CodeDeltaPayload struct {
	RoomID         string  `json:"roomId"`
	AuthorIdentity string  `json:"authorIdentity"`
	Text           *string `json:"text,omitempty"`
	LanguageID     *int    `json:"languageId,omitempty"`
	Stdin          *string `json:"stdin,omitempty"`
}

type TypingBroadcastPayload struct {
	RoomID       string `json:"roomId"`
	Identity     string `json:"identity"`
	ConnectionID string `json:"connectionId"`
	IsTyping     bool   `json:"isTyping"`
}

type WhiteboardUpdatePayload struct {
	RoomID         string            `json:"roomId"`
	AuthorIdentity string            `json:"authorIdentity,omitempty"`
	Elements       []json.RawMessage `json:"elements"`
	AppState       map[string]string `json:"appState"`
}

type ExecutionResultPayload struct {
	RoomID string `json:"roomId"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode maps a validation error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	default:
		return "internal"
	}
}
