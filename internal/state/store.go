package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/skillswap/realtime/internal/protocol"
)

// DefaultChatBacklog is how many chat messages a room retains in memory
// for hydrating late joiners. Older messages live only in the durable
// history store.
const DefaultChatBacklog = 200

// CodePatch carries the fields of a code change that were actually set.
// Nil fields are left untouched.
type CodePatch struct {
	Text       *string
	LanguageID *int
	Stdin      *string
}

// Snapshot is a consistent point-in-time copy of a room's full state,
// safe to hand out while writers keep mutating the room.
type Snapshot struct {
	RoomID     string
	Code       protocol.CodeState
	ChatLog    []protocol.ChatMessage
	Whiteboard protocol.Whiteboard
}

// roomState is the authoritative state of one room. All access goes
// through its mutex so a snapshot never observes a half-applied
// mutation.
type roomState struct {
	mu         sync.RWMutex
	code       protocol.CodeState
	chatLog    []protocol.ChatMessage
	whiteboard protocol.Whiteboard
}

// Store owns the in-memory state for every active room. It has no
// transport knowledge and performs no I/O.
//
// Chat sequence counters live on the Store rather than the room so
// eviction never resets them: a room's durable backlog outlives its
// in-memory state, and IDs assigned after a rejoin must not collide
// with IDs already replayed from that backlog.
type Store struct {
	mu          sync.RWMutex
	rooms       map[string]*roomState
	chatSeq     map[string]int64
	chatBacklog int
}

func NewStore(chatBacklog int) *Store {
	if chatBacklog <= 0 {
		chatBacklog = DefaultChatBacklog
	}
	return &Store{
		rooms:       make(map[string]*roomState),
		chatSeq:     make(map[string]int64),
		chatBacklog: chatBacklog,
	}
}

// GetOrCreate lazily creates the room and returns its current snapshot.
// It is idempotent and never fails.
func (s *Store) GetOrCreate(roomID string) Snapshot {
	s.room(roomID)
	return s.Snapshot(roomID)
}

func (s *Store) room(roomID string) *roomState {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r = &roomState{}
	s.rooms[roomID] = r
	return r
}

// ApplyCodeChange merges only the provided fields into the room's code
// state. Last write wins per field; arrival order is the only
// arbitration.
func (s *Store) ApplyCodeChange(roomID string, patch CodePatch) protocol.CodeState {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if patch.Text != nil {
		r.code.Text = *patch.Text
	}
	if patch.LanguageID != nil {
		r.code.LanguageID = *patch.LanguageID
	}
	if patch.Stdin != nil {
		r.code.Stdin = *patch.Stdin
	}
	return r.code
}

// AppendChatMessage appends to the room's log, assigning a monotonically
// increasing room-scoped ID when the caller did not supply one. The log
// is truncated to the most recent backlog entries, oldest first;
// truncation only affects the server-held hydration buffer, never
// messages already delivered to clients.
func (s *Store) AppendChatMessage(roomID string, msg protocol.ChatMessage) protocol.ChatMessage {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = strconv.FormatInt(s.nextChatSeq(roomID), 10)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	r.chatLog = append(r.chatLog, msg)
	if len(r.chatLog) > s.chatBacklog {
		trimmed := make([]protocol.ChatMessage, s.chatBacklog)
		copy(trimmed, r.chatLog[len(r.chatLog)-s.chatBacklog:])
		r.chatLog = trimmed
	}
	return msg
}

func (s *Store) nextChatSeq(roomID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatSeq[roomID]++
	return s.chatSeq[roomID]
}

// ReplaceWhiteboard installs a full new drawing snapshot. There is no
// merge: the whiteboard protocol is last full snapshot wins.
func (s *Store) ReplaceWhiteboard(roomID string, wb protocol.Whiteboard) protocol.Whiteboard {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.whiteboard = wb
	return r.whiteboard
}

// Snapshot returns a consistent copy of the room's state for hydrating
// a joiner. Mutating the returned value never affects the room.
func (s *Store) Snapshot(roomID string) Snapshot {
	r := s.room(roomID)
	r.mu.RLock()
	defer r.mu.RUnlock()

	chat := make([]protocol.ChatMessage, len(r.chatLog))
	copy(chat, r.chatLog)

	wb := protocol.Whiteboard{
		AppState: make(map[string]string, len(r.whiteboard.AppState)),
	}
	if len(r.whiteboard.Elements) > 0 {
		wb.Elements = append(wb.Elements, r.whiteboard.Elements...)
	}
	for k, v := range r.whiteboard.AppState {
		wb.AppState[k] = v
	}

	return Snapshot{
		RoomID:     roomID,
		Code:       r.code,
		ChatLog:    chat,
		Whiteboard: wb,
	}
}

// Evict drops a room from memory. Durable history and the room's chat
// sequence are untouched; the room reappears empty on the next join but
// keeps assigning IDs from where it left off.
func (s *Store) Evict(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// RoomCount reports how many rooms currently hold in-memory state.
func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
