package presence

import (
	"sort"
	"sync"

	"github.com/skillswap/realtime/internal/protocol"
)

// Tracker maintains the live participant set per room, keyed by
// connection ID. Transport disconnects can race with room cleanup, so
// every operation on an unknown room or connection is a no-op rather
// than an error.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]protocol.Participant
}

func NewTracker() *Tracker {
	return &Tracker{
		rooms: make(map[string]map[string]protocol.Participant),
	}
}

// Attach adds or updates the participant under its connection ID and
// returns the full updated presence set for the room. A reconnecting
// identity gets a second entry until its old connection detaches.
func (t *Tracker) Attach(roomID string, p protocol.Participant) []protocol.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		room = make(map[string]protocol.Participant)
		t.rooms[roomID] = room
	}
	room[p.ConnectionID] = p
	return listLocked(room)
}

// Detach removes exactly the entry for the given connection and returns
// the remaining presence set.
func (t *Tracker) Detach(roomID, connectionID string) []protocol.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(t.rooms, roomID)
		return nil
	}
	return listLocked(room)
}

// SetTyping flips the typing flag for one connection, leaving everything
// else untouched. The updated participant is returned when the entry
// exists.
func (t *Tracker) SetTyping(roomID, connectionID string, isTyping bool) (protocol.Participant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		return protocol.Participant{}, false
	}
	p, ok := room[connectionID]
	if !ok {
		return protocol.Participant{}, false
	}
	p.IsTyping = isTyping
	room[connectionID] = p
	return p, true
}

// List returns the current presence set for a room.
func (t *Tracker) List(roomID string) []protocol.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	return listLocked(room)
}

// Online reports whether an identity still has at least one attached
// connection in the room.
func (t *Tracker) Online(roomID, identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.rooms[roomID] {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

func listLocked(room map[string]protocol.Participant) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}
