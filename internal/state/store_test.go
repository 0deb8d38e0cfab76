package state

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/realtime/internal/protocol"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func rawElems(ss ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ss))
	for i, s := range ss {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestGetOrCreateIdempotent(t *testing.T) {
	s := NewStore(0)

	first := s.GetOrCreate("r1")
	second := s.GetOrCreate("r1")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.RoomCount())
}

func TestApplyCodeChangeMergesProvidedFields(t *testing.T) {
	s := NewStore(0)

	s.ApplyCodeChange("r1", CodePatch{Text: strPtr("print(1)"), LanguageID: intPtr(71)})
	got := s.ApplyCodeChange("r1", CodePatch{Stdin: strPtr("42")})

	assert.Equal(t, "print(1)", got.Text)
	assert.Equal(t, 71, got.LanguageID)
	assert.Equal(t, "42", got.Stdin)

	// Last write wins per field.
	got = s.ApplyCodeChange("r1", CodePatch{Text: strPtr("print(2)")})
	assert.Equal(t, "print(2)", got.Text)
	assert.Equal(t, "42", got.Stdin)
}

func TestAppendChatMessageAssignsMonotonicIDs(t *testing.T) {
	s := NewStore(0)

	m1 := s.AppendChatMessage("r1", protocol.ChatMessage{Text: "one", AuthorIdentity: "a"})
	m2 := s.AppendChatMessage("r1", protocol.ChatMessage{Text: "two", AuthorIdentity: "b"})

	require.NotEmpty(t, m1.ID)
	require.NotEmpty(t, m2.ID)
	id1, _ := strconv.ParseInt(m1.ID, 10, 64)
	id2, _ := strconv.ParseInt(m2.ID, 10, 64)
	assert.Greater(t, id2, id1)
	assert.False(t, m1.SentAt.IsZero())

	// A caller-supplied ID is kept as-is.
	m3 := s.AppendChatMessage("r1", protocol.ChatMessage{ID: "ext-9", Text: "three"})
	assert.Equal(t, "ext-9", m3.ID)

	// IDs are room-scoped.
	other := s.AppendChatMessage("r2", protocol.ChatMessage{Text: "first"})
	assert.Equal(t, "1", other.ID)
}

func TestChatIDsSurviveEviction(t *testing.T) {
	s := NewStore(0)

	m1 := s.AppendChatMessage("r1", protocol.ChatMessage{Text: "before"})
	s.Evict("r1")
	m2 := s.AppendChatMessage("r1", protocol.ChatMessage{Text: "after"})

	// The durable backlog replayed to a rejoiner still carries the old
	// IDs, so post-eviction IDs must keep climbing, never restart.
	assert.NotEqual(t, m1.ID, m2.ID)
	id1, _ := strconv.ParseInt(m1.ID, 10, 64)
	id2, _ := strconv.ParseInt(m2.ID, 10, 64)
	assert.Greater(t, id2, id1)
}

func TestChatLogTruncatesOldestFirst(t *testing.T) {
	s := NewStore(3)

	for i := 0; i < 5; i++ {
		s.AppendChatMessage("r1", protocol.ChatMessage{Text: strconv.Itoa(i)})
	}

	snap := s.Snapshot("r1")
	require.Len(t, snap.ChatLog, 3)
	assert.Equal(t, "2", snap.ChatLog[0].Text)
	assert.Equal(t, "4", snap.ChatLog[2].Text)
}

func TestReplaceWhiteboardIsFullReplacement(t *testing.T) {
	s := NewStore(0)

	s.ReplaceWhiteboard("r1", protocol.Whiteboard{
		Elements: rawElems("[1]", "[2]"),
		AppState: map[string]string{"zoom": "1.5"},
	})
	got := s.ReplaceWhiteboard("r1", protocol.Whiteboard{
		Elements: rawElems("[3]"),
		AppState: map[string]string{"theme": "dark"},
	})

	require.Len(t, got.Elements, 1)
	assert.Equal(t, "[3]", string(got.Elements[0]))
	_, hadZoom := got.AppState["zoom"]
	assert.False(t, hadZoom)
}

func TestSnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	s := NewStore(0)
	s.AppendChatMessage("r1", protocol.ChatMessage{Text: "hi"})
	s.ReplaceWhiteboard("r1", protocol.Whiteboard{AppState: map[string]string{"zoom": "1"}})

	snap := s.Snapshot("r1")
	s.AppendChatMessage("r1", protocol.ChatMessage{Text: "later"})
	s.ReplaceWhiteboard("r1", protocol.Whiteboard{AppState: map[string]string{"zoom": "2"}})

	require.Len(t, snap.ChatLog, 1)
	assert.Equal(t, "hi", snap.ChatLog[0].Text)
	assert.Equal(t, "1", snap.Whiteboard.AppState["zoom"])
}

func TestEvictDropsRoomState(t *testing.T) {
	s := NewStore(0)
	s.ApplyCodeChange("r1", CodePatch{Text: strPtr("x")})

	s.Evict("r1")

	assert.Equal(t, 0, s.RoomCount())
	assert.Equal(t, "", s.Snapshot("r1").Code.Text)
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendChatMessage("r1", protocol.ChatMessage{Text: strconv.Itoa(i)})
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot("r1")
	require.Len(t, snap.ChatLog, 100)

	seen := make(map[string]bool, 100)
	for _, m := range snap.ChatLog {
		assert.False(t, seen[m.ID], "duplicate chat ID %s", m.ID)
		seen[m.ID] = true
	}
}
