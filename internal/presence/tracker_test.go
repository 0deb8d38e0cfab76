package presence

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/realtime/internal/protocol"
)

func participant(identity, connID string) protocol.Participant {
	return protocol.Participant{
		Identity:     identity,
		DisplayName:  identity,
		ConnectionID: connID,
	}
}

func TestAttachDetachAccounting(t *testing.T) {
	tr := NewTracker()

	const n = 5
	for i := 0; i < n; i++ {
		tr.Attach("r1", participant(fmt.Sprintf("user-%d", i), fmt.Sprintf("conn-%d", i)))
	}
	require.Len(t, tr.List("r1"), n)

	// Disconnect two of them.
	tr.Detach("r1", "conn-1")
	remaining := tr.Detach("r1", "conn-3")

	require.Len(t, remaining, n-2)
	for _, p := range remaining {
		assert.NotEqual(t, "user-1", p.Identity)
		assert.NotEqual(t, "user-3", p.Identity)
	}
}

func TestAttachUpdatesExistingConnection(t *testing.T) {
	tr := NewTracker()

	tr.Attach("r1", participant("alice", "c1"))
	p := participant("alice", "c1")
	p.DisplayName = "Alice M"
	set := tr.Attach("r1", p)

	require.Len(t, set, 1)
	assert.Equal(t, "Alice M", set[0].DisplayName)
}

func TestReconnectKeepsDistinctEntriesUntilOldDetaches(t *testing.T) {
	tr := NewTracker()

	tr.Attach("r1", participant("alice", "c-old"))
	set := tr.Attach("r1", participant("alice", "c-new"))
	require.Len(t, set, 2)

	// Old connection's disconnect arrives after the rejoin; only the
	// live connection remains either way.
	set = tr.Detach("r1", "c-old")
	require.Len(t, set, 1)
	assert.Equal(t, "c-new", set[0].ConnectionID)
	assert.True(t, tr.Online("r1", "alice"))
}

func TestDetachLastConnectionTakesIdentityOffline(t *testing.T) {
	tr := NewTracker()
	tr.Attach("r1", participant("alice", "c1"))

	set := tr.Detach("r1", "c1")

	assert.Empty(t, set)
	assert.False(t, tr.Online("r1", "alice"))
}

func TestUnknownRoomAndConnectionAreNoOps(t *testing.T) {
	tr := NewTracker()

	assert.Empty(t, tr.Detach("ghost", "c1"))
	assert.Empty(t, tr.List("ghost"))

	_, ok := tr.SetTyping("ghost", "c1", true)
	assert.False(t, ok)

	tr.Attach("r1", participant("alice", "c1"))
	_, ok = tr.SetTyping("r1", "ghost-conn", true)
	assert.False(t, ok)
}

func TestSetTypingOnlyFlipsFlag(t *testing.T) {
	tr := NewTracker()
	tr.Attach("r1", participant("alice", "c1"))

	p, ok := tr.SetTyping("r1", "c1", true)
	require.True(t, ok)
	assert.True(t, p.IsTyping)
	assert.Equal(t, "alice", p.Identity)

	p, ok = tr.SetTyping("r1", "c1", false)
	require.True(t, ok)
	assert.False(t, p.IsTyping)
}
