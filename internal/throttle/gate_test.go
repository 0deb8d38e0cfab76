package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) deliver(v int) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, v)
	}
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.values))
	copy(out, r.values)
	return out
}

func TestFirstEventPassesImmediately(t *testing.T) {
	g := NewGate(50 * time.Millisecond)
	defer g.Stop()
	rec := &recorder{}

	g.Offer("r1|c1", rec.deliver(1))

	assert.Equal(t, []int{1}, rec.snapshot())
}

func TestBurstFlushesOnlyLastEvent(t *testing.T) {
	g := NewGate(40 * time.Millisecond)
	defer g.Stop()
	rec := &recorder{}

	for i := 0; i < 50; i++ {
		g.Offer("r1|c1", rec.deliver(i))
	}

	// Leading edge only so far.
	require.Equal(t, []int{0}, rec.snapshot())

	time.Sleep(80 * time.Millisecond)

	got := rec.snapshot()
	require.GreaterOrEqual(t, len(got), 2)
	assert.LessOrEqual(t, len(got), 3)
	assert.Equal(t, 49, got[len(got)-1], "trailing flush must carry the last event of the burst")
}

func TestKeysAreIndependent(t *testing.T) {
	g := NewGate(50 * time.Millisecond)
	defer g.Stop()
	rec := &recorder{}

	g.Offer("r1|c1", rec.deliver(1))
	g.Offer("r1|c2", rec.deliver(2))

	assert.ElementsMatch(t, []int{1, 2}, rec.snapshot())
}

func TestQuietWindowResetsLeadingEdge(t *testing.T) {
	g := NewGate(20 * time.Millisecond)
	defer g.Stop()
	rec := &recorder{}

	g.Offer("k", rec.deliver(1))
	time.Sleep(60 * time.Millisecond)
	g.Offer("k", rec.deliver(2))

	assert.Equal(t, []int{1, 2}, rec.snapshot())
}

func TestCancelDropsPending(t *testing.T) {
	g := NewGate(30 * time.Millisecond)
	defer g.Stop()
	rec := &recorder{}

	g.Offer("k", rec.deliver(1))
	g.Offer("k", rec.deliver(2))
	g.Cancel("k")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []int{1}, rec.snapshot())
}

func TestStopRejectsFurtherOffers(t *testing.T) {
	g := NewGate(30 * time.Millisecond)
	rec := &recorder{}

	g.Offer("k", rec.deliver(1))
	g.Offer("k", rec.deliver(2))
	g.Stop()
	g.Offer("k", rec.deliver(3))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []int{1}, rec.snapshot())
}
