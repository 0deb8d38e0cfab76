package throttle

import (
	"sync"
	"time"
)

// DefaultWindow bounds high-frequency event fan-out to one delivery per
// key per window.
const DefaultWindow = 100 * time.Millisecond

type entry struct {
	timer   *time.Timer
	pending func()
}

// Gate debounces high-frequency events per (room, connection) key. The
// first event in an idle window is delivered immediately; anything
// arriving before the window elapses replaces a single pending slot
// that is flushed when it does. The last event of a burst is therefore
// always the one delivered, never an arbitrary earlier one.
type Gate struct {
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Offer submits a delivery for the key. It either runs deliver right
// away (leading edge) or retains it as the key's pending delivery,
// overwriting any earlier pending one.
func (g *Gate) Offer(key string, deliver func()) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}

	if e, ok := g.entries[key]; ok {
		e.pending = deliver
		g.mu.Unlock()
		return
	}

	e := &entry{}
	e.timer = time.AfterFunc(g.window, func() { g.expire(key) })
	g.entries[key] = e
	g.mu.Unlock()

	deliver()
}

func (g *Gate) expire(key string) {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok || g.closed {
		g.mu.Unlock()
		return
	}

	if e.pending == nil {
		// Idle window with nothing retained; the key goes quiet.
		delete(g.entries, key)
		g.mu.Unlock()
		return
	}

	deliver := e.pending
	e.pending = nil
	e.timer = time.AfterFunc(g.window, func() { g.expire(key) })
	g.mu.Unlock()

	deliver()
}

// Cancel drops any pending delivery for the key. Used when the
// connection behind it goes away.
func (g *Gate) Cancel(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok {
		e.timer.Stop()
		delete(g.entries, key)
	}
}

// Stop cancels every pending delivery and rejects further offers.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for key, e := range g.entries {
		e.timer.Stop()
		delete(g.entries, key)
	}
}
