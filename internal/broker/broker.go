package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/skillswap/realtime/internal/history"
	"github.com/skillswap/realtime/internal/identity"
	"github.com/skillswap/realtime/internal/presence"
	"github.com/skillswap/realtime/internal/protocol"
	"github.com/skillswap/realtime/internal/sandbox"
	"github.com/skillswap/realtime/internal/state"
	"github.com/skillswap/realtime/internal/throttle"
)

const collaboratorTimeout = 5 * time.Second

// Conn is one client connection as the broker sees it. The websocket
// adapter implements it; tests use in-memory doubles.
type Conn interface {
	ID() string
	Identity() string
	DisplayName() string
	Send(data []byte) error
	Close() error
}

// session tracks which rooms a connection is currently joined to. It is
// owned by the run loop.
type session struct {
	conn  Conn
	rooms map[string]struct{}
}

func (s *session) in(roomID string) bool {
	_, ok := s.rooms[roomID]
	return ok
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdEvent
	cmdRelay
)

type command struct {
	kind      cmdKind
	conn      Conn
	env       protocol.Envelope
	relayRoom string
	relayData []byte
	done      chan struct{}
}

type handlerFunc func(sess *session, payload json.RawMessage)

// Config wires the broker's collaborators. History and Runner are
// optional; without them joins skip the durable backlog and code_run is
// rejected.
type Config struct {
	Store          *state.Store
	Presence       *presence.Tracker
	History        history.Store
	Authorizer     identity.Authorizer
	Runner         sandbox.Runner
	ThrottleWindow time.Duration
}

// Broker is the single funnel for every client-originated mutation.
// One run loop applies commands sequentially, which makes snapshots
// atomic and preserves per-room arrival order without per-room locks.
type Broker struct {
	store    *state.Store
	presence *presence.Tracker
	history  history.Store
	auth     identity.Authorizer
	runner   sandbox.Runner
	gate     *throttle.Gate

	events chan command
	quit   chan struct{}

	// mu guards sessions and rooms for Stats readers; the run loop is
	// the only writer.
	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]*session

	handlers map[string]handlerFunc
}

func New(cfg Config) *Broker {
	b := &Broker{
		store:    cfg.Store,
		presence: cfg.Presence,
		history:  cfg.History,
		auth:     cfg.Authorizer,
		runner:   cfg.Runner,
		gate:     throttle.NewGate(cfg.ThrottleWindow),
		events:   make(chan command, 256),
		quit:     make(chan struct{}),
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
	if b.auth == nil {
		b.auth = identity.AllowAll{}
	}

	b.handlers = map[string]handlerFunc{
		protocol.EventJoinRoom:         b.handleJoin,
		protocol.EventLeaveRoom:        b.handleLeave,
		protocol.EventCodeChange:       b.codeHandler(protocol.EventCodeChange),
		protocol.EventStdinChange:      b.codeHandler(protocol.EventStdinChange),
		protocol.EventLanguageChange:   b.codeHandler(protocol.EventLanguageChange),
		protocol.EventChatSend:         b.handleChatSend,
		protocol.EventTyping:           b.handleTyping,
		protocol.EventWhiteboardChange: b.handleWhiteboardChange,
		protocol.EventWhiteboardJoin:   b.handleWhiteboardJoin,
		protocol.EventCodeRun:          b.handleCodeRun,
	}
	return b
}

// Run processes commands until Stop. Call it in its own goroutine.
func (b *Broker) Run() {
	for {
		select {
		case <-b.quit:
			return
		case cmd := <-b.events:
			b.handle(cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (b *Broker) Stop() {
	b.gate.Stop()
	close(b.quit)
}

// Connect registers a freshly authenticated connection. It is joined to
// no rooms yet.
func (b *Broker) Connect(conn Conn) {
	b.enqueue(command{kind: cmdConnect, conn: conn})
}

// Disconnect detaches the connection from every room it joined and
// notifies peers via presence updates. Events from the connection that
// are still in flight afterwards are rejected as not-in-room.
func (b *Broker) Disconnect(conn Conn) {
	b.enqueue(command{kind: cmdDisconnect, conn: conn})
}

// Submit routes one raw client event. Whiteboard changes pass through
// the throttle gate first; everything else goes straight to the loop.
func (b *Broker) Submit(conn Conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.sendError(conn, "bad_request", "malformed event")
		return
	}

	if env.Type == protocol.EventWhiteboardChange {
		var p protocol.WhiteboardJoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
			b.sendError(conn, "bad_request", "malformed whiteboard event")
			return
		}
		key := p.RoomID + "|" + conn.ID()
		b.gate.Offer(key, func() {
			b.enqueue(command{kind: cmdEvent, conn: conn, env: env})
		})
		return
	}

	b.enqueue(command{kind: cmdEvent, conn: conn, env: env})
}

func (b *Broker) enqueue(cmd command) {
	select {
	case b.events <- cmd:
	case <-b.quit:
	}
}

// Stats reports active room and client counts.
func (b *Broker) Stats() (rooms, clients int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms), len(b.sessions)
}

func (b *Broker) handle(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		b.mu.Lock()
		b.sessions[cmd.conn.ID()] = &session{conn: cmd.conn, rooms: make(map[string]struct{})}
		b.mu.Unlock()
		slog.Debug("connection registered", "connectionId", cmd.conn.ID(), "identity", cmd.conn.Identity())

	case cmdDisconnect:
		b.dropSession(cmd.conn.ID())

	case cmdRelay:
		b.deliverAll(cmd.relayRoom, cmd.relayData)

	case cmdEvent:
		sess, ok := b.session(cmd.conn.ID())
		if !ok {
			// The connection detached while this event was in flight.
			b.sendValidation(cmd.conn, protocol.ErrNotInRoom)
			return
		}
		h, ok := b.handlers[cmd.env.Type]
		if !ok {
			b.sendError(cmd.conn, "unknown_event", "unknown event type "+cmd.env.Type)
			return
		}
		h(sess, cmd.env.Payload)
	}
}

func (b *Broker) session(connID string) (*session, bool) {
	sess, ok := b.sessions[connID]
	return sess, ok
}

// dropSession detaches a connection from every room. Runs on the loop.
func (b *Broker) dropSession(connID string) {
	sess, ok := b.sessions[connID]
	if !ok {
		return
	}
	for roomID := range sess.rooms {
		b.leaveRoom(sess, roomID)
	}
	b.mu.Lock()
	delete(b.sessions, connID)
	b.mu.Unlock()
	slog.Debug("connection dropped", "connectionId", connID)
}

// leaveRoom removes the session from one room and tells the remaining
// members. Runs on the loop.
func (b *Broker) leaveRoom(sess *session, roomID string) {
	connID := sess.conn.ID()
	b.gate.Cancel(roomID + "|" + connID)

	b.mu.Lock()
	delete(sess.rooms, roomID)
	if members, ok := b.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, roomID)
		}
	}
	b.mu.Unlock()

	remaining := b.presence.Detach(roomID, connID)
	if len(remaining) > 0 {
		b.broadcastPresence(roomID, remaining)
	} else {
		// Presence-empty room: drop the in-memory state. It is
		// rebuilt lazily (and rehydrated from durable history) on the
		// next join.
		b.store.Evict(roomID)
		slog.Info("room evicted", "room", roomID)
	}
}

func (b *Broker) broadcastPresence(roomID string, participants []protocol.Participant) {
	data, err := protocol.Encode(protocol.EventPresenceUpdate, protocol.PresenceUpdatePayload{
		RoomID:       roomID,
		Participants: participants,
	})
	if err != nil {
		slog.Error("presence encode failed", "error", err)
		return
	}
	b.deliverAll(roomID, data)
}

// deliverAll sends to every member connection of the room. Runs on the
// loop.
func (b *Broker) deliverAll(roomID string, data []byte) {
	b.deliver(roomID, data, func(*session) bool { return true })
}

// fanOut sends to every room member except connections belonging to the
// originating identity: a reconnected tab of the same participant must
// not receive an echo of its own change. Runs on the loop.
func (b *Broker) fanOut(roomID, senderIdentity string, data []byte) {
	b.deliver(roomID, data, func(s *session) bool {
		return s.conn.Identity() != senderIdentity
	})
}

func (b *Broker) deliver(roomID string, data []byte, want func(*session) bool) {
	members, ok := b.rooms[roomID]
	if !ok {
		return
	}

	var failed []*session
	for _, member := range members {
		if !want(member) {
			continue
		}
		if err := member.conn.Send(data); err != nil {
			failed = append(failed, member)
		}
	}
	for _, member := range failed {
		slog.Warn("send failed, dropping connection", "connectionId", member.conn.ID())
		b.dropSession(member.conn.ID())
		member.conn.Close()
	}
}

func (b *Broker) sendEvent(conn Conn, eventType string, payload interface{}) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		slog.Error("event encode failed", "type", eventType, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "connectionId", conn.ID(), "type", eventType)
	}
}

func (b *Broker) sendValidation(conn Conn, err error) {
	b.sendError(conn, protocol.ErrorCode(err), err.Error())
}

func (b *Broker) sendError(conn Conn, code, message string) {
	b.sendEvent(conn, protocol.EventError, protocol.ErrorPayload{Code: code, Message: message})
}

func (b *Broker) participantFor(conn Conn) protocol.Participant {
	return protocol.Participant{
		Identity:     conn.Identity(),
		DisplayName:  conn.DisplayName(),
		ConnectionID: conn.ID(),
	}
}

func (b *Broker) identityFor(conn Conn) identity.Identity {
	return identity.Identity{Subject: conn.Identity(), DisplayName: conn.DisplayName()}
}

// loadHistory pushes the durable chat backlog to one joiner. Runs off
// the loop so a slow history store never blocks fan-out.
func (b *Broker) loadHistory(conn Conn, roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()

	messages, err := b.history.LoadHistory(ctx, roomID)
	if err != nil {
		slog.Warn("chat history unavailable", "room", roomID, "error", err)
		return
	}
	b.sendEvent(conn, protocol.EventChatHistory, protocol.ChatHistoryPayload{
		RoomID:   roomID,
		Messages: messages,
	})
}
