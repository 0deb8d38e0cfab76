package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/skillswap/realtime/internal/protocol"
	"github.com/skillswap/realtime/internal/state"
)

// handleJoin admits a connection into a room: authorize, register
// presence, hydrate the requester with the authoritative snapshot, and
// tell peers via a presence update. The snapshot is never re-broadcast
// to existing members.
func (b *Broker) handleJoin(sess *session, payload json.RawMessage) {
	var p protocol.JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		b.sendError(sess.conn, "bad_request", "join requires a room id")
		return
	}

	if err := b.auth.CanJoin(b.identityFor(sess.conn), p.RoomID); err != nil {
		// Rejected joins must not touch presence or leak state.
		b.sendValidation(sess.conn, protocol.ErrPermissionDenied)
		return
	}

	part := b.participantFor(sess.conn)
	participants := b.presence.Attach(p.RoomID, part)

	b.mu.Lock()
	members, ok := b.rooms[p.RoomID]
	if !ok {
		members = make(map[string]*session)
		b.rooms[p.RoomID] = members
	}
	members[sess.conn.ID()] = sess
	sess.rooms[p.RoomID] = struct{}{}
	b.mu.Unlock()

	snap := b.store.GetOrCreate(p.RoomID)
	b.sendEvent(sess.conn, protocol.EventRoomJoined, protocol.RoomJoinedPayload{
		RoomID:       p.RoomID,
		Code:         snap.Code,
		ChatLog:      snap.ChatLog,
		Whiteboard:   snap.Whiteboard,
		Participants: participants,
		You:          part,
	})

	if b.history != nil {
		go b.loadHistory(sess.conn, p.RoomID)
	}

	data, err := protocol.Encode(protocol.EventPresenceUpdate, protocol.PresenceUpdatePayload{
		RoomID:       p.RoomID,
		Participants: participants,
	})
	if err != nil {
		slog.Error("presence encode failed", "error", err)
		return
	}
	b.deliver(p.RoomID, data, func(s *session) bool { return s != sess })

	slog.Info("participant joined", "room", p.RoomID, "identity", part.Identity, "connections", len(participants))
}

func (b *Broker) handleLeave(sess *session, payload json.RawMessage) {
	var p protocol.LeaveRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}
	b.leaveRoom(sess, p.RoomID)
}

// codeHandler serves code_change, stdin_change and language_change: one
// store operation, echoed to peers under the kind it arrived as.
func (b *Broker) codeHandler(eventType string) handlerFunc {
	return func(sess *session, payload json.RawMessage) {
		var p protocol.CodeChangePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			b.sendError(sess.conn, "bad_request", "malformed code change")
			return
		}
		if !sess.in(p.RoomID) {
			b.sendValidation(sess.conn, protocol.ErrNotInRoom)
			return
		}

		b.store.ApplyCodeChange(p.RoomID, state.CodePatch{
			Text:       p.Text,
			LanguageID: p.LanguageID,
			Stdin:      p.Stdin,
		})

		data, err := protocol.Encode(eventType, protocol.CodeDeltaPayload{
			RoomID:         p.RoomID,
			AuthorIdentity: sess.conn.Identity(),
			Text:           p.Text,
			LanguageID:     p.LanguageID,
			Stdin:          p.Stdin,
		})
		if err != nil {
			slog.Error("code delta encode failed", "error", err)
			return
		}
		b.fanOut(p.RoomID, sess.conn.Identity(), data)
	}
}

func (b *Broker) handleChatSend(sess *session, payload json.RawMessage) {
	var p protocol.ChatSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.sendError(sess.conn, "bad_request", "malformed chat message")
		return
	}
	if !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}

	stored := b.store.AppendChatMessage(p.RoomID, protocol.ChatMessage{
		AuthorIdentity:    sess.conn.Identity(),
		AuthorDisplayName: sess.conn.DisplayName(),
		Text:              p.Text,
	})

	// Durable persistence is fire-and-forget; a slow history store
	// must never hold up fan-out to live clients.
	if b.history != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
			defer cancel()
			if err := b.history.AppendDurable(ctx, p.RoomID, stored); err != nil {
				slog.Warn("durable chat append failed", "room", p.RoomID, "error", err)
			}
		}()
	}

	data, err := protocol.Encode(protocol.EventChatMessage, protocol.ChatMessagePayload{
		RoomID:  p.RoomID,
		Message: stored,
	})
	if err != nil {
		slog.Error("chat encode failed", "error", err)
		return
	}
	b.fanOut(p.RoomID, sess.conn.Identity(), data)
}

func (b *Broker) handleTyping(sess *session, payload json.RawMessage) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.sendError(sess.conn, "bad_request", "malformed typing event")
		return
	}
	if !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}

	part, ok := b.presence.SetTyping(p.RoomID, sess.conn.ID(), p.IsTyping)
	if !ok {
		return
	}

	data, err := protocol.Encode(protocol.EventTyping, protocol.TypingBroadcastPayload{
		RoomID:       p.RoomID,
		Identity:     part.Identity,
		ConnectionID: part.ConnectionID,
		IsTyping:     part.IsTyping,
	})
	if err != nil {
		slog.Error("typing encode failed", "error", err)
		return
	}
	b.fanOut(p.RoomID, sess.conn.Identity(), data)
}

func (b *Broker) handleWhiteboardChange(sess *session, payload json.RawMessage) {
	var p protocol.WhiteboardChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.sendError(sess.conn, "bad_request", "malformed whiteboard event")
		return
	}
	if !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}

	wb := b.store.ReplaceWhiteboard(p.RoomID, protocol.Whiteboard{
		Elements: p.Elements,
		AppState: p.AppState,
	})

	data, err := protocol.Encode(protocol.EventWhiteboardUpdate, protocol.WhiteboardUpdatePayload{
		RoomID:         p.RoomID,
		AuthorIdentity: sess.conn.Identity(),
		Elements:       wb.Elements,
		AppState:       wb.AppState,
	})
	if err != nil {
		slog.Error("whiteboard encode failed", "error", err)
		return
	}
	b.fanOut(p.RoomID, sess.conn.Identity(), data)
}

// handleWhiteboardJoin resends the current drawing snapshot to the
// requester only, for clients that mount the whiteboard after joining.
func (b *Broker) handleWhiteboardJoin(sess *session, payload json.RawMessage) {
	var p protocol.WhiteboardJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.sendError(sess.conn, "bad_request", "malformed whiteboard join")
		return
	}
	if !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}

	snap := b.store.Snapshot(p.RoomID)
	b.sendEvent(sess.conn, protocol.EventWhiteboardUpdate, protocol.WhiteboardUpdatePayload{
		RoomID:   p.RoomID,
		Elements: snap.Whiteboard.Elements,
		AppState: snap.Whiteboard.AppState,
	})
}

// handleCodeRun hands the room's current code to the sandbox out of
// band and relays the result to the whole room, requester included.
func (b *Broker) handleCodeRun(sess *session, payload json.RawMessage) {
	var p protocol.CodeRunPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.sendError(sess.conn, "bad_request", "malformed run request")
		return
	}
	if !sess.in(p.RoomID) {
		b.sendValidation(sess.conn, protocol.ErrNotInRoom)
		return
	}
	if b.runner == nil {
		b.sendError(sess.conn, "sandbox_unavailable", "code execution is not configured")
		return
	}

	code := b.store.Snapshot(p.RoomID).Code
	conn := sess.conn
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
		defer cancel()

		result, err := b.runner.Execute(ctx, code.Text, code.LanguageID, code.Stdin)
		if err != nil {
			slog.Warn("sandbox execution failed", "room", p.RoomID, "error", err)
			b.sendError(conn, "sandbox_failed", "code execution failed")
			return
		}

		data, err := protocol.Encode(protocol.EventExecutionResult, protocol.ExecutionResultPayload{
			RoomID: p.RoomID,
			Stdout: result.Stdout,
			Stderr: result.Stderr,
		})
		if err != nil {
			slog.Error("execution result encode failed", "error", err)
			return
		}
		b.enqueue(command{kind: cmdRelay, relayRoom: p.RoomID, relayData: data})
	}()
}
