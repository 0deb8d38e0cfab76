package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skillswap/realtime/internal/protocol"
)

// Store is the durable chat-history collaborator consumed by the sync
// layer. Failures degrade gracefully: a joiner still gets live state,
// just an empty backlog.
type Store interface {
	LoadHistory(ctx context.Context, roomID string) ([]protocol.ChatMessage, error)
	AppendDurable(ctx context.Context, roomID string, msg protocol.ChatMessage) error
}

// SQLite is the default Store implementation.
type SQLite struct {
	db      *sql.DB
	backlog int
}

// OpenSQLite opens (and if needed bootstraps) the history database.
// backlog caps how many of a room's most recent messages LoadHistory
// returns.
func OpenSQLite(dbPath string, backlog int) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	if backlog <= 0 {
		backlog = 200
	}
	return &SQLite{db: db, backlog: backlog}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		author_identity TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_sent_at ON chat_messages(sent_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// AppendDurable persists one broadcast chat message.
func (s *SQLite) AppendDurable(ctx context.Context, roomID string, msg protocol.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (room_id, message_id, author_identity, author_name, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		roomID, msg.ID, msg.AuthorIdentity, msg.AuthorDisplayName, msg.Text, msg.SentAt.UTC())
	return err
}

// LoadHistory returns the room's most recent messages in original
// arrival order.
func (s *SQLite) LoadHistory(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, author_identity, author_name, body, sent_at
		FROM chat_messages
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?`, roomID, s.backlog)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		if err := rows.Scan(&m.ID, &m.AuthorIdentity, &m.AuthorDisplayName, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first query, oldest-first result.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteOlderThan removes messages past the retention window and
// reports how many were dropped.
func (s *SQLite) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE sent_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats reports totals for the stats endpoint.
func (s *SQLite) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var messageCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_messages").Scan(&messageCount); err != nil {
		return nil, err
	}
	stats["message_count"] = messageCount

	var roomCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT room_id) FROM chat_messages").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	return stats, nil
}
