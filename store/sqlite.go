// ABOUTME: SQLite-backed MessageStore with WAL mode and upsert writes.
// ABOUTME: Tool calls and results are stored as JSON columns beside the text channels.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore is the production MessageStore.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates the message database at the given path and
// ensures the schema exists.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			thinking TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_results TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, updated_at);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Persist upserts a message record.
func (s *SqliteStore) Persist(ctx context.Context, messageID string, rec MessageRecord) error {
	toolCalls, err := marshalNullable(rec.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	toolResults, err := marshalNullable(rec.ToolResults)
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, thinking, content, tool_calls, tool_results, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
			thinking = excluded.thinking,
			content = excluded.content,
			tool_calls = excluded.tool_calls,
			tool_results = excluded.tool_results,
			updated_at = excluded.updated_at`,
		messageID,
		rec.ConversationID,
		rec.Role,
		rec.Thinking,
		rec.Content,
		toolCalls,
		toolResults,
		time.Now().Format("2006-01-02T15:04:05Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// GetMessage reads one message record.
func (s *SqliteStore) GetMessage(ctx context.Context, messageID string) (MessageRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, role, thinking, content, tool_calls, tool_results
		 FROM messages WHERE message_id = ?`, messageID)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return MessageRecord{}, false, nil
	}
	if err != nil {
		return MessageRecord{}, false, fmt.Errorf("query message: %w", err)
	}
	return rec, true, nil
}

// ListMessages returns a conversation's messages ordered by update time.
func (s *SqliteStore) ListMessages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, updated_at, conversation_id, role, thinking, content, tool_calls, tool_results
		 FROM messages WHERE conversation_id = ? ORDER BY updated_at ASC, message_id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []StoredMessage
	for rows.Next() {
		var id, updated string
		rec, err := scanRecord(func(dest ...any) error {
			return rows.Scan(append([]any{&id, &updated}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		updatedAt, _ := time.Parse(time.RFC3339, updated)
		messages = append(messages, StoredMessage{MessageID: id, UpdatedAt: updatedAt, MessageRecord: rec})
	}
	return messages, rows.Err()
}

// scanRecord reads the shared column set into a MessageRecord.
func scanRecord(scan func(dest ...any) error) (MessageRecord, error) {
	var rec MessageRecord
	var toolCalls, toolResults sql.NullString
	if err := scan(&rec.ConversationID, &rec.Role, &rec.Thinking, &rec.Content, &toolCalls, &toolResults); err != nil {
		return MessageRecord{}, err
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &rec.ToolCalls); err != nil {
			return MessageRecord{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if toolResults.Valid && toolResults.String != "" {
		if err := json.Unmarshal([]byte(toolResults.String), &rec.ToolResults); err != nil {
			return MessageRecord{}, fmt.Errorf("decode tool results: %w", err)
		}
	}
	return rec, nil
}

// marshalNullable encodes a slice as JSON, returning nil (SQL NULL) for an
// empty one.
func marshalNullable[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
