package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"persona-recall/memory"
)

// GetRecentMessages returns the last n turns of a conversation in
// chronological order.
func (s *PostgresStore) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]memory.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM conversation_messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}
	defer rows.Close()

	var messages []memory.Message
	for rows.Next() {
		var m memory.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

// AddMessage records a conversation turn, creating the conversation row on
// first use.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *memory.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
        INSERT INTO conversations (id, created_at, last_active)
        VALUES ($1, $2, $2)
        ON CONFLICT (id) DO UPDATE SET last_active = EXCLUDED.last_active
    `
	if _, err := tx.ExecContext(ctx, upsert, msg.ConversationID, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	insert := `
        INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	if _, err := tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]memory.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM conversation_messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}
	defer rows.Close()

	var messages []memory.Message
	for rows.Next() {
		var m memory.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseSQLiteTime(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg *memory.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
        INSERT INTO conversations (id, created_at, last_active)
        VALUES (?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET last_active = excluded.last_active
    `
	stamp := sqliteTime(msg.CreatedAt)
	if _, err := tx.ExecContext(ctx, upsert, msg.ConversationID, stamp, stamp); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	insert := `
        INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?, ?)
    `
	if _, err := tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.Role, msg.Content, stamp); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

func reverseMessages(messages []memory.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
