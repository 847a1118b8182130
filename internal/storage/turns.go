package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendTurn adds a turn to the end of its session. ID and CreatedAt are
// filled in when empty.
func (s *Store) AppendTurn(ctx context.Context, t ChatTurn) (ChatTurn, error) {
	switch t.Role {
	case RoleYou, RoleBot, RoleError:
	default:
		return ChatTurn{}, fmt.Errorf("invalid chat role %q", t.Role)
	}
	if t.SessionID == "" {
		return ChatTurn{}, fmt.Errorf("chat turn has no session")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_turns (id, session_id, role, content, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Role, t.Content, t.Payload, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return ChatTurn{}, fmt.Errorf("appending chat turn: %w", err)
	}
	return t, nil
}

// ListTurns returns the last limit turns of session in the order they were
// appended. An empty session lists across all sessions.
func (s *Store) ListTurns(ctx context.Context, session string, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, role, content, payload, created_at FROM chat_turns`
	args := []any{}
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chat turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var t ChatTurn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.Payload, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %s: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the query; callers want chat order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// DeleteSession removes every turn of session and returns how many were
// deleted. It returns ErrNotFound if the session has no turns.
func (s *Store) DeleteSession(ctx context.Context, session string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE session_id = ?`, session)
	if err != nil {
		return 0, fmt.Errorf("deleting session %s: %w", session, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}
