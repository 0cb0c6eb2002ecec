package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one persisted conversation turn. Model records which
// model produced an assistant turn ("rule" for deterministic answers,
// "none" for the apology fallback); it is empty on user turns.
type ChatMessage struct {
	ID        int64     `json:"id"`
	PersonID  int64     `json:"person_id"`
	UserID    int64     `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendTurn appends one turn to a person's conversation log.
func (s *Store) AppendTurn(ctx context.Context, msg ChatMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (person_id, user_id, role, content, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.PersonID, msg.UserID, msg.Role, msg.Content, msg.Model, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return res.LastInsertId()
}

// RecentTurns returns the last n turns for a person in chronological
// order, sized for prompt history.
func (s *Store) RecentTurns(ctx context.Context, personID int64, n int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, user_id, role, content, model, created_at FROM (
			SELECT id, person_id, user_id, role, content, model, created_at
			FROM chat_messages WHERE person_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id
	`, personID, n)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// History returns up to limit turns for a person in chronological
// order, oldest first. limit <= 0 means no limit.
func (s *Store) History(ctx context.Context, personID int64, limit int) ([]ChatMessage, error) {
	q := `
		SELECT id, person_id, user_id, role, content, model, created_at
		FROM chat_messages WHERE person_id = ? ORDER BY id
	`
	args := []any{personID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]ChatMessage, error) {
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.PersonID, &m.UserID, &m.Role, &m.Content, &m.Model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
