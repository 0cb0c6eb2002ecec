package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Memory is one recorded memory text about a person.
type Memory struct {
	ID        int64
	PersonID  int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// Chunk is one indexed slice of a memory's body.
type Chunk struct {
	MemoryID int64
	Index    int
	Text     string
}

// CreateMemory inserts a memory and returns its id.
func (s *Store) CreateMemory(ctx context.Context, m Memory) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (person_id, title, body, created_at)
		VALUES (?, ?, ?, ?)
	`, m.PersonID, m.Title, m.Body, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create memory: %w", err)
	}
	return res.LastInsertId()
}

// GetMemory fetches a memory by id.
func (s *Store) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, person_id, title, body, created_at FROM memories WHERE id = ?
	`, id)

	var m Memory
	err := row.Scan(&m.ID, &m.PersonID, &m.Title, &m.Body, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	return &m, nil
}

// ListMemories returns every memory for a person, oldest first.
func (s *Store) ListMemories(ctx context.Context, personID int64) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, title, body, created_at
		FROM memories WHERE person_id = ? ORDER BY id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.PersonID, &m.Title, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListAllMemories returns every memory in the database, for reindexing.
func (s *Store) ListAllMemories(ctx context.Context) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, title, body, created_at FROM memories ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.PersonID, &m.Title, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceChunks swaps the indexed chunks of a memory for a new set.
func (s *Store) ReplaceChunks(ctx context.Context, memoryID int64, texts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for i, text := range texts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_chunks (memory_id, chunk_index, text) VALUES (?, ?, ?)
		`, memoryID, i, text)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListChunks returns a memory's chunks in index order.
func (s *Store) ListChunks(ctx context.Context, memoryID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, chunk_index, text
		FROM memory_chunks WHERE memory_id = ? ORDER BY chunk_index
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.MemoryID, &c.Index, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
