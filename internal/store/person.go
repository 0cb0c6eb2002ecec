package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Person is a remembered loved one. Dates are YYYY-MM-DD strings and
// may be empty when unknown.
type Person struct {
	ID        int64
	UserID    int64
	Name      string
	Relation  string
	BirthDate string
	DeathDate string
	CreatedAt time.Time
}

// CreatePerson inserts a person owned by userID and returns its id.
func (s *Store) CreatePerson(ctx context.Context, p Person) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (user_id, name, relation, birth_date, death_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Name, p.Relation, p.BirthDate, p.DeathDate, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create person: %w", err)
	}
	return res.LastInsertId()
}

// GetPerson fetches a person by id, scoped to its owner.
func (s *Store) GetPerson(ctx context.Context, userID, id int64) (*Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, relation, birth_date, death_date, created_at
		FROM persons WHERE id = ? AND user_id = ?
	`, id, userID)

	var p Person
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Relation, &p.BirthDate, &p.DeathDate, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan person: %w", err)
	}
	return &p, nil
}

// ListPersons returns all persons owned by userID, oldest first.
func (s *Store) ListPersons(ctx context.Context, userID int64) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, relation, birth_date, death_date, created_at
		FROM persons WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Relation, &p.BirthDate, &p.DeathDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePersonDates sets the birth/death dates on a person.
func (s *Store) UpdatePersonDates(ctx context.Context, userID, id int64, birthDate, deathDate string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE persons SET birth_date = ?, death_date = ?
		WHERE id = ? AND user_id = ?
	`, birthDate, deathDate, id, userID)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
