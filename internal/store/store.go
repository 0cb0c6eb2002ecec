// Package store persists users, persons, memories, and conversation
// history in SQLite. All access goes through Store; the schema is
// migrated on open.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY under concurrent
	// writers and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS persons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		relation TEXT NOT NULL DEFAULT '',
		birth_date TEXT NOT NULL DEFAULT '',
		death_date TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_persons_user ON persons(user_id);

	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_memories_person ON memories(person_id);

	CREATE TABLE IF NOT EXISTS memory_chunks (
		memory_id INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (memory_id, chunk_index),
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
	);

	-- Append-only conversation log. Ordering is the rowid.
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chat_person ON chat_messages(person_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
