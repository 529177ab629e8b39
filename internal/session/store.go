package session

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// Store persists step history as append-only records keyed by session
// identifier, enough to reconstruct the full audit trail after a restart.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed initializes) the sqlite-backed step log.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize step log: %w", err)
	}

	return &Store{db: db}, nil
}

// AppendStep writes one step record. Records are never updated or deleted.
func (s *Store) AppendStep(step Step) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO steps (id, session_id, at, data) VALUES (?, ?, ?, ?)`,
		step.ID, step.SessionID, step.At, string(data),
	)
	return err
}

// History reloads a session's steps in recorded order. Insertion order is
// the source of truth: step timestamps can collide when appends land
// within clock resolution, so ordering by them would shuffle such steps.
func (s *Store) History(sessionID string) ([]Step, error) {
	rows, err := s.db.Query(
		`SELECT data FROM steps WHERE session_id = ? ORDER BY rowid`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var step Step
		if err := json.Unmarshal([]byte(data), &step); err != nil {
			return nil, fmt.Errorf("corrupt step record: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
