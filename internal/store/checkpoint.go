package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Checkpoint is a durable snapshot marker of the store at idle entry.
type Checkpoint struct {
	ID        int64
	Sequence  int64
	NodeCount int
	State     string
	CreatedAt time.Time
}

// CheckpointStore persists checkpoints using SQLite.
type CheckpointStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewCheckpointStore opens (or creates) the checkpoint database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewCheckpointStore(dbPath string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	cs := &CheckpointStore{db: db}
	if err := cs.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return cs, nil
}

func (cs *CheckpointStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence INTEGER NOT NULL,
		node_count INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at);
	`
	_, err := cs.db.Exec(schema)
	return err
}

// Save records a checkpoint of the given store.
func (cs *CheckpointStore) Save(ctx context.Context, s *Store, state string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	_, err := cs.db.ExecContext(ctx,
		"INSERT INTO checkpoints (sequence, node_count, state, created_at) VALUES (?, ?, ?, ?)",
		s.Sequence(), s.NodeCount(), state, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint, or nil when none exists.
func (cs *CheckpointStore) Latest(ctx context.Context) (*Checkpoint, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	row := cs.db.QueryRowContext(ctx,
		"SELECT id, sequence, node_count, state, created_at FROM checkpoints ORDER BY id DESC LIMIT 1")

	var cp Checkpoint
	var createdUnix int64
	if err := row.Scan(&cp.ID, &cp.Sequence, &cp.NodeCount, &cp.State, &createdUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.CreatedAt = time.Unix(createdUnix, 0)
	return &cp, nil
}

// Close closes the database connection.
func (cs *CheckpointStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.db.Close()
}
