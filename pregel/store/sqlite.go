package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/pregel-go/pregel"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed CheckpointStore.
//
// It stores one row per checkpoint in a single-file database, keyed by
// (thread_id, namespace, checkpoint_id). Designed for development, testing
// with zero setup, and single-process workflows that need to survive a
// restart.
//
// ChannelValues, Metadata, and pending write values must be
// JSON-serializable — a channel carrying a type json cannot round-trip
// (e.g. a function or a channel value) will fail to persist.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	done bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed checkpoint
// store at path. Use ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pregel_checkpoints (
			thread_id     TEXT NOT NULL,
			namespace     TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_id     TEXT NOT NULL DEFAULT '',
			step          INTEGER NOT NULL,
			data          TEXT NOT NULL,
			metadata      TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			PRIMARY KEY (thread_id, namespace, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pregel_checkpoints_lineage
			ON pregel_checkpoints(thread_id, namespace, created_at)`,
		`CREATE TABLE IF NOT EXISTS pregel_pending_writes (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id     TEXT NOT NULL,
			namespace     TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id       TEXT NOT NULL,
			channel       TEXT NOT NULL,
			value         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pregel_pending_writes_checkpoint
			ON pregel_pending_writes(thread_id, namespace, checkpoint_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return ErrClosed
	}
	return nil
}

// GetTuple returns the checkpoint with the given ID, or the most recent
// checkpoint in the lineage if checkpointID is empty.
func (s *SQLiteStore) GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (pregel.CheckpointTuple, error) {
	if err := s.checkOpen(); err != nil {
		return pregel.CheckpointTuple{}, err
	}

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_id, step, data, metadata
			FROM pregel_checkpoints
			WHERE thread_id = ? AND namespace = ?
			ORDER BY created_at DESC LIMIT 1`, threadID, namespace)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_id, step, data, metadata
			FROM pregel_checkpoints
			WHERE thread_id = ? AND namespace = ? AND checkpoint_id = ?`, threadID, namespace, checkpointID)
	}

	tuple, id, err := scanCheckpointRow(row)
	if err == sql.ErrNoRows {
		return pregel.CheckpointTuple{}, pregel.ErrNotFound
	}
	if err != nil {
		return pregel.CheckpointTuple{}, err
	}

	tuple.PendingWrites, err = s.loadPendingWrites(ctx, threadID, namespace, id)
	if err != nil {
		return pregel.CheckpointTuple{}, err
	}
	return tuple, nil
}

// List returns up to limit checkpoints for a thread/namespace, most recent
// first. limit <= 0 means no limit.
func (s *SQLiteStore) List(ctx context.Context, threadID, namespace string, limit int) ([]pregel.CheckpointTuple, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT checkpoint_id, parent_id, step, data, metadata
		FROM pregel_checkpoints
		WHERE thread_id = ? AND namespace = ?
		ORDER BY created_at DESC`
	args := []any{threadID, namespace}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pregel.CheckpointTuple
	for rows.Next() {
		tuple, id, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		tuple.PendingWrites, err = s.loadPendingWrites(ctx, threadID, namespace, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tuple)
	}
	return out, rows.Err()
}

// Put persists a new checkpoint.
func (s *SQLiteStore) Put(ctx context.Context, checkpoint pregel.Checkpoint, metadata pregel.CheckpointMetadata) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pregel_checkpoints
			(thread_id, namespace, checkpoint_id, parent_id, step, data, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, namespace, checkpoint_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			step = excluded.step,
			data = excluded.data,
			metadata = excluded.metadata`,
		checkpoint.ThreadID, checkpoint.Namespace, checkpoint.ID, checkpoint.ParentID,
		checkpoint.Step, string(data), string(meta), checkpoint.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// PutWrites attaches pending writes to an already-persisted checkpoint.
func (s *SQLiteStore) PutWrites(ctx context.Context, threadID, namespace, checkpointID string, writes []pregel.PendingWrite) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, w := range writes {
		value, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("marshal pending write: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pregel_pending_writes (thread_id, namespace, checkpoint_id, task_id, channel, value)
			VALUES (?, ?, ?, ?, ?, ?)`,
			threadID, namespace, checkpointID, w.TaskID, w.Channel, string(value))
		if err != nil {
			return fmt.Errorf("save pending write: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadPendingWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]pregel.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, channel, value
		FROM pregel_pending_writes
		WHERE thread_id = ? AND namespace = ? AND checkpoint_id = ?
		ORDER BY id ASC`, threadID, namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("load pending writes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pregel.PendingWrite
	for rows.Next() {
		var w pregel.PendingWrite
		var value string
		if err := rows.Scan(&w.TaskID, &w.Channel, &value); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &w.Value); err != nil {
			return nil, fmt.Errorf("unmarshal pending write value: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCheckpointRow(row *sql.Row) (pregel.CheckpointTuple, string, error) {
	return scanCheckpoint(row)
}

func scanCheckpointRows(rows *sql.Rows) (pregel.CheckpointTuple, string, error) {
	return scanCheckpoint(rows)
}

func scanCheckpoint(row scannable) (pregel.CheckpointTuple, string, error) {
	var (
		id, parentID, data, metadata string
		step                         int
	)
	if err := row.Scan(&id, &parentID, &step, &data, &metadata); err != nil {
		return pregel.CheckpointTuple{}, "", err
	}

	var cp pregel.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return pregel.CheckpointTuple{}, "", fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var meta pregel.CheckpointMetadata
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return pregel.CheckpointTuple{}, "", fmt.Errorf("unmarshal metadata: %w", err)
	}

	return pregel.CheckpointTuple{
		Checkpoint: cp,
		Metadata:   meta,
		ParentID:   parentID,
	}, id, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
