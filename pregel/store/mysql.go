package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/pregel-go/pregel"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed CheckpointStore.
//
// Designed for production workflows that need checkpoints to survive a
// process restart and be visible to multiple workers. The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	done bool
}

// NewMySQLStore opens a MySQL-backed checkpoint store and creates its
// schema if it does not already exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pregel_checkpoints (
			thread_id     VARCHAR(255) NOT NULL,
			namespace     VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			parent_id     VARCHAR(255) NOT NULL DEFAULT '',
			step          INT NOT NULL,
			data          JSON NOT NULL,
			metadata      JSON NOT NULL,
			created_at    DATETIME(6) NOT NULL,
			PRIMARY KEY (thread_id, namespace, checkpoint_id),
			INDEX idx_lineage (thread_id, namespace, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS pregel_pending_writes (
			id            BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id     VARCHAR(255) NOT NULL,
			namespace     VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			task_id       VARCHAR(255) NOT NULL,
			channel       VARCHAR(255) NOT NULL,
			value         JSON NOT NULL,
			INDEX idx_checkpoint (thread_id, namespace, checkpoint_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return ErrClosed
	}
	return nil
}

// GetTuple returns the checkpoint with the given ID, or the most recent
// checkpoint in the lineage if checkpointID is empty.
func (s *MySQLStore) GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (pregel.CheckpointTuple, error) {
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
func (s *MySQLStore) List(ctx context.Context, threadID, namespace string, limit int) ([]pregel.CheckpointTuple, error) {
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
func (s *MySQLStore) Put(ctx context.Context, checkpoint pregel.Checkpoint, metadata pregel.CheckpointMetadata) error {
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
		ON DUPLICATE KEY UPDATE
			parent_id = VALUES(parent_id),
			step = VALUES(step),
			data = VALUES(data),
			metadata = VALUES(metadata)`,
		checkpoint.ThreadID, checkpoint.Namespace, checkpoint.ID, checkpoint.ParentID,
		checkpoint.Step, data, meta, checkpoint.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// PutWrites attaches pending writes to an already-persisted checkpoint.
func (s *MySQLStore) PutWrites(ctx context.Context, threadID, namespace, checkpointID string, writes []pregel.PendingWrite) error {
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
			threadID, namespace, checkpointID, w.TaskID, w.Channel, value)
		if err != nil {
			return fmt.Errorf("save pending write: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) loadPendingWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]pregel.PendingWrite, error) {
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
		var value []byte
		if err := rows.Scan(&w.TaskID, &w.Channel, &value); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		if err := json.Unmarshal(value, &w.Value); err != nil {
			return nil, fmt.Errorf("unmarshal pending write value: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Close closes the database connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (s *MySQLStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Stats()
}
