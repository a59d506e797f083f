// Package localstore is the terminal's durable store: a single SQLite
// database holding the entity mirror, the pending-operation outbox and
// the sync history. Writers are serialized through one mutex because
// SQLite allows a single writer at a time.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/xid"
)

var ErrStorageUnavailable = errors.New("local storage unavailable")

var ErrEntityNotFound = errors.New("entity not cached")

type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cached_entities (
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			payload     BLOB NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_operations (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id        TEXT NOT NULL UNIQUE,
			entity_type  TEXT NOT NULL,
			entity_id    TEXT NOT NULL,
			op_kind      TEXT NOT NULL,
			payload      BLOB,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			dead         INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			items_synced INTEGER NOT NULL,
			items_failed INTEGER NOT NULL,
			message     TEXT NOT NULL DEFAULT '',
			detail      TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return storageErr("ensure schema", err)
		}
	}
	return nil
}

// PutEntity overwrites the cached copy wholesale. Local state is a
// mirror, never a field-by-field merge target.
func (s *Store) PutEntity(ctx context.Context, entityType, entityID string, payload json.RawMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cached_entities (entity_type, entity_id, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		entityType, entityID, []byte(payload), time.Now().UnixMilli())
	if err != nil {
		return storageErr("put entity", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, entityType, entityID string) (json.RawMessage, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cached_entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, entityID, ErrEntityNotFound)
	}
	if err != nil {
		return nil, storageErr("get entity", err)
	}
	return payload, nil
}

func (s *Store) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID); err != nil {
		return storageErr("delete entity", err)
	}
	return nil
}

// SaveEntityAndEnqueue commits the entity write and its outbox row in
// one transaction, so a local change is either fully recorded for sync
// or not recorded at all.
func (s *Store) SaveEntityAndEnqueue(ctx context.Context, entityType, entityID, opKind string, payload json.RawMessage) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opKind == domain.OpDelete {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cached_entities WHERE entity_type = ? AND entity_id = ?`,
			entityType, entityID); err != nil {
			return "", storageErr("delete entity", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cached_entities (entity_type, entity_id, payload, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
				payload = excluded.payload,
				updated_at = excluded.updated_at`,
			entityType, entityID, []byte(payload), time.Now().UnixMilli()); err != nil {
			return "", storageErr("put entity", err)
		}
	}

	opID := xid.New("op")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_operations (op_id, entity_type, entity_id, op_kind, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		opID, entityType, entityID, opKind, []byte(payload)); err != nil {
		return "", storageErr("enqueue operation", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("commit", err)
	}
	return opID, nil
}

func (s *Store) EnqueuePending(ctx context.Context, entityType, entityID, opKind string, payload json.RawMessage) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	opID := xid.New("op")
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_operations (op_id, entity_type, entity_id, op_kind, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		opID, entityType, entityID, opKind, []byte(payload)); err != nil {
		return "", storageErr("enqueue operation", err)
	}
	return opID, nil
}

// ListPending returns live outbox rows oldest-first without removing
// them. Removal happens only on acknowledgement.
func (s *Store) ListPending(ctx context.Context, max int) ([]domain.PendingOperation, error) {
	if max < 1 {
		max = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, op_id, entity_type, entity_id, op_kind, payload, attempt_count, dead
		 FROM pending_operations WHERE dead = 0 ORDER BY seq ASC LIMIT ?`, max)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	return scanPending(rows)
}

func (s *Store) ListDeadLetters(ctx context.Context) ([]domain.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, op_id, entity_type, entity_id, op_kind, payload, attempt_count, dead
		 FROM pending_operations WHERE dead = 1 ORDER BY seq ASC`)
	if err != nil {
		return nil, storageErr("list dead letters", err)
	}
	return scanPending(rows)
}

func scanPending(rows *sql.Rows) ([]domain.PendingOperation, error) {
	defer rows.Close()
	out := make([]domain.PendingOperation, 0)
	for rows.Next() {
		var op domain.PendingOperation
		var payload []byte
		var dead int
		if err := rows.Scan(&op.EnqueuedAt, &op.ID, &op.EntityType, &op.EntityID, &op.OperationKind, &payload, &op.AttemptCount, &dead); err != nil {
			return nil, storageErr("scan pending", err)
		}
		op.Payload = payload
		op.Dead = dead != 0
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending", err)
	}
	return out, nil
}

// DeletePending removes an acknowledged row. Deleting an already
// removed row is a no-op, so acknowledgement stays idempotent.
func (s *Store) DeletePending(ctx context.Context, opID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE op_id = ?`, opID); err != nil {
		return storageErr("delete pending", err)
	}
	return nil
}

// BumpAttempt increments the attempt counter and returns the new count.
func (s *Store) BumpAttempt(ctx context.Context, opID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET attempt_count = attempt_count + 1 WHERE op_id = ?`, opID); err != nil {
		return 0, storageErr("bump attempt", err)
	}
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_count FROM pending_operations WHERE op_id = ?`, opID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("read attempt", err)
	}
	return attempts, nil
}

// MarkDead parks a row as a dead letter. Dead rows are excluded from
// draining but retained for inspection.
func (s *Store) MarkDead(ctx context.Context, opID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET dead = 1 WHERE op_id = ?`, opID); err != nil {
		return storageErr("mark dead", err)
	}
	return nil
}

func (s *Store) AppendSyncRun(ctx context.Context, run domain.SyncRun) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if run.ID == "" {
		run.ID = xid.New("run")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, duration_ms, items_synced, items_failed, message, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.DurationMS, run.ItemsSynced, run.ItemsFailed, run.Message, run.Detail); err != nil {
		return storageErr("append sync run", err)
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, items_synced, items_failed, message, detail
		 FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("list sync runs", err)
	}
	defer rows.Close()

	out := make([]domain.SyncRun, 0, limit)
	for rows.Next() {
		var run domain.SyncRun
		var startedAt int64
		if err := rows.Scan(&run.ID, &startedAt, &run.DurationMS, &run.ItemsSynced, &run.ItemsFailed, &run.Message, &run.Detail); err != nil {
			return nil, storageErr("scan sync run", err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sync runs", err)
	}
	return out, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrStorageUnavailable)
}
