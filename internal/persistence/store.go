// Package persistence is the Postgres backend of the ledger store, plus the
// schema migrator and the outbox relay that drains committed intents.
package persistence

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/store"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// writerLockKey is the advisory lock every write transaction takes, so two
// ledger processes pointed at one database cannot interleave commands.
const writerLockKey int64 = 0x43445031 // "CDP1"

// PostgresStore implements store.Store on lib/pq.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Ping backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// BeginRead opens a repeatable-read snapshot so a multi-statement query
// never mixes two committed states.
func (s *PostgresStore) BeginRead(ctx context.Context) (store.ReadTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) Journal(ctx context.Context, fromSequence int64, limit int) ([]store.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, caller, payload,
		       intent_count, state_hash, prev_hash, timestamp
		FROM cdp.journal
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	defer rows.Close()

	var entries []store.JournalEntry
	for rows.Next() {
		var e store.JournalEntry
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.IdempotencyKey, &e.Caller, &e.Payload,
			&e.IntentCount, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) PendingIntents(ctx context.Context, limit int) ([]command.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM cdp.outbox
		WHERE dispatched_at IS NULL
		ORDER BY sequence ASC, idx ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	defer rows.Close()

	var intents []command.Intent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var in command.Intent
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("decode outbox row: %w", err)
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE cdp.outbox SET dispatched_at = NOW()
		WHERE intent_id = ANY($1::uuid[]) AND dispatched_at IS NULL
	`, pq.Array(strs))
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}
