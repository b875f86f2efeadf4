package persistence

import (
	"CDPLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"time"
)

// dbLookupTimeout bounds the tier-2 dedup query so a slow database degrades
// to the journal's unique index instead of stalling the engine.
const dbLookupTimeout = 500 * time.Millisecond

// IsDuplicate checks whether the journal already holds this command.
func (s *PostgresStore) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbLookupTimeout)
	defer cancel()

	return queryDuplicate(ctx, s.db, commandType, idempotencyKey)
}

// IsDuplicate has no lookup timeout: a cancelled statement aborts the
// write transaction.
func (t *pgTx) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	return queryDuplicate(ctx, t.tx, commandType, idempotencyKey)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryDuplicate(ctx context.Context, q rowQuerier, commandType, idempotencyKey string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `
		SELECT 1
		FROM cdp.journal
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest limit "type:key" composites, oldest first,
// for warming the engine's LRU.
func (s *PostgresStore) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command_type || ':' || idempotency_key
		FROM (
			SELECT sequence, command_type, idempotency_key
			FROM cdp.journal
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Head returns the journal tip.
func (s *PostgresStore) Head(ctx context.Context) (store.Head, bool, error) {
	return queryHead(ctx, s.db)
}

// Head reads under the writer lock; read committed sees every earlier commit.
func (t *pgTx) Head(ctx context.Context) (store.Head, bool, error) {
	return queryHead(ctx, t.tx)
}

func queryHead(ctx context.Context, q rowQuerier) (store.Head, bool, error) {
	var h store.Head
	err := q.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM cdp.journal
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&h.Sequence, &h.StateHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Head{}, false, nil
	}
	if err != nil {
		return store.Head{}, false, err
	}
	return h, true, nil
}
