package persistence

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres raises on a unique index conflict.
const uniqueViolation = "23505"

// ErrJournalConflict means another command already holds this idempotency
// key or sequence. The engine treats it like any failed commit.
var ErrJournalConflict = errors.New("persistence: journal conflict")

func (t *pgTx) AppendJournal(ctx context.Context, e store.JournalEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cdp.journal
			(sequence, command_type, idempotency_key, caller, payload,
			 intent_count, state_hash, prev_hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Sequence, e.CommandType, e.IdempotencyKey, e.Caller, e.Payload,
		e.IntentCount, e.StateHash, e.PrevHash, e.Timestamp)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s:%s at sequence %d (%s)", ErrJournalConflict,
			e.CommandType, e.IdempotencyKey, e.Sequence, pqErr.Constraint)
	}
	if err != nil {
		return fmt.Errorf("append journal %d: %w", e.Sequence, err)
	}
	return nil
}

// outboxColumns is the column count of one outbox row in a multi-row INSERT.
const outboxColumns = 6

// AppendOutbox writes all intents of one command with a single multi-row INSERT.
func (t *pgTx) AppendOutbox(ctx context.Context, intents []command.Intent) error {
	if len(intents) == 0 {
		return nil
	}

	values := make([]string, 0, len(intents))
	args := make([]any, 0, len(intents)*outboxColumns)

	for i, in := range intents {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal intent %s: %w", in.ID, err)
		}
		base := i * outboxColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			in.ID.String(), in.Sequence, in.Index, string(in.Kind), in.Target, string(payload),
		)
	}

	query := `INSERT INTO cdp.outbox (intent_id, sequence, idx, kind, target, payload) VALUES ` +
		strings.Join(values, ", ")
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append outbox (%d intents): %w", len(intents), err)
	}
	return nil
}
