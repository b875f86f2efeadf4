// Package store defines the transactional ledger store shared by the
// in-memory and Postgres backends.
package store

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 30
)

var ErrTxDone = errors.New("store: transaction already committed or rolled back")

// ClampLimit applies the pagination defaults to a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// Reader is the read side of a transaction.
type Reader interface {
	// Config returns ledger.ErrNotInstantiated before the first Instantiate.
	Config(ctx context.Context) (ledger.Config, error)
	PendingOwner(ctx context.Context) (ledger.Address, bool, error)

	Listing(ctx context.Context, asset ledger.AssetID) (ledger.CollateralListing, bool, error)
	// Listings pages through the registry in ascending asset order,
	// starting strictly after startAfter.
	Listings(ctx context.Context, startAfter ledger.AssetID, limit int) ([]ledger.CollateralListing, error)

	// MinterDebt never fails with not-found; unknown minters read as zero.
	MinterDebt(ctx context.Context, minter ledger.Address) (ledger.MinterDebt, error)
	RedemptionProviders(ctx context.Context, startAfter ledger.Address, limit int) ([]ledger.MinterDebt, error)

	// Basket returns nil for minters without collateral.
	Basket(ctx context.Context, minter ledger.Address) (ledger.Basket, error)
}

type ReadTx interface {
	Reader
	Rollback() error
}

// Tx is a read-write transaction. Nothing is visible to other readers
// until Commit; Rollback after Commit is a no-op.
type Tx interface {
	Reader

	// Head and IsDuplicate read the journal under the transaction's write lock.
	Head(ctx context.Context) (Head, bool, error)
	IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error)

	PutConfig(ctx context.Context, cfg ledger.Config) error
	SetPendingOwner(ctx context.Context, candidate ledger.Address) error
	ClearPendingOwner(ctx context.Context) error
	PutListing(ctx context.Context, listing ledger.CollateralListing) error
	PutMinterDebt(ctx context.Context, debt ledger.MinterDebt) error
	// PutBasket stores basket in the given order; an empty basket deletes the record.
	PutBasket(ctx context.Context, minter ledger.Address, basket ledger.Basket) error

	AppendJournal(ctx context.Context, entry JournalEntry) error
	AppendOutbox(ctx context.Context, intents []command.Intent) error

	Commit() error
	Rollback() error
}

// JournalEntry is one committed command.
type JournalEntry struct {
	Sequence       int64          `json:"sequence"`
	CommandType    string         `json:"command_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Caller         ledger.Address `json:"caller"`
	Payload        []byte         `json:"payload"`
	IntentCount    int            `json:"intent_count"`
	StateHash      []byte         `json:"state_hash"`
	PrevHash       []byte         `json:"prev_hash"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Head is the journal tip used to resume sequencing and the hash chain.
type Head struct {
	Sequence  int64
	StateHash []byte
}

// Store opens transactions and serves the journal and outbox outside of them.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	BeginRead(ctx context.Context) (ReadTx, error)

	// Head returns ok=false on an empty journal.
	Head(ctx context.Context) (Head, bool, error)
	IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error)
	// RecentKeys returns "type:key" composites of the newest journal entries.
	RecentKeys(ctx context.Context, limit int) ([]string, error)
	Journal(ctx context.Context, fromSequence int64, limit int) ([]JournalEntry, error)

	PendingIntents(ctx context.Context, limit int) ([]command.Intent, error)
	MarkDispatched(ctx context.Context, ids []uuid.UUID) error
}
