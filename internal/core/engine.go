package core

import (
	"CDPLedger/internal/cdp"
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLRUCapacity bounds the in-memory dedup tier.
const DefaultLRUCapacity = 100_000

// Dispatcher sees a command's stamped intents after they are staged and
// before commit. A non-nil error aborts the command and rolls back every
// staged write, intents included.
type Dispatcher interface {
	Dispatch(ctx context.Context, intents []command.Intent) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, intents []command.Intent) error

func (f DispatcherFunc) Dispatch(ctx context.Context, intents []command.Intent) error {
	return f(ctx, intents)
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	LRUCapacity int
	Dispatcher  Dispatcher
	Metrics     *observability.Metrics
	Logger      *zerolog.Logger
	// Clock stamps journal entries; defaults to time.Now.
	Clock func() time.Time
}

// Result describes a command the engine has accepted.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Intents   []command.Intent
	// Duplicate is set when the idempotency key was already committed;
	// nothing was executed.
	Duplicate bool
}

// Engine is the transaction coordinator. Commands execute one at a time,
// each inside a single store transaction together with its journal entry
// and outbox intents.
type Engine struct {
	mu sync.Mutex

	store       store.Store
	cdp         *cdp.Service
	idempotency *IdempotencyChecker
	hasher      *StateHasher
	sequence    int64

	// published mirrors sequence for readers that must not wait on a command.
	published atomic.Int64

	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     zerolog.Logger
	clock      func() time.Time
	lruSize    int

	committed chan struct{}
}

func NewEngine(st store.Store, svc *cdp.Service, opts Options) *Engine {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.LRUCapacity <= 0 {
		opts.LRUCapacity = DefaultLRUCapacity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		store:       st,
		cdp:         svc,
		idempotency: NewIdempotencyChecker(opts.LRUCapacity, st, opts.Metrics, logger),
		hasher:      NewStateHasher(),
		dispatcher:  opts.Dispatcher,
		metrics:     opts.Metrics,
		logger:      logger,
		clock:       opts.Clock,
		lruSize:     opts.LRUCapacity,
		committed:   make(chan struct{}, 1),
	}
}

// Recover resumes sequencing and the hash chain from the journal tip and
// warms the dedup cache with the most recent keys.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	head, ok, err := e.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("load journal head: %w", err)
	}
	if ok {
		if len(head.StateHash) != 32 {
			return fmt.Errorf("journal head %d: state hash has %d bytes", head.Sequence, len(head.StateHash))
		}
		var tip [32]byte
		copy(tip[:], head.StateHash)
		e.sequence = head.Sequence
		e.published.Store(head.Sequence)
		e.hasher.Resume(tip)
	}

	keys, err := e.store.RecentKeys(ctx, e.lruSize)
	if err != nil {
		return fmt.Errorf("load recent keys: %w", err)
	}
	e.idempotency.lru.WarmFromKeys(keys)

	e.logger.Info().
		Int64("sequence", e.sequence).
		Int("warm_keys", len(keys)).
		Msg("engine recovered")
	return nil
}

// Execute runs cmd atomically. Any error leaves the store untouched.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	if cmd == nil {
		return Result{}, fmt.Errorf("%w: nil command", ledger.ErrValidation)
	}
	if cmd.IdempotencyKey() == "" {
		return Result{}, fmt.Errorf("%w: idempotency key is required", ledger.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	commandType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	if e.idempotency.IsDuplicate(ctx, commandType, key) {
		e.reject(commandType, "duplicate")
		return Result{Duplicate: true}, nil
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s payload: %w", commandType, err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	advanced, err := e.syncHead(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if advanced {
		// another writer may have committed this key since the first check
		dup, err := tx.IsDuplicate(ctx, commandType, key)
		if err != nil {
			return Result{}, fmt.Errorf("journal dedup lookup: %w", err)
		}
		if dup {
			e.idempotency.MarkProcessed(commandType, key)
			e.reject(commandType, "duplicate")
			return Result{Duplicate: true}, nil
		}
	}

	intents, err := e.route(ctx, tx, cmd)
	if err != nil {
		e.reject(commandType, ledger.Category(err))
		e.logger.Info().
			Err(err).
			Str("command_type", commandType).
			Str("key", key).
			Str("caller", cmd.Caller().String()).
			Msg("command rejected")
		return Result{}, err
	}

	seq := e.sequence + 1
	intents = command.Stamp(intents, seq)

	entry := store.JournalEntry{
		Sequence:       seq,
		CommandType:    commandType,
		IdempotencyKey: key,
		Caller:         cmd.Caller(),
		Payload:        payload,
		IntentCount:    len(intents),
		Timestamp:      e.clock().UTC().Truncate(time.Microsecond),
	}
	prev := e.hasher.PrevHash()
	hash := e.hasher.ComputeHash(seq, EntryDigest(entry))
	entry.PrevHash = prev[:]
	entry.StateHash = hash[:]

	if err := tx.AppendJournal(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("append journal: %w", err)
	}
	if len(intents) > 0 {
		if err := tx.AppendOutbox(ctx, intents); err != nil {
			return Result{}, fmt.Errorf("append outbox: %w", err)
		}
	}

	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, intents); err != nil {
			e.reject(commandType, "dispatch")
			return Result{}, fmt.Errorf("dispatch %s: %w", commandType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	e.sequence = seq
	e.published.Store(seq)
	e.hasher.Advance(hash)
	e.idempotency.MarkProcessed(commandType, key)

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.CommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.JournalSequence.Set(float64(seq))
		for _, in := range intents {
			e.metrics.IntentsStaged.WithLabelValues(string(in.Kind)).Inc()
		}
	}
	e.logger.Debug().
		Int64("sequence", seq).
		Str("command_type", commandType).
		Str("key", key).
		Int("intents", len(intents)).
		Msg("command committed")

	// Wake the outbox relay; a pending signal already covers this commit.
	if len(intents) > 0 {
		select {
		case e.committed <- struct{}{}:
		default:
		}
	}

	return Result{Sequence: seq, StateHash: hash, Intents: intents}, nil
}

// syncHead resumes from the journal tip seen by tx when another process
// sharing the store has committed since this engine last did. It reports
// whether the tip moved.
func (e *Engine) syncHead(ctx context.Context, tx store.Tx) (bool, error) {
	head, ok, err := tx.Head(ctx)
	if err != nil {
		return false, fmt.Errorf("load journal head: %w", err)
	}
	if !ok || head.Sequence == e.sequence {
		return false, nil
	}
	if head.Sequence < e.sequence || len(head.StateHash) != 32 {
		return false, fmt.Errorf("%w: journal tip %d behind engine sequence %d", ErrJournalCorrupt, head.Sequence, e.sequence)
	}

	var tip [32]byte
	copy(tip[:], head.StateHash)
	e.logger.Warn().
		Int64("from", e.sequence).
		Int64("to", head.Sequence).
		Msg("journal advanced by another writer")
	e.sequence = head.Sequence
	e.published.Store(head.Sequence)
	e.hasher.Resume(tip)
	return true, nil
}

func (e *Engine) reject(commandType, reason string) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

func (e *Engine) route(ctx context.Context, tx store.Tx, cmd command.Command) ([]command.Intent, error) {
	switch c := cmd.(type) {
	case *command.Instantiate:
		return nil, registry.Instantiate(ctx, tx, c.Config, c.Collateral)
	case *command.UpdateConfig:
		return nil, registry.UpdateConfig(ctx, tx, c.Caller(), c.Update)
	case *command.ProposeOwner:
		return nil, registry.ProposeOwner(ctx, tx, c.Caller(), c.Candidate)
	case *command.AcceptOwnership:
		return nil, registry.AcceptOwnership(ctx, tx, c.Caller())
	case *command.WhitelistCollateral:
		return nil, registry.Whitelist(ctx, tx, c.Caller(), c.Listing)
	case *command.SetCollateralSafeRate:
		return nil, registry.SetCollateralSafeRate(ctx, tx, c.Caller(), c.Rate)
	case *command.Mint:
		return e.cdp.Mint(ctx, tx, c)
	case *command.Repay:
		return e.cdp.Repay(ctx, tx, c)
	case *command.DepositCollateral:
		return e.cdp.DepositCollateral(ctx, tx, c)
	case *command.WithdrawCollateral:
		return e.cdp.Withdraw(ctx, tx, c)
	case *command.Redeem:
		return e.cdp.Redeem(ctx, tx, c)
	case *command.Liquidate:
		return e.cdp.Liquidate(ctx, tx, c)
	case *command.SetRedemptionProvider:
		return e.cdp.SetRedemptionProvider(ctx, tx, c)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ledger.ErrValidation, cmd)
	}
}

// Committed signals after every commit that staged intents. The outbox
// relay waits on it between polls.
func (e *Engine) Committed() <-chan struct{} {
	return e.committed
}

// Sequence returns the last committed journal sequence.
func (e *Engine) Sequence() int64 {
	return e.published.Load()
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.PrevHash()
}

// ErrJournalCorrupt is returned by VerifyJournal when the hash chain breaks.
var ErrJournalCorrupt = errors.New("journal hash chain broken")

// VerifyJournal replays the hash chain over the whole journal and returns the
// number of entries checked.
func VerifyJournal(ctx context.Context, st store.Store, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	prev := GenesisHash()
	next := int64(1)

	for {
		page, err := st.Journal(ctx, next, pageSize)
		if err != nil {
			return next - 1, fmt.Errorf("read journal from %d: %w", next, err)
		}
		for _, entry := range page {
			if entry.Sequence != next {
				return next - 1, fmt.Errorf("%w: expected sequence %d, found %d", ErrJournalCorrupt, next, entry.Sequence)
			}
			if string(entry.PrevHash) != string(prev[:]) {
				return next - 1, fmt.Errorf("%w: prev hash mismatch at %d", ErrJournalCorrupt, entry.Sequence)
			}
			want := chainHash(prev, entry.Sequence, EntryDigest(entry))
			if string(entry.StateHash) != string(want[:]) {
				return next - 1, fmt.Errorf("%w: state hash mismatch at %d", ErrJournalCorrupt, entry.Sequence)
			}
			prev = want
			next++
		}
		if len(page) < pageSize {
			return next - 1, nil
		}
	}
}
