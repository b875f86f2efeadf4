// Package memory is an in-process store backend. Write transactions hold an
// exclusive lock for their whole lifetime, so at most one is open at a time.
package memory

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/store"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type outboxRow struct {
	intent     command.Intent
	dispatched bool
}

// Store keeps all ledger state in maps guarded by a RWMutex.
type Store struct {
	mu sync.RWMutex

	config       *ledger.Config
	pendingOwner *ledger.Address
	listings     map[ledger.AssetID]ledger.CollateralListing
	debts        map[ledger.Address]ledger.MinterDebt
	baskets      map[ledger.Address]ledger.Basket

	journal     []store.JournalEntry
	journalKeys map[string]struct{}
	outbox      []outboxRow
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		listings:    make(map[ledger.AssetID]ledger.CollateralListing),
		debts:       make(map[ledger.Address]ledger.MinterDebt),
		baskets:     make(map[ledger.Address]ledger.Basket),
		journalKeys: make(map[string]struct{}),
	}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &tx{
		s:        s,
		write:    true,
		listings: make(map[ledger.AssetID]ledger.CollateralListing),
		debts:    make(map[ledger.Address]ledger.MinterDebt),
		baskets:  make(map[ledger.Address]ledger.Basket),
	}, nil
}

func (s *Store) BeginRead(ctx context.Context) (store.ReadTx, error) {
	s.mu.RLock()
	return &tx{s: s}, nil
}

func (s *Store) Head(ctx context.Context) (store.Head, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.head()
	return h, ok, nil
}

// head requires s.mu.
func (s *Store) head() (store.Head, bool) {
	if len(s.journal) == 0 {
		return store.Head{}, false
	}
	last := s.journal[len(s.journal)-1]
	return store.Head{Sequence: last.Sequence, StateHash: last.StateHash}, true
}

func (s *Store) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.journalKeys[compositeKey(commandType, idempotencyKey)]
	return ok, nil
}

func (s *Store) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.journal) - limit
	if start < 0 {
		start = 0
	}
	keys := make([]string, 0, len(s.journal)-start)
	for _, e := range s.journal[start:] {
		keys = append(keys, compositeKey(e.CommandType, e.IdempotencyKey))
	}
	return keys, nil
}

func (s *Store) Journal(ctx context.Context, fromSequence int64, limit int) ([]store.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.JournalEntry
	for _, e := range s.journal {
		if e.Sequence < fromSequence {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PendingIntents(ctx context.Context, limit int) ([]command.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []command.Intent
	for _, row := range s.outbox {
		if row.dispatched {
			continue
		}
		out = append(out, row.intent)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDispatched(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	for i := range s.outbox {
		if _, ok := done[s.outbox[i].intent.ID]; ok {
			s.outbox[i].dispatched = true
		}
	}
	return nil
}

func compositeKey(commandType, key string) string {
	return fmt.Sprintf("%s:%s", commandType, key)
}

// tx overlays staged writes on the committed maps.
type tx struct {
	s     *Store
	write bool
	done  bool

	config       *ledger.Config
	pendingSet   bool
	pendingOwner *ledger.Address
	listings     map[ledger.AssetID]ledger.CollateralListing
	debts        map[ledger.Address]ledger.MinterDebt
	baskets      map[ledger.Address]ledger.Basket // nil value marks a deletion
	journal      []store.JournalEntry
	outbox       []command.Intent
}

func (t *tx) check() error {
	if t.done {
		return store.ErrTxDone
	}
	return nil
}

func (t *tx) checkWrite() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.write {
		return fmt.Errorf("memory store: write in read-only transaction")
	}
	return nil
}

func (t *tx) Config(ctx context.Context) (ledger.Config, error) {
	if err := t.check(); err != nil {
		return ledger.Config{}, err
	}
	if t.config != nil {
		return *t.config, nil
	}
	if t.s.config == nil {
		return ledger.Config{}, ledger.ErrNotInstantiated
	}
	return *t.s.config, nil
}

func (t *tx) PendingOwner(ctx context.Context) (ledger.Address, bool, error) {
	if err := t.check(); err != nil {
		return "", false, err
	}
	p := t.s.pendingOwner
	if t.pendingSet {
		p = t.pendingOwner
	}
	if p == nil {
		return "", false, nil
	}
	return *p, true, nil
}

func (t *tx) Listing(ctx context.Context, asset ledger.AssetID) (ledger.CollateralListing, bool, error) {
	if err := t.check(); err != nil {
		return ledger.CollateralListing{}, false, err
	}
	if l, ok := t.listings[asset]; ok {
		return l, true, nil
	}
	l, ok := t.s.listings[asset]
	return l, ok, nil
}

func (t *tx) Listings(ctx context.Context, startAfter ledger.AssetID, limit int) ([]ledger.CollateralListing, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	seen := make(map[ledger.AssetID]struct{}, len(t.s.listings)+len(t.listings))
	var keys []ledger.AssetID
	for _, m := range []map[ledger.AssetID]ledger.CollateralListing{t.s.listings, t.listings} {
		for k := range m {
			if _, dup := seen[k]; dup || k <= startAfter {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]ledger.CollateralListing, 0, len(keys))
	for _, k := range keys {
		l, _, _ := t.Listing(ctx, k)
		out = append(out, l)
	}
	return out, nil
}

func (t *tx) MinterDebt(ctx context.Context, minter ledger.Address) (ledger.MinterDebt, error) {
	if err := t.check(); err != nil {
		return ledger.MinterDebt{}, err
	}
	if d, ok := t.debts[minter]; ok {
		return d, nil
	}
	if d, ok := t.s.debts[minter]; ok {
		return d, nil
	}
	return ledger.NewMinterDebt(minter), nil
}

func (t *tx) RedemptionProviders(ctx context.Context, startAfter ledger.Address, limit int) ([]ledger.MinterDebt, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	seen := make(map[ledger.Address]struct{})
	var keys []ledger.Address
	for _, m := range []map[ledger.Address]ledger.MinterDebt{t.debts, t.s.debts} {
		for k := range m {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if k <= startAfter {
				continue
			}
			if d, _ := t.MinterDebt(ctx, k); d.IsRedemptionProvider {
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]ledger.MinterDebt, 0, len(keys))
	for _, k := range keys {
		d, _ := t.MinterDebt(ctx, k)
		out = append(out, d)
	}
	return out, nil
}

func (t *tx) Basket(ctx context.Context, minter ledger.Address) (ledger.Basket, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if b, ok := t.baskets[minter]; ok {
		return b.Clone(), nil
	}
	return t.s.baskets[minter].Clone(), nil
}

func (t *tx) PutConfig(ctx context.Context, cfg ledger.Config) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.config = &cfg
	return nil
}

func (t *tx) SetPendingOwner(ctx context.Context, candidate ledger.Address) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.pendingSet = true
	t.pendingOwner = &candidate
	return nil
}

func (t *tx) ClearPendingOwner(ctx context.Context) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.pendingSet = true
	t.pendingOwner = nil
	return nil
}

func (t *tx) PutListing(ctx context.Context, listing ledger.CollateralListing) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.listings[listing.Asset] = listing
	return nil
}

func (t *tx) PutMinterDebt(ctx context.Context, debt ledger.MinterDebt) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.debts[debt.Minter] = debt
	return nil
}

func (t *tx) PutBasket(ctx context.Context, minter ledger.Address, basket ledger.Basket) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if basket.IsEmpty() {
		t.baskets[minter] = nil
		return nil
	}
	t.baskets[minter] = basket.Clone()
	return nil
}

func (t *tx) Head(ctx context.Context) (store.Head, bool, error) {
	if err := t.checkWrite(); err != nil {
		return store.Head{}, false, err
	}
	h, ok := t.s.head()
	return h, ok, nil
}

func (t *tx) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	if err := t.checkWrite(); err != nil {
		return false, err
	}
	_, ok := t.s.journalKeys[compositeKey(commandType, idempotencyKey)]
	return ok, nil
}

func (t *tx) AppendJournal(ctx context.Context, entry store.JournalEntry) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	key := compositeKey(entry.CommandType, entry.IdempotencyKey)
	if _, dup := t.s.journalKeys[key]; dup {
		return fmt.Errorf("memory store: journal already holds %s", key)
	}
	t.journal = append(t.journal, entry)
	return nil
}

func (t *tx) AppendOutbox(ctx context.Context, intents []command.Intent) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.outbox = append(t.outbox, intents...)
	return nil
}

func (t *tx) Commit() error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	s := t.s
	if t.config != nil {
		cfg := *t.config
		s.config = &cfg
	}
	if t.pendingSet {
		s.pendingOwner = t.pendingOwner
	}
	for k, v := range t.listings {
		s.listings[k] = v
	}
	for k, v := range t.debts {
		s.debts[k] = v
	}
	for k, v := range t.baskets {
		if v == nil {
			delete(s.baskets, k)
			continue
		}
		s.baskets[k] = v
	}
	for _, e := range t.journal {
		s.journal = append(s.journal, e)
		s.journalKeys[compositeKey(e.CommandType, e.IdempotencyKey)] = struct{}{}
	}
	for _, in := range t.outbox {
		s.outbox = append(s.outbox, outboxRow{intent: in})
	}

	t.done = true
	s.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.write {
		t.s.mu.Unlock()
	} else {
		t.s.mu.RUnlock()
	}
	return nil
}
