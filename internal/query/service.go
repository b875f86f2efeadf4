// Package query is the read surface of the ledger. Every query runs inside a
// read-only store transaction so it observes exactly one committed state.
package query

import (
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/store"
	"CDPLedger/internal/valuation"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SequenceSource reports the last committed sequence; core.Engine satisfies it.
type SequenceSource interface {
	Sequence() int64
}

// QueryService serves reads from the ledger store. Capacity-based answers
// price collateral through the oracle at query time.
type QueryService struct {
	store     store.Store
	valuation *valuation.Engine
	head      SequenceSource
	metrics   *observability.Metrics
}

// NewQueryService wires the read surface. head and metrics may be nil.
func NewQueryService(st store.Store, v *valuation.Engine, head SequenceSource, metrics *observability.Metrics) *QueryService {
	return &QueryService{store: st, valuation: v, head: head, metrics: metrics}
}

// GetConfig returns the protocol config and any pending owner.
func (qs *QueryService) GetConfig(ctx context.Context) (resp *ConfigResponse, err error) {
	defer qs.observe("config", time.Now(), &err)

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		cfg, err := r.Config(ctx)
		if err != nil {
			return err
		}
		resp = &ConfigResponse{Config: cfg, AsOfSequence: asOf}
		if pending, ok, err := r.PendingOwner(ctx); err != nil {
			return err
		} else if ok {
			resp.PendingOwner = &pending
		}
		return nil
	})
	return resp, err
}

// GetLoanInfo returns a minter's loans and the most it could owe against
// its current basket.
func (qs *QueryService) GetLoanInfo(ctx context.Context, minter ledger.Address) (resp *LoanInfoResponse, err error) {
	defer qs.observe("loan_info", time.Now(), &err)
	if err := requireMinter(minter); err != nil {
		return nil, err
	}

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		debt, err := r.MinterDebt(ctx, minter)
		if err != nil {
			return err
		}
		basket, err := r.Basket(ctx, minter)
		if err != nil {
			return err
		}
		oracle, err := oracleOf(ctx, r)
		if err != nil {
			return err
		}
		capacity, err := qs.valuation.Capacity(ctx, oracle, r, basket)
		if err != nil {
			return err
		}
		resp = &LoanInfoResponse{
			Minter:       minter,
			Loans:        debt.Loans,
			MaxMintValue: capacity,
			AsOfSequence: asOf,
		}
		return nil
	})
	return resp, err
}

// GetListing returns one whitelisted collateral type.
func (qs *QueryService) GetListing(ctx context.Context, asset ledger.AssetID) (resp *ledger.CollateralListing, err error) {
	defer qs.observe("listing", time.Now(), &err)

	err = qs.read(ctx, func(r store.Reader, _ int64) error {
		l, err := registry.RequireListing(ctx, r, asset)
		if err != nil {
			return err
		}
		resp = &l
		return nil
	})
	return resp, err
}

// GetWhitelist pages through listings in ascending asset order. When asset
// is set, the page holds that single listing instead.
func (qs *QueryService) GetWhitelist(ctx context.Context, asset, startAfter ledger.AssetID, limit int) (resp *WhitelistResponse, err error) {
	defer qs.observe("whitelist", time.Now(), &err)

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		resp = &WhitelistResponse{Elems: []ledger.CollateralListing{}, AsOfSequence: asOf}
		if asset != "" {
			l, err := registry.RequireListing(ctx, r, asset)
			if err != nil {
				return err
			}
			resp.Elems = append(resp.Elems, l)
			return nil
		}
		page, err := r.Listings(ctx, startAfter, store.ClampLimit(limit))
		if err != nil {
			return err
		}
		resp.Elems = append(resp.Elems, page...)
		return nil
	})
	return resp, err
}

// GetMinterCollateral returns a minter's basket in its stored order.
func (qs *QueryService) GetMinterCollateral(ctx context.Context, minter ledger.Address) (resp *MinterCollateralResponse, err error) {
	defer qs.observe("minter_collateral", time.Now(), &err)
	if err := requireMinter(minter); err != nil {
		return nil, err
	}

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		basket, err := r.Basket(ctx, minter)
		if err != nil {
			return err
		}
		if basket == nil {
			basket = ledger.Basket{}
		}
		resp = &MinterCollateralResponse{Minter: minter, Collaterals: basket, AsOfSequence: asOf}
		return nil
	})
	return resp, err
}

// GetRedemptionProviders pages through minters flagged as redemption
// providers. When minter is set, the page holds that minter's record
// whether or not it is flagged.
func (qs *QueryService) GetRedemptionProviders(ctx context.Context, minter, startAfter ledger.Address, limit int) (resp *RedemptionProvidersResponse, err error) {
	defer qs.observe("redemption_providers", time.Now(), &err)

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		resp = &RedemptionProvidersResponse{Providers: []ledger.MinterDebt{}, AsOfSequence: asOf}
		if !minter.IsZero() {
			d, err := r.MinterDebt(ctx, minter)
			if err != nil {
				return err
			}
			resp.Providers = append(resp.Providers, d)
			return nil
		}
		page, err := r.RedemptionProviders(ctx, startAfter, store.ClampLimit(limit))
		if err != nil {
			return err
		}
		resp.Providers = append(resp.Providers, page...)
		return nil
	})
	return resp, err
}

// GetCollateralAvailable returns how much of asset the minter could withdraw
// right now without breaking the capacity invariant.
func (qs *QueryService) GetCollateralAvailable(ctx context.Context, minter ledger.Address, asset ledger.AssetID) (resp *CollateralAvailableResponse, err error) {
	defer qs.observe("collateral_available", time.Now(), &err)
	if err := requireMinter(minter); err != nil {
		return nil, err
	}

	err = qs.read(ctx, func(r store.Reader, asOf int64) error {
		if _, err := registry.RequireListing(ctx, r, asset); err != nil {
			return err
		}
		debt, err := r.MinterDebt(ctx, minter)
		if err != nil {
			return err
		}
		basket, err := r.Basket(ctx, minter)
		if err != nil {
			return err
		}
		oracle, err := oracleOf(ctx, r)
		if err != nil {
			return err
		}
		available, err := qs.valuation.AvailableToWithdraw(ctx, oracle, r, debt.Loans, basket, asset)
		if err != nil {
			return err
		}
		resp = &CollateralAvailableResponse{
			Minter:           minter,
			Asset:            asset,
			AvailableBalance: available,
			AsOfSequence:     asOf,
		}
		return nil
	})
	return resp, err
}

// GetJournalHistory returns committed journal entries from fromSequence on.
func (qs *QueryService) GetJournalHistory(ctx context.Context, fromSequence int64, limit int) (out []JournalHistoryEntry, err error) {
	defer qs.observe("journal", time.Now(), &err)
	if fromSequence < 1 {
		fromSequence = 1
	}

	entries, err := qs.store.Journal(ctx, fromSequence, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	out = make([]JournalHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, JournalHistoryEntry{
			Sequence:       e.Sequence,
			CommandType:    e.CommandType,
			IdempotencyKey: e.IdempotencyKey,
			Caller:         e.Caller,
			IntentCount:    e.IntentCount,
			StateHash:      hex.EncodeToString(e.StateHash),
			Timestamp:      e.Timestamp,
		})
	}
	return out, nil
}

// VerifyIntegrity replays the journal hash chain. A broken chain is reported
// in the result; only read failures are returned as errors.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	n, err := core.VerifyJournal(ctx, qs.store, 0)
	if errors.Is(err, core.ErrJournalCorrupt) {
		return &IntegrityReport{IsHealthy: false, Verified: n, Error: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &IntegrityReport{IsHealthy: true, Verified: n}, nil
}

// read runs fn in a read-only transaction. asOf is the engine sequence
// sampled once the transaction is open, and is best-effort: it never runs
// ahead of what fn reads but may lag it. The engine publishes a sequence
// only after its commit, and on Postgres the snapshot is fixed later, by the
// first statement fn runs.
func (qs *QueryService) read(ctx context.Context, fn func(r store.Reader, asOf int64) error) error {
	tx, err := qs.store.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var asOf int64
	if qs.head != nil {
		asOf = qs.head.Sequence()
	}
	return fn(tx, asOf)
}

func (qs *QueryService) observe(method string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if *err != nil {
		qs.metrics.QueryErrors.WithLabelValues(method, ledger.Category(*err)).Inc()
	}
}

// oracleOf returns the configured oracle. Before instantiation there is no
// listing, so no basket can need pricing.
func oracleOf(ctx context.Context, r store.Reader) (ledger.Address, error) {
	cfg, err := r.Config(ctx)
	if errors.Is(err, ledger.ErrNotInstantiated) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cfg.Oracle, nil
}

func requireMinter(minter ledger.Address) error {
	if minter.IsZero() {
		return fmt.Errorf("%w: minter is required", ledger.ErrValidation)
	}
	return nil
}
