package cdp

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/store"
	"CDPLedger/internal/valuation"
	"context"
	"fmt"
)

// Redeem clears amount of a redemption provider's debt and hands the
// redeemer collateral worth amount × (1 − fee). The pool relays the call
// after burning the redeemer's stable asset.
func (s *Service) Redeem(ctx context.Context, tx store.Tx, cmd *command.Redeem) ([]command.Intent, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Caller() != cfg.Pool {
		return nil, ledger.Unauthorized("redeem", cmd.Caller())
	}
	if cmd.Amount.IsZero() {
		return nil, ledger.ErrZeroAmount
	}

	pos, err := loadPosition(ctx, tx, cmd.Minter)
	if err != nil {
		return nil, err
	}
	if !pos.debt.IsRedemptionProvider {
		return nil, ledger.ErrNotRedemptionProvider
	}
	if cmd.Amount.GT(pos.debt.Loans) {
		return nil, &ledger.RedeemTooLargeError{Loans: pos.debt.Loans}
	}

	keep, err := fpmath.One.Sub(cfg.RedeemFee)
	if err != nil {
		return nil, err
	}
	redeemValue, err := cmd.Amount.Mul(keep)
	if err != nil {
		return nil, err
	}

	released, err := s.allocateRedemption(ctx, cfg.Oracle, tx, pos.basket, redeemValue)
	if err != nil {
		return nil, err
	}

	deltas := make([]ledger.Entry, len(released))
	for i, r := range released {
		deltas[i] = r.Entry
	}
	post, err := pos.basket.Sub(deltas...)
	if err != nil {
		// the allocation never releases more than is held
		return nil, fmt.Errorf("redemption allocation exceeded basket: %w", err)
	}
	if err := pos.debt.Settle(cmd.Amount); err != nil {
		return nil, err
	}

	if err := tx.PutBasket(ctx, cmd.Minter, post); err != nil {
		return nil, err
	}
	if err := tx.PutMinterDebt(ctx, pos.debt); err != nil {
		return nil, err
	}

	intents := make([]command.Intent, 0, 2*len(released))
	for _, r := range released {
		intents = append(intents,
			command.CustodyTransfer(r.Listing.Custody, cmd.Redeemer, r.Entry.Asset, r.Entry.Amount, command.ReasonRedeem),
			command.RewardDecrease(r.Listing.RewardBook, cmd.Minter, r.Entry.Asset, r.Entry.Amount),
		)
	}
	return intents, nil
}

// release is one basket entry (or part of it) handed to the redeemer.
type release struct {
	Entry   ledger.Entry
	Listing ledger.CollateralListing
}

// allocateRedemption walks the basket in insertion order, releasing whole
// entries while their running USD value stays within redeemValue. The first
// entry that would cross redeemValue is released fractionally and ends the
// walk. Entries after the boundary are never priced.
func (s *Service) allocateRedemption(ctx context.Context, oracle ledger.Address, listings valuation.ListingReader, basket ledger.Basket, redeemValue fpmath.Dec) ([]release, error) {
	if redeemValue.IsZero() {
		return nil, nil
	}

	var out []release
	running := fpmath.Zero

	for _, entry := range basket {
		line, err := s.valuation.AppraiseEntry(ctx, oracle, listings, entry)
		if err != nil {
			return nil, err
		}

		total, err := running.Add(line.Value)
		if err != nil {
			return nil, err
		}
		if total.LTE(redeemValue) {
			out = append(out, release{Entry: entry, Listing: line.Listing})
			running = total
			if running.Equal(redeemValue) {
				return out, nil
			}
			continue
		}

		remaining, _ := redeemValue.Sub(running)
		amount, err := remaining.Quo(line.Price)
		if err != nil {
			return nil, err
		}
		if !amount.IsZero() {
			out = append(out, release{
				Entry:   ledger.Entry{Asset: entry.Asset, Amount: fpmath.Min(amount, entry.Amount)},
				Listing: line.Listing,
			})
		}
		return out, nil
	}

	return nil, &ledger.RedemptionShortfallError{Requested: redeemValue, Available: running}
}
