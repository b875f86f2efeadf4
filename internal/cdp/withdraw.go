package cdp

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/store"
	"context"
)

// Withdraw releases collateral from the caller's own basket. Solvency is
// checked against the post-withdrawal basket before anything is staged.
func (s *Service) Withdraw(ctx context.Context, tx store.Tx, cmd *command.WithdrawCollateral) ([]command.Intent, error) {
	minter := cmd.Caller()
	if cmd.Amount.IsZero() {
		return nil, ledger.ErrZeroAmount
	}
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	listing, err := registry.RequireListing(ctx, tx, cmd.Asset)
	if err != nil {
		return nil, err
	}

	pos, err := loadPosition(ctx, tx, minter)
	if err != nil {
		return nil, err
	}
	post, err := pos.basket.Sub(ledger.Entry{Asset: cmd.Asset, Amount: cmd.Amount})
	if err != nil {
		return nil, err
	}

	capacity, err := s.valuation.Capacity(ctx, cfg.Oracle, tx, post)
	if err != nil {
		return nil, err
	}
	if pos.debt.Loans.GT(capacity) {
		return nil, &ledger.WithdrawTooLargeError{Loans: pos.debt.Loans, Capacity: capacity}
	}

	if err := tx.PutBasket(ctx, minter, post); err != nil {
		return nil, err
	}
	return []command.Intent{
		command.CustodyTransfer(listing.Custody, minter, cmd.Asset, cmd.Amount, command.ReasonWithdraw),
		command.RewardDecrease(listing.RewardBook, minter, cmd.Asset, cmd.Amount),
	}, nil
}
