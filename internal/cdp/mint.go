package cdp

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/store"
	"context"
	"fmt"
)

// Mint issues StableAmount of debt to the minter, optionally together with a
// collateral deposit relayed by that collateral's custody vault. The deposit
// counts towards capacity; if the mint then exceeds capacity, the deposit is
// rolled back with everything else.
func (s *Service) Mint(ctx context.Context, tx store.Tx, cmd *command.Mint) ([]command.Intent, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}

	var (
		intents []command.Intent
		listing ledger.CollateralListing
	)
	if cmd.Deposit != nil {
		if listing, err = registry.RequireListing(ctx, tx, cmd.Deposit.Asset); err != nil {
			return nil, err
		}
		if cmd.Caller() != listing.Custody {
			return nil, ledger.Unauthorized("mint", cmd.Caller())
		}
		if cmd.Deposit.Amount.IsZero() {
			return nil, ledger.ErrZeroCollateral
		}
	} else if cmd.Caller() != cmd.Minter {
		return nil, ledger.Unauthorized("mint", cmd.Caller())
	}

	pos, err := loadPosition(ctx, tx, cmd.Minter)
	if err != nil {
		return nil, err
	}

	if cmd.Deposit != nil {
		if pos.basket, err = pos.basket.Add(*cmd.Deposit); err != nil {
			return nil, fmt.Errorf("add deposit: %w", err)
		}
		if err := tx.PutBasket(ctx, cmd.Minter, pos.basket); err != nil {
			return nil, err
		}
		intents = append(intents, command.RewardIncrease(listing.RewardBook, cmd.Minter, listing.Asset, cmd.Deposit.Amount))
	}

	capacity, err := s.valuation.Capacity(ctx, cfg.Oracle, tx, pos.basket)
	if err != nil {
		return nil, err
	}

	if err := pos.debt.Borrow(cmd.StableAmount); err != nil {
		return nil, err
	}
	if pos.debt.Loans.GT(capacity) {
		return nil, &ledger.MintTooLargeError{Capacity: capacity}
	}

	if cmd.RedemptionProvider != nil {
		pos.debt.IsRedemptionProvider = *cmd.RedemptionProvider
	}
	if err := tx.PutMinterDebt(ctx, pos.debt); err != nil {
		return nil, err
	}

	if !cmd.StableAmount.IsZero() {
		intents = append(intents, command.PoolMint(cfg.Pool, cmd.Minter, cmd.StableAmount))
	}
	return intents, nil
}

// Repay settles debt after the pool has burned the repaid stable asset.
// Only the pool may call it.
func (s *Service) Repay(ctx context.Context, tx store.Tx, cmd *command.Repay) ([]command.Intent, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Caller() != cfg.Pool {
		return nil, ledger.Unauthorized("repay", cmd.Caller())
	}
	if cmd.Amount.IsZero() {
		return nil, ledger.ErrZeroAmount
	}

	debt, err := tx.MinterDebt(ctx, cmd.Minter)
	if err != nil {
		return nil, err
	}
	if err := debt.Settle(cmd.Amount); err != nil {
		return nil, err
	}
	return nil, tx.PutMinterDebt(ctx, debt)
}

// DepositCollateral adds collateral relayed by its custody vault without
// minting. More collateral can only raise capacity, so there is no check.
func (s *Service) DepositCollateral(ctx context.Context, tx store.Tx, cmd *command.DepositCollateral) ([]command.Intent, error) {
	listing, err := registry.RequireListing(ctx, tx, cmd.Deposit.Asset)
	if err != nil {
		return nil, err
	}
	if cmd.Caller() != listing.Custody {
		return nil, ledger.Unauthorized("deposit_collateral", cmd.Caller())
	}
	if cmd.Deposit.Amount.IsZero() {
		return nil, ledger.ErrZeroCollateral
	}

	basket, err := tx.Basket(ctx, cmd.Minter)
	if err != nil {
		return nil, err
	}
	if basket, err = basket.Add(cmd.Deposit); err != nil {
		return nil, fmt.Errorf("add deposit: %w", err)
	}
	if err := tx.PutBasket(ctx, cmd.Minter, basket); err != nil {
		return nil, err
	}
	return []command.Intent{
		command.RewardIncrease(listing.RewardBook, cmd.Minter, listing.Asset, cmd.Deposit.Amount),
	}, nil
}

// SetRedemptionProvider lets a minter opt in or out of third-party redemption.
func (s *Service) SetRedemptionProvider(ctx context.Context, tx store.Tx, cmd *command.SetRedemptionProvider) ([]command.Intent, error) {
	debt, err := tx.MinterDebt(ctx, cmd.Caller())
	if err != nil {
		return nil, err
	}
	debt.IsRedemptionProvider = cmd.Enabled
	return nil, tx.PutMinterDebt(ctx, debt)
}
