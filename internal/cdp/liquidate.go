package cdp

import (
	"CDPLedger/internal/collab"
	"CDPLedger/internal/command"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/store"
	"context"
	"fmt"
)

// Liquidate seizes collateral from a minter whose loans exceed capacity.
// The liquidation engine decides the seized quantities; the pool is told its
// pre-liquidation stable balance so it can derive the repaid amount once the
// engine's settlement has landed.
func (s *Service) Liquidate(ctx context.Context, tx store.Tx, cmd *command.Liquidate) ([]command.Intent, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	liquidator := cmd.Caller()

	pos, err := loadPosition(ctx, tx, cmd.Minter)
	if err != nil {
		return nil, err
	}
	appraisal, err := s.valuation.Appraise(ctx, cfg.Oracle, tx, pos.basket)
	if err != nil {
		return nil, err
	}
	if !pos.debt.Loans.GT(appraisal.Capacity) {
		return nil, ledger.ErrCannotLiquidateSafePosition
	}

	preBalance, err := s.pool.StableBalance(ctx, cfg.Pool, cfg.StableDenom)
	if err != nil {
		return nil, fmt.Errorf("pool pre-balance: %w", err)
	}

	seized, err := s.liquidator.ComputeSeizure(ctx, cfg.LiquidationEngine, collab.SeizureRequest{
		Minter:   cmd.Minter,
		Loans:    pos.debt.Loans,
		Capacity: appraisal.Capacity,
		Basket:   pos.basket.Clone(),
		Prices:   appraisal.Prices(),
	})
	if err != nil {
		return nil, fmt.Errorf("compute seizure: %w", err)
	}

	post, err := pos.basket.Sub(seized...)
	if err != nil {
		return nil, fmt.Errorf("seizure exceeds basket: %w", err)
	}
	if err := tx.PutBasket(ctx, cmd.Minter, post); err != nil {
		return nil, err
	}

	listings := make(map[ledger.AssetID]ledger.CollateralListing, len(appraisal.Lines))
	for _, l := range appraisal.Lines {
		listings[l.Entry.Asset] = l.Listing
	}

	var intents []command.Intent
	for _, e := range seized {
		if e.Amount.IsZero() {
			continue
		}
		l := listings[e.Asset]
		intents = append(intents,
			command.CustodyTransfer(l.Custody, liquidator, e.Asset, e.Amount, command.ReasonLiquidate),
			command.RewardDecrease(l.RewardBook, cmd.Minter, e.Asset, e.Amount),
		)
	}
	intents = append(intents, command.PoolReconcile(cfg.Pool, cmd.Minter, preBalance))
	return intents, nil
}
