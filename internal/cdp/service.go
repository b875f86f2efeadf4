// Package cdp implements the minter-facing orchestrators: mint, repay,
// deposit, withdraw, redeem and liquidate. Each operation reads and stages
// writes through a store.Tx and returns the collaborator intents it wants
// dispatched. The caller owns the transaction; on error it must roll back,
// which discards the staged writes together with the intents.
package cdp

import (
	"CDPLedger/internal/collab"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/store"
	"CDPLedger/internal/valuation"
	"context"
	"fmt"
)

type Service struct {
	valuation  *valuation.Engine
	liquidator collab.LiquidationEngine
	pool       collab.Pool
}

func NewService(v *valuation.Engine, liquidator collab.LiquidationEngine, pool collab.Pool) *Service {
	return &Service{valuation: v, liquidator: liquidator, pool: pool}
}

// position is a minter's debt and basket loaded together.
type position struct {
	debt   ledger.MinterDebt
	basket ledger.Basket
}

func loadPosition(ctx context.Context, r store.Reader, minter ledger.Address) (position, error) {
	debt, err := r.MinterDebt(ctx, minter)
	if err != nil {
		return position{}, fmt.Errorf("load debt %s: %w", minter, err)
	}
	basket, err := r.Basket(ctx, minter)
	if err != nil {
		return position{}, fmt.Errorf("load basket %s: %w", minter, err)
	}
	return position{debt: debt, basket: basket}, nil
}
