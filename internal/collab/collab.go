// Package collab holds the synchronous query interfaces of the external
// collaborators (oracle, liquidation engine, stable pool) and their clients.
// Requests that change collaborator state are not made here; they leave the
// core as outbox intents.
//
// Every query names the collaborator it is addressed to. Callers take the
// address from the current config, so a config update redirects the next call.
package collab

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"context"
	"errors"
)

var (
	ErrPriceUnavailable = errors.New("collab: price unavailable")
	ErrInvalidTarget    = errors.New("collab: invalid collaborator address")
)

// Oracle returns the current USD price of one unit of asset as reported by
// the oracle at address oracle.
type Oracle interface {
	Price(ctx context.Context, oracle ledger.Address, asset ledger.AssetID) (fpmath.Dec, error)
}

// SeizureRequest is what the liquidation engine needs to decide a seizure.
// Basket and Prices are parallel and in basket order.
type SeizureRequest struct {
	Minter   ledger.Address `json:"minter"`
	Loans    fpmath.Dec     `json:"loans"`
	Capacity fpmath.Dec     `json:"capacity"`
	Basket   ledger.Basket  `json:"basket"`
	Prices   []fpmath.Dec   `json:"prices"`
}

// LiquidationEngine decides how much of each basket entry to seize.
type LiquidationEngine interface {
	ComputeSeizure(ctx context.Context, engine ledger.Address, req SeizureRequest) (ledger.Basket, error)
}

// Pool reports the stable pool's balance of the stable denomination.
type Pool interface {
	StableBalance(ctx context.Context, pool ledger.Address, denom string) (fpmath.Dec, error)
}
