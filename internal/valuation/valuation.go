// Package valuation turns a collateral basket and live oracle prices into
// borrowing capacity. Nothing here mutates state or caches prices.
package valuation

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"context"
	"fmt"
)

// PriceSource is the oracle as seen by the valuation engine.
type PriceSource interface {
	Price(ctx context.Context, oracle ledger.Address, asset ledger.AssetID) (fpmath.Dec, error)
}

// ListingReader resolves registry entries; store.Reader satisfies it.
type ListingReader interface {
	Listing(ctx context.Context, asset ledger.AssetID) (ledger.CollateralListing, bool, error)
}

// Line is the valuation of one basket entry.
type Line struct {
	Entry    ledger.Entry
	Listing  ledger.CollateralListing
	Price    fpmath.Dec
	Value    fpmath.Dec // amount × price
	Capacity fpmath.Dec // value × max ltv
}

// Appraisal is a basket valued line by line, in basket order.
type Appraisal struct {
	Lines    []Line
	Value    fpmath.Dec
	Capacity fpmath.Dec
}

// Prices returns the per-entry prices in basket order.
func (a Appraisal) Prices() []fpmath.Dec {
	out := make([]fpmath.Dec, len(a.Lines))
	for i, l := range a.Lines {
		out[i] = l.Price
	}
	return out
}

type Engine struct {
	prices PriceSource
}

func NewEngine(oracle PriceSource) *Engine {
	return &Engine{prices: oracle}
}

// Appraise prices every entry of b with the oracle at address oracle. Every
// entry must be a listed collateral type.
func (e *Engine) Appraise(ctx context.Context, oracle ledger.Address, listings ListingReader, b ledger.Basket) (Appraisal, error) {
	a := Appraisal{Lines: make([]Line, 0, len(b))}
	for _, entry := range b {
		line, err := e.AppraiseEntry(ctx, oracle, listings, entry)
		if err != nil {
			return Appraisal{}, err
		}
		if a.Value, err = a.Value.Add(line.Value); err != nil {
			return Appraisal{}, err
		}
		if a.Capacity, err = a.Capacity.Add(line.Capacity); err != nil {
			return Appraisal{}, err
		}
		a.Lines = append(a.Lines, line)
	}
	return a, nil
}

// AppraiseEntry prices a single entry against its listing.
func (e *Engine) AppraiseEntry(ctx context.Context, oracle ledger.Address, listings ListingReader, entry ledger.Entry) (Line, error) {
	listing, ok, err := listings.Listing(ctx, entry.Asset)
	if err != nil {
		return Line{}, fmt.Errorf("load listing %s: %w", entry.Asset, err)
	}
	if !ok {
		return Line{}, &ledger.UnregisteredCollateralError{Asset: entry.Asset}
	}

	price, err := e.prices.Price(ctx, oracle, entry.Asset)
	if err != nil {
		return Line{}, fmt.Errorf("price %s: %w", entry.Asset, err)
	}

	value, err := entry.Amount.Mul(price)
	if err != nil {
		return Line{}, fmt.Errorf("value %s: %w", entry.Asset, err)
	}
	capacity, err := value.Mul(listing.MaxLtv)
	if err != nil {
		return Line{}, fmt.Errorf("capacity %s: %w", entry.Asset, err)
	}

	return Line{Entry: entry, Listing: listing, Price: price, Value: value, Capacity: capacity}, nil
}

// Capacity is Σ amount × price × max ltv over b.
func (e *Engine) Capacity(ctx context.Context, oracle ledger.Address, listings ListingReader, b ledger.Basket) (fpmath.Dec, error) {
	a, err := e.Appraise(ctx, oracle, listings, b)
	if err != nil {
		return fpmath.Zero, err
	}
	return a.Capacity, nil
}

// AvailableToWithdraw returns how much of asset could leave b while keeping
// loans covered by capacity. The rest of the basket counts first; only the
// shortfall it leaves must be covered by asset itself.
func (e *Engine) AvailableToWithdraw(ctx context.Context, oracle ledger.Address, listings ListingReader, loans fpmath.Dec, b ledger.Basket, asset ledger.AssetID) (fpmath.Dec, error) {
	a, err := e.Appraise(ctx, oracle, listings, b)
	if err != nil {
		return fpmath.Zero, err
	}

	var target *Line
	other := fpmath.Zero
	for i := range a.Lines {
		if a.Lines[i].Entry.Asset == asset {
			target = &a.Lines[i]
			continue
		}
		if other, err = other.Add(a.Lines[i].Capacity); err != nil {
			return fpmath.Zero, err
		}
	}
	if target == nil {
		return fpmath.Zero, nil
	}
	if other.GTE(loans) {
		return target.Entry.Amount, nil
	}
	if target.Listing.MaxLtv.IsZero() || target.Price.IsZero() {
		return fpmath.Zero, nil
	}

	shortfall, _ := loans.Sub(other)
	// value the asset must keep to cover the shortfall, rounded against the minter
	required, err := fpmath.MulDiv(shortfall, fpmath.One, target.Listing.MaxLtv, fpmath.RoundUp)
	if err != nil {
		return fpmath.Zero, err
	}
	if target.Value.LTE(required) {
		return fpmath.Zero, nil
	}
	free, _ := target.Value.Sub(required)
	available, err := free.Quo(target.Price)
	if err != nil {
		return fpmath.Zero, err
	}
	return fpmath.Min(available, target.Entry.Amount), nil
}
