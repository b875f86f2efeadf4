package collab

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"context"
	"fmt"
	"sync"
)

// StaticOracle serves prices from memory. It backs local development and tests.
// Any oracle address is answered from the same price table.
type StaticOracle struct {
	mu      sync.RWMutex
	prices  map[ledger.AssetID]fpmath.Dec
	calls   int
	callsTo map[ledger.Address]int
}

func NewStaticOracle(prices map[ledger.AssetID]fpmath.Dec) *StaticOracle {
	o := &StaticOracle{
		prices:  make(map[ledger.AssetID]fpmath.Dec, len(prices)),
		callsTo: make(map[ledger.Address]int),
	}
	for k, v := range prices {
		o.prices[k] = v
	}
	return o
}

func (o *StaticOracle) SetPrice(asset ledger.AssetID, price fpmath.Dec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
}

func (o *StaticOracle) Price(ctx context.Context, oracle ledger.Address, asset ledger.AssetID) (fpmath.Dec, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.callsTo[oracle]++
	p, ok := o.prices[asset]
	if !ok {
		return fpmath.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	return p, nil
}

// Calls returns how many prices have been served.
func (o *StaticOracle) Calls() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.calls
}

// CallsTo returns how many prices were requested from the oracle at addr.
func (o *StaticOracle) CallsTo(addr ledger.Address) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.callsTo[addr]
}

// SeizeFunc adapts a function to LiquidationEngine.
type SeizeFunc func(ctx context.Context, engine ledger.Address, req SeizureRequest) (ledger.Basket, error)

func (f SeizeFunc) ComputeSeizure(ctx context.Context, engine ledger.Address, req SeizureRequest) (ledger.Basket, error) {
	return f(ctx, engine, req)
}

// ProRataLiquidator seizes collateral in basket order until the seized
// value covers loans, valued at price × (1 + Premium). It is a stand-in
// for the auction engine in development setups.
type ProRataLiquidator struct {
	Premium fpmath.Dec
}

func (l ProRataLiquidator) ComputeSeizure(ctx context.Context, _ ledger.Address, req SeizureRequest) (ledger.Basket, error) {
	if len(req.Prices) != len(req.Basket) {
		return nil, fmt.Errorf("liquidator: %d prices for %d entries", len(req.Prices), len(req.Basket))
	}
	factor, err := fpmath.One.Add(l.Premium)
	if err != nil {
		return nil, err
	}
	target, err := req.Loans.Mul(factor)
	if err != nil {
		return nil, err
	}

	var seized ledger.Basket
	covered := fpmath.Zero
	for i, entry := range req.Basket {
		if covered.GTE(target) {
			break
		}
		price := req.Prices[i]
		if price.IsZero() {
			continue
		}
		value, err := entry.Amount.Mul(price)
		if err != nil {
			return nil, err
		}
		remaining, _ := target.Sub(covered)
		if value.LTE(remaining) {
			seized = append(seized, entry)
			covered, _ = covered.Add(value)
			continue
		}
		amount, err := remaining.Quo(price)
		if err != nil {
			return nil, err
		}
		seized = append(seized, ledger.Entry{Asset: entry.Asset, Amount: fpmath.Min(amount, entry.Amount)})
		covered = target
	}
	return seized, nil
}

// StaticPool reports a settable stable balance to any pool address.
type StaticPool struct {
	mu      sync.Mutex
	balance fpmath.Dec
	callsTo map[ledger.Address]int
}

func NewStaticPool(balance fpmath.Dec) *StaticPool {
	return &StaticPool{balance: balance, callsTo: make(map[ledger.Address]int)}
}

func (p *StaticPool) SetBalance(balance fpmath.Dec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
}

func (p *StaticPool) StableBalance(ctx context.Context, pool ledger.Address, denom string) (fpmath.Dec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callsTo[pool]++
	return p.balance, nil
}

// CallsTo returns how many balances were requested from the pool at addr.
func (p *StaticPool) CallsTo(addr ledger.Address) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callsTo[addr]
}
