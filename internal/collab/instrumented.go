package collab

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"context"
	"time"
)

// Instrumented wraps collaborator clients with latency and error metrics.
// Any field may be nil if the wrapped role is not used.
type Instrumented struct {
	Oracle     Oracle
	Liquidator LiquidationEngine
	Pool       Pool
	Metrics    *observability.Metrics
}

var (
	_ Oracle            = (*Instrumented)(nil)
	_ LiquidationEngine = (*Instrumented)(nil)
	_ Pool              = (*Instrumented)(nil)
)

func (i *Instrumented) Price(ctx context.Context, oracle ledger.Address, asset ledger.AssetID) (fpmath.Dec, error) {
	defer i.observe("oracle", time.Now())
	p, err := i.Oracle.Price(ctx, oracle, asset)
	i.fail("oracle", err)
	return p, err
}

func (i *Instrumented) ComputeSeizure(ctx context.Context, engine ledger.Address, req SeizureRequest) (ledger.Basket, error) {
	defer i.observe("liquidation", time.Now())
	b, err := i.Liquidator.ComputeSeizure(ctx, engine, req)
	i.fail("liquidation", err)
	return b, err
}

func (i *Instrumented) StableBalance(ctx context.Context, pool ledger.Address, denom string) (fpmath.Dec, error) {
	defer i.observe("pool", time.Now())
	b, err := i.Pool.StableBalance(ctx, pool, denom)
	i.fail("pool", err)
	return b, err
}

func (i *Instrumented) observe(collaborator string, start time.Time) {
	if i.Metrics != nil {
		i.Metrics.CollaboratorDuration.WithLabelValues(collaborator).Observe(time.Since(start).Seconds())
	}
}

func (i *Instrumented) fail(collaborator string, err error) {
	if err != nil && i.Metrics != nil {
		i.Metrics.CollaboratorErrors.WithLabelValues(collaborator).Inc()
	}
}
