package collab_test

import (
	"CDPLedger/internal/collab"
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedCountsFailures(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	oracle := collab.NewStaticOracle(map[ledger.AssetID]fpmath.Dec{"uatom": d("9.5")})
	pool := collab.NewStaticPool(d("3"))
	inst := &collab.Instrumented{Oracle: oracle, Pool: pool, Metrics: metrics}
	ctx := context.Background()

	p, err := inst.Price(ctx, "oracle", "uatom")
	require.NoError(t, err)
	assert.True(t, p.Equal(d("9.5")))

	_, err = inst.Price(ctx, "oracle", "uosmo")
	assert.ErrorIs(t, err, collab.ErrPriceUnavailable)

	bal, err := inst.StableBalance(ctx, "pool", "uusd")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("3")))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CollaboratorErrors.WithLabelValues("oracle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CollaboratorErrors.WithLabelValues("pool")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.CollaboratorDuration))
	assert.Equal(t, 2, oracle.CallsTo("oracle"))
	assert.Equal(t, 1, pool.CallsTo("pool"))
}
