package collab_test

import (
	"CDPLedger/internal/collab"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	testutil.RequireIntegration(t)
	nc, err := nats.Connect(testutil.TestNATSURL(), nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSClientRequestReply(t *testing.T) {
	nc := connectNATS(t)
	prefix := "test.collab.rr"

	subscribe := func(pattern string, target ledger.Address, handler nats.MsgHandler) {
		subject, err := collab.Subject(prefix, pattern, target)
		require.NoError(t, err)
		_, err = nc.Subscribe(subject, handler)
		require.NoError(t, err)
	}

	subscribe(collab.SubjectOraclePrice, "oracle-a", func(m *nats.Msg) {
		var req struct {
			Asset string `json:"asset"`
		}
		_ = json.Unmarshal(m.Data, &req)
		if req.Asset == "uatom" {
			_ = m.Respond([]byte(`{"price":"12.5"}`))
			return
		}
		_ = m.Respond([]byte(`{"error":"no feed"}`))
	})
	subscribe(collab.SubjectOraclePrice, "oracle-b", func(m *nats.Msg) {
		_ = m.Respond([]byte(`{"price":"13"}`))
	})
	subscribe(collab.SubjectPoolBalance, "pool", func(m *nats.Msg) {
		_ = m.Respond([]byte(`{"balance":"1000"}`))
	})
	subscribe(collab.SubjectLiquidationSeizure, "liquidator", func(m *nats.Msg) {
		_ = m.Respond([]byte(`{"seize":[{"asset":"uatom","amount":"2"}]}`))
	})
	require.NoError(t, nc.Flush())

	client := collab.NewNATSClient(nc, prefix, time.Second)
	ctx := context.Background()

	price, err := client.Price(ctx, "oracle-a", "uatom")
	require.NoError(t, err)
	assert.True(t, price.Equal(d("12.5")))

	price, err = client.Price(ctx, "oracle-b", "uatom")
	require.NoError(t, err)
	assert.True(t, price.Equal(d("13")))

	_, err = client.Price(ctx, "oracle-a", "uosmo")
	assert.ErrorContains(t, err, "no feed")

	_, err = client.Price(ctx, "oracle.a", "uatom")
	assert.ErrorIs(t, err, collab.ErrInvalidTarget)

	bal, err := client.StableBalance(ctx, "pool", "uusd")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1000")))

	seize, err := client.ComputeSeizure(ctx, "liquidator", collab.SeizureRequest{Minter: "alice"})
	require.NoError(t, err)
	require.Len(t, seize, 1)
	assert.Equal(t, ledger.AssetID("uatom"), seize[0].Asset)
}

func TestNATSClientNoResponders(t *testing.T) {
	nc := connectNATS(t)
	client := collab.NewNATSClient(nc, "test.collab.nobody", 200*time.Millisecond)

	_, err := client.Price(context.Background(), "oracle", "uatom")
	assert.Error(t, err)
}
