package persistence_test

import (
	"CDPLedger/internal/cdp"
	"CDPLedger/internal/collab"
	"CDPLedger/internal/command"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/persistence"
	"CDPLedger/internal/testutil"
	"CDPLedger/internal/valuation"
	"CDPLedger/migrations"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *persistence.PostgresStore {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	_, err := persistence.NewMigrator(db, migrations.FS, zerolog.Nop()).Up(context.Background())
	require.NoError(t, err)
	testutil.ResetLedger(db)
	return persistence.NewPostgresStore(db)
}

func TestPostgresStore_StateRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rtx, err := s.BeginRead(ctx)
	require.NoError(t, err)
	_, err = rtx.Config(ctx)
	assert.ErrorIs(t, err, ledger.ErrNotInstantiated)
	require.NoError(t, rtx.Rollback())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	cfg := ledger.Config{Owner: "owner", Pool: "pool", StableDenom: "uusd", RedeemFee: fpmath.MustParse("0.005")}
	require.NoError(t, tx.PutConfig(ctx, cfg))
	require.NoError(t, tx.SetPendingOwner(ctx, "bob"))
	for _, asset := range []ledger.AssetID{"uosmo", "Uatom", "uatom"} {
		require.NoError(t, tx.PutListing(ctx, ledger.CollateralListing{
			Asset: asset, MaxLtv: fpmath.MustParse("0.75"), Custody: "c", RewardBook: "r",
		}))
	}
	require.NoError(t, tx.PutMinterDebt(ctx, ledger.MinterDebt{Minter: "alice", Loans: fpmath.MustParse("12.5"), IsRedemptionProvider: true}))
	require.NoError(t, tx.PutMinterDebt(ctx, ledger.MinterDebt{Minter: "carol", Loans: fpmath.NewDec(1)}))
	basket := ledger.Basket{
		{Asset: "uosmo", Amount: fpmath.MustParse("0.000000000000000001")},
		{Asset: "uatom", Amount: fpmath.NewDec(7)},
	}
	require.NoError(t, tx.PutBasket(ctx, "alice", basket))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	rtx, err = s.BeginRead(ctx)
	require.NoError(t, err)
	defer rtx.Rollback()

	got, err := rtx.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.Owner, got.Owner)
	assert.True(t, got.RedeemFee.Equal(cfg.RedeemFee))

	owner, ok, err := rtx.PendingOwner(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.Address("bob"), owner)

	page, err := rtx.Listings(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ledger.AssetID("Uatom"), page[0].Asset, "byte order, not locale order")
	assert.Equal(t, ledger.AssetID("uatom"), page[1].Asset)
	page, err = rtx.Listings(ctx, page[1].Asset, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].MaxLtv.Equal(fpmath.MustParse("0.75")))

	debt, err := rtx.MinterDebt(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, debt.Loans.IsZero())

	providers, err := rtx.RedemptionProviders(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, ledger.Address("alice"), providers[0].Minter)
	assert.True(t, providers[0].Loans.Equal(fpmath.MustParse("12.5")))

	b, err := rtx.Basket(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, b, 2)
	assert.Equal(t, ledger.AssetID("uosmo"), b[0].Asset, "basket order survives storage")
	assert.True(t, b[0].Amount.Equal(basket[0].Amount))
}

func TestPostgresStore_EngineLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	oracle := collab.NewStaticOracle(map[ledger.AssetID]fpmath.Dec{"uatom": fpmath.NewDec(1)})
	svc := cdp.NewService(valuation.NewEngine(oracle), collab.ProRataLiquidator{}, collab.NewStaticPool(fpmath.Zero))
	eng := core.NewEngine(s, svc, core.Options{})
	require.NoError(t, eng.Recover(ctx))

	_, err := eng.Execute(ctx, &command.Instantiate{
		Header: command.Header{Key: "genesis", Sender: "owner"},
		Config: ledger.Config{Owner: "owner", Pool: "pool", StableDenom: "uusd"},
		Collateral: []ledger.CollateralListing{{
			Asset: "uatom", MaxLtv: fpmath.MustParse("0.5"), Custody: "custody", RewardBook: "rewards",
		}},
	})
	require.NoError(t, err)

	mint := &command.Mint{
		Header:       command.Header{Key: "m1", Sender: "custody"},
		Minter:       "alice",
		StableAmount: fpmath.NewDec(40),
		Deposit:      &ledger.Entry{Asset: "uatom", Amount: fpmath.NewDec(100)},
	}
	res, err := eng.Execute(ctx, mint)
	require.NoError(t, err)
	assert.Len(t, res.Intents, 2)

	_, err = eng.Execute(ctx, &command.Mint{
		Header: command.Header{Key: "m2", Sender: "alice"}, Minter: "alice", StableAmount: fpmath.NewDec(11),
	})
	var tooLarge *ledger.MintTooLargeError
	assert.ErrorAs(t, err, &tooLarge)

	// a restarted engine resumes the chain and still rejects replays
	restarted := core.NewEngine(s, svc, core.Options{})
	require.NoError(t, restarted.Recover(ctx))
	assert.Equal(t, eng.StateHash(), restarted.StateHash())
	res, err = restarted.Execute(ctx, mint)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	n, err := core.VerifyJournal(ctx, s, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := s.PendingIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NoError(t, s.MarkDispatched(ctx, []uuid.UUID{pending[0].ID}))
	pending, err = s.PendingIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Index)
}
