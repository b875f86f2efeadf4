package config

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
storage = "memory"

[server]
http_addr = ":18080"
rate_limit = 0

[relay]
batch_size = 25
poll_interval = "250ms"

[nats]
collab_timeout = "750ms"

[genesis]
owner = "owner"
pool = "pool"
stable_denom = "uusd"
epoch_period = 3600
redeem_fee = "0.005"

[[genesis.collateral]]
asset = "uatom"
name = "Atom"
symbol = "ATOM"
max_ltv = "0.65"
custody = "custody-uatom"
reward_book = "rewards-uatom"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdpledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 100, cfg.Relay.BatchSize)
	assert.Equal(t, time.Second, cfg.Relay.PollInterval.Duration)
	assert.Nil(t, cfg.Genesis)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr, "unset keys keep defaults")
	assert.Equal(t, 25, cfg.Relay.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.PollInterval.Duration)
	assert.Equal(t, 750*time.Millisecond, cfg.NATS.CollabTimeout.Duration)
	require.NotNil(t, cfg.Genesis)
	require.Len(t, cfg.Genesis.Collateral, 1)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CDP_HTTP_ADDR", ":28080")
	t.Setenv("CDP_RELAY_BATCH_SIZE", "7")
	t.Setenv("CDP_NATS_CONSUME", "false")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, ":28080", cfg.Server.HTTPAddr)
	assert.Equal(t, 7, cfg.Relay.BatchSize)
	assert.False(t, cfg.NATS.Consume)
}

func TestLoadRejects(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[relay]\nbatch = 5\n"))
		assert.ErrorContains(t, err, "relay.batch")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[relay]\npoll_interval = \"soon\"\n"))
		assert.Error(t, err)
	})
	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("CDP_LRU_CAPACITY", "lots")
		_, err := Load("")
		assert.ErrorContains(t, err, "CDP_LRU_CAPACITY")
	})
	t.Run("unknown storage", func(t *testing.T) {
		t.Setenv("CDP_STORAGE", "redis")
		_, err := Load("")
		assert.ErrorContains(t, err, "storage")
	})
	t.Run("genesis ltv at one", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
[genesis]
owner = "o"
stable_denom = "uusd"
[[genesis.collateral]]
asset = "uatom"
max_ltv = "1"
custody = "c"
reward_book = "r"
`))
		assert.ErrorIs(t, err, ledger.ErrMaxLtvExceedsLimit)
	})
}

func TestGenesisCommand(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	cmd, err := cfg.Genesis.Command()
	require.NoError(t, err)
	assert.Equal(t, "genesis", cmd.Key)
	assert.Equal(t, ledger.Address("owner"), cmd.Sender)
	assert.Equal(t, uint64(3600), cmd.Config.EpochPeriod)
	assert.True(t, cmd.Config.RedeemFee.Equal(fpmath.MustParse("0.005")))
	require.Len(t, cmd.Collateral, 1)
	assert.Equal(t, ledger.AssetID("uatom"), cmd.Collateral[0].Asset)
	assert.True(t, cmd.Collateral[0].MaxLtv.Equal(fpmath.MustParse("0.65")))
}
