package server_test

import (
	"CDPLedger/internal/cdp"
	"CDPLedger/internal/collab"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ingestion"
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/query"
	"CDPLedger/internal/server"
	"CDPLedger/internal/store/memory"
	"CDPLedger/internal/valuation"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instantiateBody = `{
	"config": {"owner": "owner", "pool": "pool", "stable_denom": "uusd", "redeem_fee": "0.01"},
	"collateral": [
		{"asset": "uatom", "name": "Atom", "symbol": "ATOM", "max_ltv": "0.5",
		 "custody": "custody-uatom", "reward_book": "rewards-uatom"}
	]
}`

func newTestServer(t *testing.T, mutate func(*server.Deps)) (http.Handler, *prometheus.Registry) {
	t.Helper()
	st := memory.New()
	oracle := collab.NewStaticOracle(map[ledger.AssetID]fpmath.Dec{"uatom": fpmath.MustParse("10")})
	v := valuation.NewEngine(oracle)
	eng := core.NewEngine(st, cdp.NewService(v, collab.ProRataLiquidator{}, collab.NewStaticPool(fpmath.Zero)), core.Options{})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	deps := server.Deps{
		Query:     query.NewQueryService(st, v, eng, metrics),
		Submitter: ingestion.NewSubmitter(eng),
		Health:    health,
		Metrics:   metrics,
		Gatherer:  reg,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := server.New(":0", ":0", deps)
	require.NoError(t, err)
	return srv.Handler(), reg
}

func do(t *testing.T, h http.Handler, method, path, sender, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if sender != "" {
		req.Header.Set(server.SenderHeader, sender)
	}
	if key != "" {
		req.Header.Set(server.IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSubmitThenQuery(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/commands/instantiate", "owner", "genesis", instantiateBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Instantiate", body["command_type"])
	assert.Equal(t, 1.0, body["sequence"])
	assert.Len(t, body["state_hash"], 64)

	rec = do(t, h, http.MethodPost, "/v1/commands/deposit_collateral", "custody-uatom", "dep-1",
		`{"minter": "alice", "deposit": {"asset": "uatom", "amount": "10"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/commands/mint", "alice", "mint-1",
		`{"minter": "alice", "stable_amount": "40"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.NotEmpty(t, body["intents"])

	rec = do(t, h, http.MethodGet, "/v1/loans/alice", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "40", body["loans"])
	assert.Equal(t, "50", body["max_mint_value"])
	assert.Equal(t, 3.0, body["as_of_sequence"])

	rec = do(t, h, http.MethodGet, "/v1/minters/alice/available/uatom", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", decode(t, rec)["available_balance"])

	rec = do(t, h, http.MethodGet, "/v1/collateral?limit=5", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["elems"], 1)

	rec = do(t, h, http.MethodGet, "/v1/journal", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["entries"], 3)

	rec = do(t, h, http.MethodGet, "/v1/integrity", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["is_healthy"])
}

func TestSubmitDuplicateKey(t *testing.T) {
	h, _ := newTestServer(t, nil)

	first := do(t, h, http.MethodPost, "/v1/commands/instantiate", "owner", "genesis", instantiateBody)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	again := do(t, h, http.MethodPost, "/v1/commands/instantiate", "owner", "genesis", instantiateBody)
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Equal(t, true, decode(t, again)["duplicate"])
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/v1/config", "", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "failed precondition before instantiate")
	assert.Contains(t, rec.Body.String(), "NOT_INSTANTIATED")

	require.Equal(t, http.StatusOK,
		do(t, h, http.MethodPost, "/v1/commands/instantiate", "owner", "genesis", instantiateBody).Code)

	tests := []struct {
		name   string
		method string
		path   string
		sender string
		body   string
		status int
		reason string
	}{
		{"unregistered asset", http.MethodGet, "/v1/collateral/ujuno", "", "", http.StatusNotFound, "UNREGISTERED_COLLATERAL"},
		{"unknown command", http.MethodPost, "/v1/commands/teleport", "owner", `{}`, http.StatusBadRequest, "VALIDATION"},
		{"bad limit", http.MethodGet, "/v1/collateral?limit=-1", "", "", http.StatusBadRequest, "VALIDATION"},
		{"wrong custody", http.MethodPost, "/v1/commands/deposit_collateral", "mallory",
			`{"minter": "alice", "deposit": {"asset": "uatom", "amount": "1"}}`, http.StatusForbidden, "UNAUTHORIZED"},
		{"over capacity", http.MethodPost, "/v1/commands/mint", "alice",
			`{"minter": "alice", "stable_amount": "1"}`, http.StatusBadRequest, "INSUFFICIENT_CAPACITY"},
		{"second instantiate", http.MethodPost, "/v1/commands/instantiate", "owner", instantiateBody, http.StatusConflict, "ALREADY_INSTANTIATED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.sender, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.reason)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, func(d *server.Deps) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})

	assert.NotEqual(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/v1/config", "", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/v1/config", "", "", "").Code)

	// probes bypass the limiter
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", "", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, nil)
	do(t, h, http.MethodGet, "/v1/collateral/ujuno", "", "", "")

	rec := do(t, h, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cdp_http_requests_total{route="listing",status="404"} 1`)
}

func TestReadOnlyServerHasNoCommandRoutes(t *testing.T) {
	h, _ := newTestServer(t, func(d *server.Deps) { d.Submitter = nil })

	rec := do(t, h, http.MethodPost, "/v1/commands/instantiate", "owner", "genesis", instantiateBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
