package server

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ingestion"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/query"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// IdempotencyKeyHeader supplies the key when the body omits it.
	IdempotencyKeyHeader = "Idempotency-Key"
	// SenderHeader carries the caller identity, set by the authenticating proxy.
	SenderHeader = "X-CDP-Sender"

	maxCommandBytes = 1 << 20
)

type api struct {
	mux       *runtime.ServeMux
	query     *query.QueryService
	submitter *ingestion.Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

type route struct {
	method  string
	pattern string
	name    string
	handler runtime.HandlerFunc
}

func newHTTPHandler(deps Deps) (http.Handler, error) {
	a := &api{
		mux:       runtime.NewServeMux(),
		query:     deps.Query,
		submitter: deps.Submitter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}

	routes := []route{
		{http.MethodGet, "/v1/config", "config", a.getConfig},
		{http.MethodGet, "/v1/loans/{minter}", "loan_info", a.getLoanInfo},
		{http.MethodGet, "/v1/collateral", "whitelist", a.getWhitelist},
		{http.MethodGet, "/v1/collateral/{asset}", "listing", a.getListing},
		{http.MethodGet, "/v1/minters/{minter}/collateral", "minter_collateral", a.getMinterCollateral},
		{http.MethodGet, "/v1/minters/{minter}/available/{asset}", "collateral_available", a.getCollateralAvailable},
		{http.MethodGet, "/v1/redemption_providers", "redemption_providers", a.getRedemptionProviders},
		{http.MethodGet, "/v1/journal", "journal", a.getJournal},
		{http.MethodGet, "/v1/integrity", "integrity", a.getIntegrity},
	}
	if a.submitter != nil {
		routes = append(routes, route{http.MethodPost, "/v1/commands/{command}", "submit", a.submitCommand})
	}
	for _, rt := range routes {
		if err := a.mux.HandlePath(rt.method, rt.pattern, a.instrument(rt.name, rt.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	var apiHandler http.Handler = a.mux
	if deps.RateLimit > 0 {
		burst := deps.RateBurst
		if burst <= 0 {
			burst = int(math.Ceil(deps.RateLimit))
		}
		apiHandler = rateLimit(rate.NewLimiter(rate.Limit(deps.RateLimit), burst), deps.Metrics, apiHandler)
	}

	root := http.NewServeMux()
	if deps.Health != nil {
		root.HandleFunc("/healthz", deps.Health.LivenessHandler)
		root.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	} else {
		root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	root.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	root.Handle("/", apiHandler)
	return root, nil
}

// --- Queries ---

func (a *api) getConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := a.query.GetConfig(r.Context())
	a.respond(w, r, resp, err)
}

func (a *api) getLoanInfo(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := a.query.GetLoanInfo(r.Context(), ledger.Address(p["minter"]))
	a.respond(w, r, resp, err)
}

func (a *api) getWhitelist(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.query.GetWhitelist(r.Context(),
		ledger.AssetID(q.Get("asset")), ledger.AssetID(q.Get("start_after")), limit)
	a.respond(w, r, resp, err)
}

func (a *api) getListing(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := a.query.GetListing(r.Context(), ledger.AssetID(p["asset"]))
	a.respond(w, r, resp, err)
}

func (a *api) getMinterCollateral(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := a.query.GetMinterCollateral(r.Context(), ledger.Address(p["minter"]))
	a.respond(w, r, resp, err)
}

func (a *api) getCollateralAvailable(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := a.query.GetCollateralAvailable(r.Context(),
		ledger.Address(p["minter"]), ledger.AssetID(p["asset"]))
	a.respond(w, r, resp, err)
}

func (a *api) getRedemptionProviders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.query.GetRedemptionProviders(r.Context(),
		ledger.Address(q.Get("minter")), ledger.Address(q.Get("start_after")), limit)
	a.respond(w, r, resp, err)
}

func (a *api) getJournal(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	from, err := intParam(q.Get("from"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entries, err := a.query.GetJournalHistory(r.Context(), int64(from), limit)
	a.respond(w, r, map[string]interface{}{"entries": entries}, err)
}

func (a *api) getIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := a.query.VerifyIntegrity(r.Context())
	a.respond(w, r, resp, err)
}

// --- Commands ---

type submitResponse struct {
	CommandType    string           `json:"command_type"`
	IdempotencyKey string           `json:"idempotency_key"`
	Duplicate      bool             `json:"duplicate"`
	Sequence       int64            `json:"sequence"`
	StateHash      string           `json:"state_hash"`
	Intents        []command.Intent `json:"intents"`
}

func (a *api) submitCommand(w http.ResponseWriter, r *http.Request, p map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: read body: %v", ingestion.ErrMalformed, err))
		return
	}
	if len(body) > maxCommandBytes {
		a.writeError(w, r, fmt.Errorf("%w: body exceeds %d bytes", ingestion.ErrMalformed, maxCommandBytes))
		return
	}

	cmd, res, err := a.submitter.Submit(r.Context(), ingestion.Submission{
		Token:  p["command"],
		Key:    r.Header.Get(IdempotencyKeyHeader),
		Sender: ledger.Address(r.Header.Get(SenderHeader)),
		Body:   body,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := submitResponse{
		CommandType:    cmd.CommandType().String(),
		IdempotencyKey: cmd.IdempotencyKey(),
		Duplicate:      res.Duplicate,
		Sequence:       res.Sequence,
		Intents:        res.Intents,
	}
	if !res.Duplicate {
		resp.StateHash = hex.EncodeToString(res.StateHash[:])
	}
	if resp.Intents == nil {
		resp.Intents = []command.Intent{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Plumbing ---

func (a *api) respond(w http.ResponseWriter, r *http.Request, body interface{}, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ledger.Category(err) == "internal" {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	_, outbound := runtime.MarshalerForRequest(a.mux, r)
	runtime.DefaultHTTPErrorHandler(r.Context(), a.mux, outbound, w, r, toStatus(err))
}

func (a *api) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if a.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, p)
		a.metrics.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	}
}

func rateLimit(limiter *rate.Limiter, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			if metrics != nil {
				metrics.HTTPRateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// intParam parses an optional non-negative integer query parameter.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", ledger.ErrValidation, s)
	}
	return n, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
