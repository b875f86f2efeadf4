package query

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"time"
)

// Every response carries as_of_sequence, the last committed journal
// sequence the engine had seen when the read began.

type ConfigResponse struct {
	ledger.Config
	PendingOwner *ledger.Address `json:"pending_owner,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// LoanInfoResponse reports debt against current borrowing capacity.
type LoanInfoResponse struct {
	Minter       ledger.Address `json:"minter"`
	Loans        fpmath.Dec     `json:"loans"`
	MaxMintValue fpmath.Dec     `json:"max_mint_value"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type WhitelistResponse struct {
	Elems        []ledger.CollateralListing `json:"elems"`
	AsOfSequence int64                      `json:"as_of_sequence"`
}

type MinterCollateralResponse struct {
	Minter       ledger.Address `json:"minter"`
	Collaterals  ledger.Basket  `json:"collaterals"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type RedemptionProvidersResponse struct {
	Providers    []ledger.MinterDebt `json:"provider_list"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

type CollateralAvailableResponse struct {
	Minter           ledger.Address `json:"minter"`
	Asset            ledger.AssetID `json:"asset"`
	AvailableBalance fpmath.Dec     `json:"available_balance"`
	AsOfSequence     int64          `json:"as_of_sequence"`
}

// JournalHistoryEntry is a journal row without its raw payload bytes.
type JournalHistoryEntry struct {
	Sequence       int64          `json:"sequence"`
	CommandType    string         `json:"command_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Caller         ledger.Address `json:"caller"`
	IntentCount    int            `json:"intent_count"`
	StateHash      string         `json:"state_hash"`
	Timestamp      time.Time      `json:"timestamp"`
}

// IntegrityReport is the result of replaying the journal hash chain.
type IntegrityReport struct {
	IsHealthy bool   `json:"is_healthy"`
	Verified  int64  `json:"verified_entries"`
	Error     string `json:"error,omitempty"`
}
