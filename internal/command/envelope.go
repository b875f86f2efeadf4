package command

import (
	"CDPLedger/internal/ledger"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInstantiate
	CommandTypeUpdateConfig
	CommandTypeProposeOwner
	CommandTypeAcceptOwnership
	CommandTypeWhitelistCollateral
	CommandTypeSetCollateralSafeRate
	CommandTypeMint
	CommandTypeRepay
	CommandTypeDepositCollateral
	CommandTypeWithdrawCollateral
	CommandTypeRedeem
	CommandTypeLiquidate
	CommandTypeSetRedemptionProvider
)

var commandTypeNames = map[CommandType]string{
	CommandTypeInstantiate:           "Instantiate",
	CommandTypeUpdateConfig:          "UpdateConfig",
	CommandTypeProposeOwner:          "ProposeOwner",
	CommandTypeAcceptOwnership:       "AcceptOwnership",
	CommandTypeWhitelistCollateral:   "WhitelistCollateral",
	CommandTypeSetCollateralSafeRate: "SetCollateralSafeRate",
	CommandTypeMint:                  "Mint",
	CommandTypeRepay:                 "Repay",
	CommandTypeDepositCollateral:     "DepositCollateral",
	CommandTypeWithdrawCollateral:    "WithdrawCollateral",
	CommandTypeRedeem:                "Redeem",
	CommandTypeLiquidate:             "Liquidate",
	CommandTypeSetRedemptionProvider: "SetRedemptionProvider",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType is the inverse of String.
func ParseCommandType(name string) CommandType {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct
		}
	}
	return CommandTypeUnknown
}

// Command is the interface all inbound command payloads implement.
type Command interface {
	// IdempotencyKey returns the stable dedup key supplied by the submitter
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Caller returns the authenticated sender identity
	Caller() ledger.Address
}

// Header carries the fields every command shares.
type Header struct {
	Key    string         `json:"idempotency_key"`
	Sender ledger.Address `json:"sender"`
}

func (h Header) IdempotencyKey() string { return h.Key }

func (h Header) Caller() ledger.Address { return h.Sender }

// SetDefaults fills the key and sender when a transport supplies them out of band.
func (h *Header) SetDefaults(key string, sender ledger.Address) {
	if h.Key == "" {
		h.Key = key
	}
	if h.Sender.IsZero() {
		h.Sender = sender
	}
}
