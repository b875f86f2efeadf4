package command

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
)

// --- Admin ---

// Instantiate creates the config singleton and the initial collateral whitelist.
type Instantiate struct {
	Header
	Config     ledger.Config              `json:"config"`
	Collateral []ledger.CollateralListing `json:"collateral,omitempty"`
}

func (c *Instantiate) CommandType() CommandType { return CommandTypeInstantiate }

type UpdateConfig struct {
	Header
	Update ledger.ConfigUpdate `json:"update"`
}

func (c *UpdateConfig) CommandType() CommandType { return CommandTypeUpdateConfig }

type ProposeOwner struct {
	Header
	Candidate ledger.Address `json:"candidate"`
}

func (c *ProposeOwner) CommandType() CommandType { return CommandTypeProposeOwner }

type AcceptOwnership struct {
	Header
}

func (c *AcceptOwnership) CommandType() CommandType { return CommandTypeAcceptOwnership }

type WhitelistCollateral struct {
	Header
	Listing ledger.CollateralListing `json:"listing"`
}

func (c *WhitelistCollateral) CommandType() CommandType { return CommandTypeWhitelistCollateral }

// SetCollateralSafeRate is accepted on the wire but always rejected.
type SetCollateralSafeRate struct {
	Header
	Rate fpmath.Dec `json:"rate"`
}

func (c *SetCollateralSafeRate) CommandType() CommandType { return CommandTypeSetCollateralSafeRate }

// --- Minter operations ---

// Mint issues stable debt. With a Deposit, Sender must be the deposited
// asset's custody vault relaying the deposit; without one, Sender is the minter.
type Mint struct {
	Header
	Minter             ledger.Address `json:"minter"`
	StableAmount       fpmath.Dec     `json:"stable_amount"`
	Deposit            *ledger.Entry  `json:"deposit,omitempty"`
	RedemptionProvider *bool          `json:"redemption_provider,omitempty"`
}

func (c *Mint) CommandType() CommandType { return CommandTypeMint }

// Repay is relayed by the pool after it burns stable asset.
type Repay struct {
	Header
	Minter ledger.Address `json:"minter"`
	Amount fpmath.Dec     `json:"amount"`
}

func (c *Repay) CommandType() CommandType { return CommandTypeRepay }

// DepositCollateral is relayed by a custody vault; it adds collateral without minting.
type DepositCollateral struct {
	Header
	Minter  ledger.Address `json:"minter"`
	Deposit ledger.Entry   `json:"deposit"`
}

func (c *DepositCollateral) CommandType() CommandType { return CommandTypeDepositCollateral }

// WithdrawCollateral withdraws from the sender's own basket.
type WithdrawCollateral struct {
	Header
	Asset  ledger.AssetID `json:"asset"`
	Amount fpmath.Dec     `json:"amount"`
}

func (c *WithdrawCollateral) CommandType() CommandType { return CommandTypeWithdrawCollateral }

// Redeem is relayed by the pool on behalf of Redeemer.
type Redeem struct {
	Header
	Redeemer ledger.Address `json:"redeemer"`
	Minter   ledger.Address `json:"minter"`
	Amount   fpmath.Dec     `json:"amount"`
}

func (c *Redeem) CommandType() CommandType { return CommandTypeRedeem }

// Liquidate is sent by the liquidator; seized collateral goes to Sender.
type Liquidate struct {
	Header
	Minter ledger.Address `json:"minter"`
}

func (c *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }

type SetRedemptionProvider struct {
	Header
	Enabled bool `json:"enabled"`
}

func (c *SetRedemptionProvider) CommandType() CommandType { return CommandTypeSetRedemptionProvider }

// New returns an empty command of the given type, ready for decoding.
func New(ct CommandType) Command {
	switch ct {
	case CommandTypeInstantiate:
		return &Instantiate{}
	case CommandTypeUpdateConfig:
		return &UpdateConfig{}
	case CommandTypeProposeOwner:
		return &ProposeOwner{}
	case CommandTypeAcceptOwnership:
		return &AcceptOwnership{}
	case CommandTypeWhitelistCollateral:
		return &WhitelistCollateral{}
	case CommandTypeSetCollateralSafeRate:
		return &SetCollateralSafeRate{}
	case CommandTypeMint:
		return &Mint{}
	case CommandTypeRepay:
		return &Repay{}
	case CommandTypeDepositCollateral:
		return &DepositCollateral{}
	case CommandTypeWithdrawCollateral:
		return &WithdrawCollateral{}
	case CommandTypeRedeem:
		return &Redeem{}
	case CommandTypeLiquidate:
		return &Liquidate{}
	case CommandTypeSetRedemptionProvider:
		return &SetRedemptionProvider{}
	default:
		return nil
	}
}
