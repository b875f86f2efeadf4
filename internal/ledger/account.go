package ledger

import (
	fpmath "CDPLedger/internal/math"
	"fmt"
)

// Address is an opaque participant identity (minter, collaborator, owner).
// The ledger only compares addresses; it never decodes them.
type Address string

func (a Address) String() string { return string(a) }

func (a Address) IsZero() bool { return a == "" }

// AssetID identifies a collateral type. It doubles as the registry key.
type AssetID string

// Config is the singleton protocol configuration.
type Config struct {
	Owner             Address    `json:"owner"`
	Oracle            Address    `json:"oracle"`
	Pool              Address    `json:"pool"`
	LiquidationEngine Address    `json:"liquidation_engine"`
	Custody           Address    `json:"custody"`
	StableDenom       string     `json:"stable_denom"`
	EpochPeriod       uint64     `json:"epoch_period"`
	RedeemFee         fpmath.Dec `json:"redeem_fee"`
}

// Validate checks the range constraints that must hold for any stored config.
func (c Config) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if c.StableDenom == "" {
		return fmt.Errorf("%w: stable denom is required", ErrValidation)
	}
	if c.RedeemFee.GTE(fpmath.One) {
		return ErrRedeemFeeExceedsLimit
	}
	return nil
}

// ConfigUpdate is a partial config change. Nil fields are left untouched.
type ConfigUpdate struct {
	Oracle            *Address    `json:"oracle,omitempty"`
	Pool              *Address    `json:"pool,omitempty"`
	LiquidationEngine *Address    `json:"liquidation_engine,omitempty"`
	StableDenom       *string     `json:"stable_denom,omitempty"`
	EpochPeriod       *uint64     `json:"epoch_period,omitempty"`
	RedeemFee         *fpmath.Dec `json:"redeem_fee,omitempty"`
}

// Apply returns a copy of c with u applied, or an error if the result is invalid.
func (c Config) Apply(u ConfigUpdate) (Config, error) {
	next := c
	if u.Oracle != nil {
		next.Oracle = *u.Oracle
	}
	if u.Pool != nil {
		next.Pool = *u.Pool
	}
	if u.LiquidationEngine != nil {
		next.LiquidationEngine = *u.LiquidationEngine
	}
	if u.StableDenom != nil {
		next.StableDenom = *u.StableDenom
	}
	if u.EpochPeriod != nil {
		next.EpochPeriod = *u.EpochPeriod
	}
	if u.RedeemFee != nil {
		next.RedeemFee = *u.RedeemFee
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// CollateralListing is a whitelisted collateral type and its risk parameters.
type CollateralListing struct {
	Asset      AssetID    `json:"asset"`
	Name       string     `json:"name"`
	Symbol     string     `json:"symbol"`
	MaxLtv     fpmath.Dec `json:"max_ltv"`
	Custody    Address    `json:"custody"`
	RewardBook Address    `json:"reward_book"`
}

func (l CollateralListing) Validate() error {
	if l.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrValidation)
	}
	if l.MaxLtv.GTE(fpmath.One) {
		return ErrMaxLtvExceedsLimit
	}
	if l.Custody.IsZero() || l.RewardBook.IsZero() {
		return fmt.Errorf("%w: custody and reward book are required", ErrValidation)
	}
	return nil
}

// MinterDebt is the outstanding stable-asset debt of one minter.
// A minter with no record reads as a zero MinterDebt.
type MinterDebt struct {
	Minter               Address    `json:"minter"`
	Loans                fpmath.Dec `json:"loans"`
	IsRedemptionProvider bool       `json:"is_redemption_provider"`
}

// NewMinterDebt returns the lazily materialized zero record.
func NewMinterDebt(minter Address) MinterDebt {
	return MinterDebt{Minter: minter, Loans: fpmath.Zero}
}

// Borrow increases loans by amount.
func (d *MinterDebt) Borrow(amount fpmath.Dec) error {
	loans, err := d.Loans.Add(amount)
	if err != nil {
		return fmt.Errorf("borrow %s: %w", amount, err)
	}
	d.Loans = loans
	return nil
}

// Settle decreases loans by amount, failing with an underflow if amount > loans.
func (d *MinterDebt) Settle(amount fpmath.Dec) error {
	loans, err := d.Loans.Sub(amount)
	if err != nil {
		return fmt.Errorf("settle %s of %s: %w", amount, d.Loans, err)
	}
	d.Loans = loans
	return nil
}
