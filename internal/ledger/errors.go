package ledger

import (
	fpmath "CDPLedger/internal/math"
	"errors"
	"fmt"
)

// Error categories. Every error returned by the ledger matches exactly one of
// these with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientCapacity   = errors.New("insufficient capacity")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrUnregisteredCollateral = errors.New("unregistered collateral")
	ErrArithmetic             = fpmath.ErrArithmetic
	ErrDeprecated             = errors.New("deprecated")
	ErrNotInstantiated        = errors.New("ledger not instantiated")
	ErrAlreadyInstantiated    = errors.New("ledger already instantiated")
)

var (
	ErrZeroCollateral              = fmt.Errorf("%w: collateral amount must be greater than zero", ErrValidation)
	ErrZeroAmount                  = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrRedeemFeeExceedsLimit       = fmt.Errorf("%w: redeem fee must be less than 1", ErrValidation)
	ErrMaxLtvExceedsLimit          = fmt.Errorf("%w: max ltv must be less than 1", ErrValidation)
	ErrNotRedemptionProvider       = fmt.Errorf("%w: minter is not a redemption provider", ErrValidation)
	ErrCannotLiquidateSafePosition = fmt.Errorf("%w: position is safe", ErrInsufficientCapacity)
	ErrNoPendingOwner              = fmt.Errorf("%w: no pending owner", ErrValidation)
)

// UnauthorizedError reports a failed role check.
type UnauthorizedError struct {
	Operation string
	Caller    Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s by %s", e.Operation, e.Caller)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// MintTooLargeError carries the capacity the mint would have exceeded.
type MintTooLargeError struct {
	Capacity fpmath.Dec
}

func (e *MintTooLargeError) Error() string {
	return fmt.Sprintf("mint too large: capacity %s", e.Capacity)
}

func (e *MintTooLargeError) Unwrap() error { return ErrInsufficientCapacity }

type WithdrawTooLargeError struct {
	Loans    fpmath.Dec
	Capacity fpmath.Dec
}

func (e *WithdrawTooLargeError) Error() string {
	return fmt.Sprintf("withdraw too large: loans %s exceed capacity %s", e.Loans, e.Capacity)
}

func (e *WithdrawTooLargeError) Unwrap() error { return ErrInsufficientCapacity }

type RedeemTooLargeError struct {
	Loans fpmath.Dec
}

func (e *RedeemTooLargeError) Error() string {
	return fmt.Sprintf("redeem too large: loans %s", e.Loans)
}

func (e *RedeemTooLargeError) Unwrap() error { return ErrInsufficientCapacity }

// InsufficientCollateralError is returned when a basket holds less of an
// asset than an operation tries to remove.
type InsufficientCollateralError struct {
	Asset AssetID
	Have  fpmath.Dec
	Want  fpmath.Dec
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral %s: have %s, want %s", e.Asset, e.Have, e.Want)
}

func (e *InsufficientCollateralError) Unwrap() error { return ErrInsufficientCollateral }

// RedemptionShortfallError is returned when the whole basket is worth less
// than the redeem value.
type RedemptionShortfallError struct {
	Requested fpmath.Dec
	Available fpmath.Dec
}

func (e *RedemptionShortfallError) Error() string {
	return fmt.Sprintf("insufficient collateral for redemption: requested %s, available %s", e.Requested, e.Available)
}

func (e *RedemptionShortfallError) Unwrap() error { return ErrInsufficientCollateral }

type UnregisteredCollateralError struct {
	Asset AssetID
}

func (e *UnregisteredCollateralError) Error() string {
	return fmt.Sprintf("unregistered collateral: %s", e.Asset)
}

func (e *UnregisteredCollateralError) Unwrap() error { return ErrUnregisteredCollateral }

// DeprecatedError marks an operation kept only for interface compatibility.
type DeprecatedError struct {
	Operation string
}

func (e *DeprecatedError) Error() string {
	return fmt.Sprintf("deprecated: %s", e.Operation)
}

func (e *DeprecatedError) Unwrap() error { return ErrDeprecated }

// Unauthorized is a shorthand constructor used by role checks.
func Unauthorized(operation string, caller Address) error {
	return &UnauthorizedError{Operation: operation, Caller: caller}
}

// Category names the error category err belongs to, for metrics labels and
// transport mapping. Errors outside the taxonomy report "internal".
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrUnregisteredCollateral):
		return "unregistered_collateral"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrDeprecated):
		return "deprecated"
	case errors.Is(err, ErrNotInstantiated):
		return "not_instantiated"
	case errors.Is(err, ErrAlreadyInstantiated):
		return "already_instantiated"
	default:
		return "internal"
	}
}
