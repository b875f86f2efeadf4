package math

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places carried by Dec.
// Prices, debt and collateral amounts all share it so products never
// need rescaling between representations.
const Precision = 18

var (
	ErrArithmetic     = errors.New("arithmetic bounds")
	ErrOverflow       = fmt.Errorf("%w: overflow", ErrArithmetic)
	ErrUnderflow      = fmt.Errorf("%w: underflow", ErrArithmetic)
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrArithmetic)
	ErrInvalidDecimal = errors.New("invalid decimal")
)

var scale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Precision))

type RoundingMode int

const (
	RoundDown RoundingMode = iota // floor (default for every ledger computation)
	RoundUp
)

// Dec is an unsigned 256-bit fixed-point number with 18 decimal places.
// The zero value is 0 and is ready to use.
type Dec struct {
	v uint256.Int
}

var (
	Zero = Dec{}
	One  = Dec{v: *scale}
)

// NewDec returns n as a whole-unit Dec.
func NewDec(n uint64) Dec {
	var d Dec
	d.v.Mul(uint256.NewInt(n), scale)
	return d
}

// Parse reads a base-10 decimal string such as "0.5" or "1250.000001".
// Nonzero digits beyond 18 decimal places are rejected, never rounded.
func Parse(s string) (Dec, error) {
	dd, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
	}
	if dd.IsNegative() {
		return Zero, fmt.Errorf("%w: %q is negative", ErrInvalidDecimal, s)
	}
	shifted := dd.Shift(Precision)
	if !shifted.IsInteger() {
		return Zero, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidDecimal, s, Precision)
	}
	raw := shifted.BigInt()
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return Zero, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return Dec{v: *v}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Dec {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Dec) IsZero() bool { return d.v.IsZero() }

func (d Dec) Cmp(o Dec) int { return d.v.Cmp(&o.v) }

func (d Dec) Equal(o Dec) bool { return d.v.Eq(&o.v) }

func (d Dec) LT(o Dec) bool { return d.v.Lt(&o.v) }

func (d Dec) GT(o Dec) bool { return d.v.Gt(&o.v) }

func (d Dec) LTE(o Dec) bool { return !d.v.Gt(&o.v) }

func (d Dec) GTE(o Dec) bool { return !d.v.Lt(&o.v) }

func (d Dec) Add(o Dec) (Dec, error) {
	var r Dec
	if _, overflow := r.v.AddOverflow(&d.v, &o.v); overflow {
		return Zero, ErrOverflow
	}
	return r, nil
}

// Sub fails with ErrUnderflow instead of wrapping when o > d.
func (d Dec) Sub(o Dec) (Dec, error) {
	var r Dec
	if _, underflow := r.v.SubOverflow(&d.v, &o.v); underflow {
		return Zero, ErrUnderflow
	}
	return r, nil
}

// Mul returns floor(d*o).
func (d Dec) Mul(o Dec) (Dec, error) {
	return MulDiv(d, o, One, RoundDown)
}

// Quo returns floor(d/o).
func (d Dec) Quo(o Dec) (Dec, error) {
	return MulDiv(d, One, o, RoundDown)
}

func Min(a, b Dec) Dec {
	if a.LT(b) {
		return a
	}
	return b
}

// MulDiv computes x*y/d with a 512-bit intermediate product.
// The result is rounded with mode and must fit in 256 bits.
func MulDiv(x, y, d Dec, mode RoundingMode) (Dec, error) {
	if d.IsZero() {
		return Zero, ErrDivisionByZero
	}

	var q Dec
	if _, overflow := q.v.MulDivOverflow(&x.v, &y.v, &d.v); overflow {
		return Zero, ErrOverflow
	}
	if mode == RoundDown {
		return q, nil
	}

	// Remainder is x*y - q*d. Both fit in 512 bits, so use big.Int here.
	prod := new(big.Int).Mul(x.v.ToBig(), y.v.ToBig())
	rem := new(big.Int).Sub(prod, new(big.Int).Mul(q.v.ToBig(), d.v.ToBig()))
	if rem.Sign() == 0 {
		return q, nil
	}

	if _, overflow := q.v.AddOverflow(&q.v, uint256.NewInt(1)); overflow {
		return Zero, ErrOverflow
	}
	return q, nil
}

// String renders the value with trailing zeros trimmed, e.g. "39.6".
func (d Dec) String() string {
	return decimal.NewFromBigInt(d.v.ToBig(), -Precision).String()
}

func (d Dec) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Dec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: expected string: %v", ErrInvalidDecimal, err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText lets Dec be used directly in TOML and as a map key in JSON.
func (d Dec) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dec) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores Dec in NUMERIC columns.
func (d Dec) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Dec) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case nil:
		*d = Zero
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidDecimal, src)
	}
}
