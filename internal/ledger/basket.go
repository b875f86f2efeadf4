package ledger

import (
	fpmath "CDPLedger/internal/math"
)

// Entry is one (collateral type, amount) pair of a basket.
type Entry struct {
	Asset  AssetID    `json:"asset"`
	Amount fpmath.Dec `json:"amount"`
}

// Basket is a minter's collateral in insertion order. Order decides which
// collateral is released first during redemption and liquidation, so it is
// never sorted. A basket never holds zero-amount entries or duplicates.
type Basket []Entry

// Clone returns an independent copy.
func (b Basket) Clone() Basket {
	if b == nil {
		return nil
	}
	out := make(Basket, len(b))
	copy(out, b)
	return out
}

func (b Basket) IsEmpty() bool { return len(b) == 0 }

// Amount returns the held amount of asset, zero if absent.
func (b Basket) Amount(asset AssetID) fpmath.Dec {
	if i := b.index(asset); i >= 0 {
		return b[i].Amount
	}
	return fpmath.Zero
}

func (b Basket) index(asset AssetID) int {
	for i := range b {
		if b[i].Asset == asset {
			return i
		}
	}
	return -1
}

// Add returns a new basket with deltas added. Existing assets keep their
// position; new assets are appended in the order given. Zero deltas are ignored.
func (b Basket) Add(deltas ...Entry) (Basket, error) {
	out := b.Clone()
	for _, d := range deltas {
		if d.Amount.IsZero() {
			continue
		}
		if i := out.index(d.Asset); i >= 0 {
			sum, err := out[i].Amount.Add(d.Amount)
			if err != nil {
				return b, err
			}
			out[i].Amount = sum
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Sub returns a new basket with deltas subtracted. Entries that reach zero
// are removed. Subtracting more than is held fails with
// InsufficientCollateralError and leaves b untouched.
func (b Basket) Sub(deltas ...Entry) (Basket, error) {
	out := b.Clone()
	for _, d := range deltas {
		if d.Amount.IsZero() {
			continue
		}
		i := out.index(d.Asset)
		if i < 0 {
			return b, &InsufficientCollateralError{Asset: d.Asset, Have: fpmath.Zero, Want: d.Amount}
		}
		rest, err := out[i].Amount.Sub(d.Amount)
		if err != nil {
			return b, &InsufficientCollateralError{Asset: d.Asset, Have: out[i].Amount, Want: d.Amount}
		}
		if rest.IsZero() {
			out = append(out[:i], out[i+1:]...)
			continue
		}
		out[i].Amount = rest
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
