package math_test

import (
	fpmath "CDPLedger/internal/math"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"0":                        "0",
		"1":                        "1",
		"0.5":                      "0.5",
		"39.600":                   "39.6",
		"1250.000000000000000001":  "1250.000000000000000001",
		"2.5000000000000000000000": "2.5",
	}
	for in, want := range cases {
		d, err := fpmath.Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := d.String(); got != want {
			t.Errorf("parse %q: got %q, want %q", in, got, want)
		}
	}
}

func TestParseRejectsNegativeAndGarbage(t *testing.T) {
	for _, in := range []string{"-1", "abc", "", "0.0000000000000000001", "1.0000000000000000009"} {
		if _, err := fpmath.Parse(in); !errors.Is(err, fpmath.ErrInvalidDecimal) {
			t.Errorf("parse %q: got %v, want ErrInvalidDecimal", in, err)
		}
	}
}

func TestMulFloors(t *testing.T) {
	a := fpmath.MustParse("100")
	b := fpmath.MustParse("0.5")
	got, err := a.Mul(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(fpmath.NewDec(50)) {
		t.Errorf("got %s, want 50", got)
	}

	// 1e-18 * 0.5 floors to zero
	tiny := fpmath.MustParse("0.000000000000000001")
	got, err = tiny.Mul(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestQuo(t *testing.T) {
	got, err := fpmath.NewDec(1).Quo(fpmath.NewDec(3))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "0.333333333333333333" {
		t.Errorf("got %s, want 0.333333333333333333", got)
	}

	if _, err := fpmath.One.Quo(fpmath.Zero); !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestMulDivRounding(t *testing.T) {
	one := fpmath.NewDec(1)
	three := fpmath.NewDec(3)

	up, err := fpmath.MulDiv(one, fpmath.One, three, fpmath.RoundUp)
	if err != nil {
		t.Fatal(err)
	}
	if up.String() != "0.333333333333333334" {
		t.Errorf("round up: got %s", up)
	}
}

func TestSubUnderflow(t *testing.T) {
	_, err := fpmath.NewDec(1).Sub(fpmath.NewDec(2))
	if !errors.Is(err, fpmath.ErrUnderflow) {
		t.Fatalf("got %v, want ErrUnderflow", err)
	}
	if !errors.Is(err, fpmath.ErrArithmetic) {
		t.Error("underflow should be an arithmetic error")
	}
}

func TestAddOverflow(t *testing.T) {
	max := fpmath.MustParse("115792089237316195423570985008687907853269984665640564039457.584007913129639935")
	if _, err := max.Add(fpmath.MustParse("0.000000000000000001")); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	if _, err := max.Mul(fpmath.NewDec(2)); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("mul: got %v, want ErrOverflow", err)
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Amount fpmath.Dec `json:"amount"`
	}
	data, err := json.Marshal(wrapper{Amount: fpmath.MustParse("12.5")})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"amount":"12.5"}` {
		t.Errorf("got %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"amount":"0.01"}`), &w); err != nil {
		t.Fatal(err)
	}
	if !w.Amount.Equal(fpmath.MustParse("0.01")) {
		t.Errorf("got %s, want 0.01", w.Amount)
	}

	// a deposit finer than the ledger can hold must not be recorded rounded
	err = json.Unmarshal([]byte(`{"amount":"1.0000000000000000009"}`), &w)
	if !errors.Is(err, fpmath.ErrInvalidDecimal) {
		t.Errorf("got %v, want ErrInvalidDecimal", err)
	}
}
