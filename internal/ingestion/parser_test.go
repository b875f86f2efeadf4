package ingestion_test

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/ingestion"
	"CDPLedger/internal/ledger"
	"errors"
	"testing"
)

func TestCommandTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    command.CommandType
		wantErr bool
	}{
		{"cdp.commands.mint", command.CommandTypeMint, false},
		{"cdp.commands.withdraw_collateral.alice", command.CommandTypeWithdrawCollateral, false},
		{"cdp.commands.set_collateral_safe_rate", command.CommandTypeSetCollateralSafeRate, false},
		{"cdp.commands.burn", command.CommandTypeUnknown, true},
		{"perp.trades.mint", command.CommandTypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ingestion.CommandTypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.subject, got, tt.want)
		}
	}
}

func TestCommandSubjectRoundTrip(t *testing.T) {
	for ct := command.CommandTypeInstantiate; ct <= command.CommandTypeSetRedemptionProvider; ct++ {
		got, err := ingestion.CommandTypeFromSubject(ingestion.CommandSubject(ct))
		if err != nil {
			t.Fatalf("%v: %v", ct, err)
		}
		if got != ct {
			t.Errorf("subject for %v resolved to %v", ct, got)
		}
	}
}

func TestParseMintWithDeposit(t *testing.T) {
	data := []byte(`{
		"idempotency_key": "tx-1",
		"sender": "custody-atom",
		"minter": "alice",
		"stable_amount": "40",
		"deposit": {"asset": "uatom", "amount": "100.5"},
		"redemption_provider": true
	}`)

	cmd, err := ingestion.ParseCommand(command.CommandTypeMint, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	mint, ok := cmd.(*command.Mint)
	if !ok {
		t.Fatalf("expected *command.Mint, got %T", cmd)
	}

	if mint.IdempotencyKey() != "tx-1" {
		t.Errorf("key: got %s", mint.IdempotencyKey())
	}
	if mint.Caller() != "custody-atom" {
		t.Errorf("caller: got %s", mint.Caller())
	}
	if mint.StableAmount.String() != "40" {
		t.Errorf("stable_amount: got %s", mint.StableAmount)
	}
	if mint.Deposit == nil || mint.Deposit.Asset != "uatom" || mint.Deposit.Amount.String() != "100.5" {
		t.Errorf("deposit: got %+v", mint.Deposit)
	}
	if mint.RedemptionProvider == nil || !*mint.RedemptionProvider {
		t.Error("redemption_provider: expected true")
	}
}

func TestParseUpdateConfigPartial(t *testing.T) {
	data := []byte(`{"idempotency_key":"u1","sender":"owner","update":{"redeem_fee":"0.02"}}`)
	cmd, err := ingestion.ParseCommand(command.CommandTypeUpdateConfig, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	u := cmd.(*command.UpdateConfig).Update
	if u.RedeemFee == nil || u.RedeemFee.String() != "0.02" {
		t.Errorf("redeem_fee: got %v", u.RedeemFee)
	}
	if u.Oracle != nil || u.Pool != nil {
		t.Error("unset fields should stay nil")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		ct   command.CommandType
		data string
	}{
		{"not json", command.CommandTypeRepay, `{`},
		{"missing key", command.CommandTypeRepay, `{"sender":"pool","minter":"alice","amount":"1"}`},
		{"missing sender", command.CommandTypeRepay, `{"idempotency_key":"k","minter":"alice","amount":"1"}`},
		{"missing minter", command.CommandTypeRedeem, `{"idempotency_key":"k","sender":"pool","redeemer":"bob","amount":"1"}`},
		{"negative amount", command.CommandTypeRepay, `{"idempotency_key":"k","sender":"pool","minter":"alice","amount":"-1"}`},
		{"numeric amount", command.CommandTypeRepay, `{"idempotency_key":"k","sender":"pool","minter":"alice","amount":1}`},
		{"unknown field", command.CommandTypeLiquidate, `{"idempotency_key":"k","sender":"liq","minter":"alice","force":true}`},
		{"missing asset", command.CommandTypeWithdrawCollateral, `{"idempotency_key":"k","sender":"alice","amount":"1"}`},
		{"unknown type", command.CommandTypeUnknown, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tt.ct, []byte(tt.data))
			if !errors.Is(err, ingestion.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			if !errors.Is(err, ledger.ErrValidation) {
				t.Errorf("malformed commands should be validation errors: %v", err)
			}
		})
	}
}
