package ingestion

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type fakeExecutor struct {
	res  core.Result
	err  error
	seen []command.Command
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd command.Command) (core.Result, error) {
	f.seen = append(f.seen, cmd)
	return f.res, f.err
}

const repayJSON = `{"idempotency_key":"k1","sender":"pool","minter":"alice","amount":"5"}`

func TestProcessOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		res     core.Result
		err     error
		want    outcome
	}{
		{"applied", "cdp.commands.repay", repayJSON, core.Result{Sequence: 1}, nil, outcomeApplied},
		{"duplicate", "cdp.commands.repay", repayJSON, core.Result{Duplicate: true}, nil, outcomeDuplicate},
		{"domain rejection", "cdp.commands.repay", repayJSON, core.Result{}, ledger.Unauthorized("repay", "pool"), outcomeRejected},
		{"wrapped domain rejection", "cdp.commands.repay", repayJSON, core.Result{}, fmt.Errorf("load: %w", ledger.ErrNotInstantiated), outcomeRejected},
		{"infrastructure failure", "cdp.commands.repay", repayJSON, core.Result{}, errors.New("connection reset"), outcomeRetry},
		{"cancelled", "cdp.commands.repay", repayJSON, core.Result{}, context.Canceled, outcomeRetry},
		{"unknown subject", "cdp.commands.burn", repayJSON, core.Result{}, nil, outcomeMalformed},
		{"bad payload", "cdp.commands.repay", `{"amount":1}`, core.Result{}, nil, outcomeMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{res: tt.res, err: tt.err}
			s := NewCommandSubscriber(nil, exec, nil, zerolog.Nop())

			_, got := s.process(context.Background(), tt.subject, []byte(tt.data))
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if tt.want == outcomeMalformed && len(exec.seen) != 0 {
				t.Error("malformed message reached the executor")
			}
		})
	}
}

func TestSubmitFillsHeader(t *testing.T) {
	exec := &fakeExecutor{res: core.Result{Sequence: 7}}
	s := NewSubmitter(exec)

	cmd, res, err := s.Submit(context.Background(), Submission{
		Token:  "withdraw_collateral",
		Sender: "alice",
		Body:   []byte(`{"asset":"uatom","amount":"1.5"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Sequence != 7 {
		t.Errorf("sequence: got %d", res.Sequence)
	}
	if cmd.Caller() != "alice" {
		t.Errorf("caller: got %s", cmd.Caller())
	}
	if cmd.IdempotencyKey() == "" {
		t.Error("expected a generated idempotency key")
	}

	cmd, _, err = s.Submit(context.Background(), Submission{
		Token:  "withdraw_collateral",
		Key:    "header-key",
		Sender: "mallory",
		Body:   []byte(`{"idempotency_key":"body-key","sender":"alice","asset":"uatom","amount":"1"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if cmd.IdempotencyKey() != "body-key" || cmd.Caller() != "alice" {
		t.Errorf("body header should win, got %s/%s", cmd.IdempotencyKey(), cmd.Caller())
	}
}

func TestSubmitRejectsMissingSender(t *testing.T) {
	s := NewSubmitter(&fakeExecutor{})
	_, _, err := s.Submit(context.Background(), Submission{
		Token: "liquidate",
		Body:  []byte(`{"minter":"alice"}`),
	})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
