package ingestion

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Submitter is the synchronous ingest path for the HTTP API and admin
// tooling. High-throughput producers should publish to JetStream instead.
type Submitter struct {
	executor Executor
}

func NewSubmitter(executor Executor) *Submitter {
	return &Submitter{executor: executor}
}

// Submission is a command body plus header fields the transport supplied out
// of band, such as an Idempotency-Key header. Values in the body win.
type Submission struct {
	Token  string
	Key    string
	Sender ledger.Address
	Body   []byte
}

// Submit decodes, validates and executes one command. A missing idempotency
// key is replaced by a random one, which makes the call non-retryable.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (command.Command, core.Result, error) {
	ct, err := CommandTypeFromToken(sub.Token)
	if err != nil {
		return nil, core.Result{}, err
	}
	cmd, err := DecodeCommand(ct, sub.Body)
	if err != nil {
		return nil, core.Result{}, err
	}

	key := sub.Key
	if key == "" {
		key = uuid.NewString()
	}
	h, ok := cmd.(interface {
		SetDefaults(key string, sender ledger.Address)
	})
	if !ok {
		return nil, core.Result{}, fmt.Errorf("command %T has no header", cmd)
	}
	h.SetDefaults(key, sub.Sender)

	if err := Validate(cmd); err != nil {
		return nil, core.Result{}, err
	}
	res, err := s.executor.Execute(ctx, cmd)
	return cmd, res, err
}
