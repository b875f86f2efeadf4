package persistence

import (
	"CDPLedger/internal/command"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/store"
	"CDPLedger/internal/store/memory"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []command.Intent
	failures  int
}

func (p *recordingPublisher) PublishIntents(ctx context.Context, intents []command.Intent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("nats: no responders available for request")
	}
	p.published = append(p.published, intents...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// commitIntents writes one journal entry with n intents to s.
func commitIntents(t *testing.T, s *memory.Store, seq int64, n int) {
	t.Helper()
	ctx := context.Background()

	intents := make([]command.Intent, n)
	for i := range intents {
		intents[i] = command.PoolMint("pool", "alice", fpmath.NewDec(uint64(i+1)))
	}
	command.Stamp(intents, seq)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.AppendJournal(ctx, store.JournalEntry{
		Sequence:       seq,
		CommandType:    "Mint",
		IdempotencyKey: fmt.Sprintf("key-%d", seq),
		IntentCount:    n,
	}); err != nil {
		t.Fatalf("append journal: %v", err)
	}
	if err := tx.AppendOutbox(ctx, intents); err != nil {
		t.Fatalf("append outbox: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestOutboxRelay_DrainsInCommitOrder(t *testing.T) {
	s := memory.New()
	commitIntents(t, s, 1, 3)
	commitIntents(t, s, 2, 2)

	pub := &recordingPublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	relay := NewOutboxRelay(s, pub, 2, time.Hour, nil, metrics, zerolog.Nop())

	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(pub.published) != 5 {
		t.Fatalf("published %d intents, want 5", len(pub.published))
	}
	for i, in := range pub.published {
		wantSeq, wantIdx := int64(1), i
		if i >= 3 {
			wantSeq, wantIdx = 2, i-3
		}
		if in.Sequence != wantSeq || in.Index != wantIdx {
			t.Errorf("intent %d: got %d/%d, want %d/%d", i, in.Sequence, in.Index, wantSeq, wantIdx)
		}
	}

	pending, _ := s.PendingIntents(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("expected empty outbox, %d pending", len(pending))
	}
	if got := testutil.ToFloat64(metrics.RelayPublished); got != 5 {
		t.Errorf("relay published metric: got %v", got)
	}
}

func TestOutboxRelay_RetriesUntilPublished(t *testing.T) {
	s := memory.New()
	commitIntents(t, s, 1, 1)

	pub := &recordingPublisher{failures: 2}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	relay := NewOutboxRelay(s, pub, 10, time.Hour, nil, metrics, zerolog.Nop())

	if err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d, want 1", pub.count())
	}
	if got := testutil.ToFloat64(metrics.RelayRetry); got != 2 {
		t.Errorf("retries: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.RelayErrors.WithLabelValues("publish")); got != 2 {
		t.Errorf("publish errors: got %v, want 2", got)
	}
}

func TestOutboxRelay_CancelledDuringBackoff(t *testing.T) {
	s := memory.New()
	commitIntents(t, s, 1, 1)

	pub := &recordingPublisher{failures: 1 << 20}
	relay := NewOutboxRelay(s, pub, 10, time.Hour, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := relay.Drain(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	pending, _ := s.PendingIntents(context.Background(), 10)
	if len(pending) != 1 {
		t.Errorf("intent must stay in the outbox, got %d pending", len(pending))
	}
}

func TestOutboxRelay_RunWakesOnCommit(t *testing.T) {
	s := memory.New()
	pub := &recordingPublisher{}
	wake := make(chan struct{}, 1)
	relay := NewOutboxRelay(s, pub, 10, time.Hour, wake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	commitIntents(t, s, 1, 2)
	wake <- struct{}{}

	deadline := time.After(2 * time.Second)
	for pub.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("relay did not publish after wake")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run: got %v", err)
	}
}
