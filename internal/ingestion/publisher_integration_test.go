package ingestion

import (
	"CDPLedger/internal/command"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIntentPublisherDedupesOnIntentID(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := EnsureStreams(ctx, js); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	stream, err := js.Stream(ctx, IntentStream)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	before, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}

	intents := command.Stamp([]command.Intent{
		command.PoolMint("pool", "alice", fpmath.MustParse("40")),
	}, time.Now().UnixNano())

	pub := NewIntentPublisher(js)
	for i := 0; i < 2; i++ {
		if err := pub.PublishIntents(ctx, intents); err != nil {
			t.Fatalf("publish attempt %d: %v", i, err)
		}
	}

	after, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if got := after.State.Msgs - before.State.Msgs; got != 1 {
		t.Errorf("stored %d messages, want 1", got)
	}
}
