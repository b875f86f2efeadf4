package ingestion

import (
	"CDPLedger/internal/command"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	IntentStream        = "CDP_INTENTS"
	IntentSubjectPrefix = "cdp.intents"
)

// IntentPublisher publishes committed outbox intents to JetStream.
// Subjects follow cdp.intents.{kind}.{target}; each message carries the
// intent ID as Nats-Msg-Id so a relay retry inside the stream's duplicate
// window is dropped by the server.
type IntentPublisher struct {
	js jetstream.JetStream
}

func NewIntentPublisher(js jetstream.JetStream) *IntentPublisher {
	return &IntentPublisher{js: js}
}

// PublishIntents publishes intents in order and stops at the first failure.
func (p *IntentPublisher) PublishIntents(ctx context.Context, intents []command.Intent) error {
	for _, in := range intents {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal intent %s: %w", in.ID, err)
		}
		if _, err := p.js.Publish(ctx, IntentSubject(in), data, jetstream.WithMsgID(in.ID.String())); err != nil {
			return fmt.Errorf("publish intent %s: %w", in.ID, err)
		}
	}
	return nil
}

// IntentSubject builds the subject a collaborator subscribes to.
func IntentSubject(in command.Intent) string {
	return fmt.Sprintf("%s.%s.%s", IntentSubjectPrefix, in.Kind, subjectSafe(string(in.Target)))
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subjectSafe turns an identity into a single subject token.
func subjectSafe(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}
