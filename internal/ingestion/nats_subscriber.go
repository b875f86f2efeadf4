package ingestion

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream   = "CDP_COMMANDS"
	CommandConsumer = "cdpledger-commands"
)

// Executor runs a parsed command; core.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (core.Result, error)
}

// CommandSubscriber consumes commands from JetStream and executes them.
// A single durable consumer covers every command subject so commands are
// applied in stream order.
type CommandSubscriber struct {
	js       jetstream.JetStream
	executor Executor
	metrics  *observability.Metrics
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewCommandSubscriber(js jetstream.JetStream, executor Executor, metrics *observability.Metrics, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:       js,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
	}
}

// Subscribe creates the durable consumer and starts delivering messages.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}
	s.consumer = cc
	s.logger.Info().Str("consumer", CommandConsumer).Msg("subscribed to commands")
	return nil
}

// Outcome of a single message, used for acking and metrics.
type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeDuplicate outcome = "duplicate"
	outcomeRejected  outcome = "rejected"
	outcomeMalformed outcome = "malformed"
	outcomeRetry     outcome = "retry"
)

func (s *CommandSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	ct, result := s.process(ctx, msg.Subject(), msg.Data())

	switch result {
	case outcomeRetry:
		msg.Nak()
	case outcomeMalformed:
		msg.Term()
	default:
		msg.Ack()
	}
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues(ct.String(), string(result)).Inc()
	}
}

// process parses and executes one message. Domain rejections are final and
// acknowledged; only infrastructure failures are redelivered.
func (s *CommandSubscriber) process(ctx context.Context, subject string, data []byte) (command.CommandType, outcome) {
	ct, err := CommandTypeFromSubject(subject)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("dropping message")
		return ct, outcomeMalformed
	}
	cmd, err := ParseCommand(ct, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("dropping message")
		return ct, outcomeMalformed
	}

	res, err := s.executor.Execute(ctx, cmd)
	switch {
	case err == nil && res.Duplicate:
		return ct, outcomeDuplicate
	case err == nil:
		return ct, outcomeApplied
	case isDomainError(err):
		return ct, outcomeRejected
	default:
		s.logger.Warn().Err(err).Str("subject", subject).Str("key", cmd.IdempotencyKey()).Msg("command failed, will redeliver")
		return ct, outcomeRetry
	}
}

func isDomainError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return ledger.Category(err) != "internal"
}

// Stop gracefully stops the consumer.
func (s *CommandSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.logger.Info().Msg("command subscriber stopped")
}

// EnsureStreams creates the command and intent streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       IntentStream,
			Subjects:   []string{IntentSubjectPrefix + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("cdpledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
