package ingestion

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream = "SALE_COMMANDS"
	// IdentityHeader carries the caller on NATS messages, HTTP requests and gRPC metadata
	IdentityHeader = "x-sale-identity"
)

// NATSSubscriber consumes sale commands from JetStream and hands them to
// the pipeline through eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is one undecoded command message.
type RawEvent struct {
	Subject   string
	Data      []byte
	Identity  string // IdentityHeader, empty if absent
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig binds one command subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	Kind         CommandKind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one consumer per command kind so a slow claim
// backlog does not hold up purchases.
func DefaultSubjects() []SubjectConfig {
	kinds := []CommandKind{KindPurchase, KindIssue, KindClaim, KindDeposit, KindSweepUnsold, KindSweepRaised}
	subjects := make([]SubjectConfig, 0, len(kinds))
	for _, k := range kinds {
		subjects = append(subjects, SubjectConfig{
			Subject:      subjectPrefix + string(k),
			Kind:         k,
			ConsumerName: "saled-" + string(k),
			StreamName:   CommandStream,
		})
	}
	return subjects
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("nats"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}
			if h := msg.Headers(); h != nil {
				raw.Identity = h.Get(IdentityHeader)
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// RunCommandLoop decodes raw messages and submits them through seq.
// Malformed commands and deterministic rejections are acked, since
// redelivery would fail the same way. Only a shutdown naks.
func RunCommandLoop(ctx context.Context, rawChan <-chan RawEvent, seq *Sequencer) error {
	logger := observability.NewLogger("ingestion")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}

			cmd, err := ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
				raw.AckFunc()
				continue
			}

			out, err := seq.Submit(ctx, cmd)
			switch {
			case err == nil:
				logger.Debug().
					Str("kind", string(cmd.Kind)).
					Str("request_id", cmd.RequestID.String()).
					Int64("sequence", out.Envelope.Sequence).
					Msg("command applied")
				raw.AckFunc()
			case errors.Is(err, core.ErrDuplicateEvent):
				raw.AckFunc()
			case ctx.Err() != nil:
				raw.NakFunc()
				return ctx.Err()
			default:
				logger.Info().Err(err).
					Str("kind", string(cmd.Kind)).
					Str("request_id", cmd.RequestID.String()).
					Str("caller", cmd.Caller.String()).
					Msg("command rejected")
				raw.AckFunc()
			}
		}
	}
}

// EnsureStreams creates the command stream if it does not exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("saled"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
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
