// Package redelivery republishes messages whose handler failed and moves
// messages that keep failing to a dead letter topic.
package redelivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	"github.com/drblury/eventdispatch/internal/runtime/dispatch"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	headerspkg "github.com/drblury/eventdispatch/internal/runtime/headers"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
)

// Dead letter reasons recorded in headers and metrics.
const (
	ReasonMaxRedeliveries = "max_redeliveries"
	ReasonUnprocessable   = "unprocessable"
	ReasonHandler         = "handler"
)

// Config bounds redelivery.
type Config struct {
	// MaxRedeliveries is how many times a message is republished before it
	// is dead-lettered. Zero dead-letters on the first failure and a negative
	// value never dead-letters.
	MaxRedeliveries int
	// DeadLetterTopic overrides the <topic>.dead default.
	DeadLetterTopic string
}

// Observer is notified of every republished and dead-lettered message.
type Observer interface {
	RecordRedelivered(topic string)
	RecordDeadLettered(topic, reason string)
}

type nopObserver struct{}

func (nopObserver) RecordRedelivered(string)          {}
func (nopObserver) RecordDeadLettered(string, string) {}

// Producer implements dispatch.Redeliverer on top of a Watermill publisher.
type Producer struct {
	publisher message.Publisher
	cfg       Config
	logger    loggingpkg.ServiceLogger
	observer  Observer
}

var _ dispatch.Redeliverer = (*Producer)(nil)

// NewProducer creates a Producer. Logger and observer may be nil.
func NewProducer(publisher message.Publisher, cfg Config, logger loggingpkg.ServiceLogger, observer Observer) (*Producer, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Producer{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		observer:  observer,
	}, nil
}

// Reproduce republishes msg on its original topic with the same payload, a
// fresh UUID and an incremented redelivery count. Once the count would exceed
// MaxRedeliveries the message is dead-lettered instead and
// ErrRedeliveryExhausted is returned.
func (p *Producer) Reproduce(ctx context.Context, msg dispatch.RawMessage) error {
	if msg.Topic == "" {
		return errspkg.ErrTopicRequired
	}

	hdrs := headerspkg.Headers(msg.Metadata)
	next := hdrs.Redeliveries() + 1
	if p.cfg.MaxRedeliveries >= 0 && next > p.cfg.MaxRedeliveries {
		cause := fmt.Errorf("redelivered %d times", next-1)
		if err := p.deadLetter(ctx, msg, cause, ReasonMaxRedeliveries); err != nil {
			return err
		}
		return errspkg.ErrRedeliveryExhausted
	}

	out := message.NewMessage(watermill.NewUUID(), append([]byte(nil), msg.Payload...))
	out.Metadata = headerspkg.ToWatermill(hdrs.WithRedeliveries(next).With(headerspkg.RedeliveredFrom, msg.UUID))
	out.SetContext(ctx)

	if err := p.publisher.Publish(msg.Topic, out); err != nil {
		return fmt.Errorf("failed to republish message %s: %w", msg.UUID, err)
	}

	p.observer.RecordRedelivered(msg.Topic)
	p.logger.Debug("Message redelivered", loggingpkg.LogFields{
		"topic":            msg.Topic,
		"message_uuid":     msg.UUID,
		"new_message_uuid": out.UUID,
		"redelivery_count": next,
	})
	return nil
}

// DeadLetter publishes msg to the dead letter topic with the original topic
// and the failure recorded as headers.
func (p *Producer) DeadLetter(ctx context.Context, msg dispatch.RawMessage, cause error) error {
	return p.deadLetter(ctx, msg, cause, reasonFor(cause))
}

// DeadLetterTopic returns the topic dead-lettered messages from topic go to.
func (p *Producer) DeadLetterTopic(topic string) string {
	if p.cfg.DeadLetterTopic != "" {
		return p.cfg.DeadLetterTopic
	}
	return cloudevents.DeadLetterTopic(topic)
}

func (p *Producer) deadLetter(ctx context.Context, msg dispatch.RawMessage, cause error, reason string) error {
	if msg.Topic == "" {
		return errspkg.ErrTopicRequired
	}

	extra := headerspkg.New(
		headerspkg.OriginalTopic, msg.Topic,
		headerspkg.DeadLetterReason, reason,
	)
	if cause != nil {
		extra[headerspkg.Error] = cause.Error()
	}

	out := message.NewMessage(watermill.NewUUID(), append([]byte(nil), msg.Payload...))
	out.Metadata = headerspkg.ToWatermill(headerspkg.Headers(msg.Metadata).WithAll(extra))
	out.SetContext(ctx)

	topic := p.DeadLetterTopic(msg.Topic)
	if err := p.publisher.Publish(topic, out); err != nil {
		return fmt.Errorf("failed to dead letter message %s to %s: %w", msg.UUID, topic, err)
	}

	p.observer.RecordDeadLettered(msg.Topic, reason)
	p.logger.Info("Message dead-lettered", loggingpkg.LogFields{
		"topic":             msg.Topic,
		"dead_letter_topic": topic,
		"message_uuid":      msg.UUID,
		"reason":            reason,
	})
	return nil
}

func reasonFor(cause error) string {
	var dl *cloudevents.DeadLetterError
	switch {
	case errors.As(cause, &dl) && dl.Reason != "":
		return dl.Reason
	case errors.Is(cause, cloudevents.ErrUnprocessable):
		return ReasonUnprocessable
	default:
		return ReasonHandler
	}
}
