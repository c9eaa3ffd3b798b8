package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/handler/marshaller"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the poller to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

// BreakerConfig trips the export after Failures consecutive errors and tries
// the bus again after Timeout.
type BreakerConfig struct {
	Failures uint32
	Timeout  time.Duration
}

type eventDispatcher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewEventDispatcher(pub message.Publisher, bc BreakerConfig, logger *slog.Logger) EventDispatcher {
	if bc.Failures == 0 {
		bc.Failures = 5
	}
	if bc.Timeout <= 0 {
		bc.Timeout = 30 * time.Second
	}

	return &eventDispatcher{
		publisher: pub,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "event-export",
			MaxRequests: 1,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= bc.Failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("BREAKER_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	exp, ok := ev.(event.Exportable)
	if !ok || exp.GetRoutingKey() == "" {
		return nil // local only
	}
	topic := exp.GetRoutingKey()

	ctx, span := d.tracer.Start(ctx, "event.export",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("im_chat.event", string(ev.GetKind())),
		))
	defer span.End()

	payload, err := marshaller.MarshallDeliveryEvent(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(ev.GetID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("routing_key", topic)
	msg.Metadata.Set("event", string(ev.GetKind()))
	msg.Metadata.Set("user_id", ev.GetUserID())
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	_, err = d.breaker.Execute(func() (any, error) {
		return nil, d.publisher.Publish(topic, msg)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	d.logger.Debug("EVENT_EXPORTED", "topic", topic, "event_id", ev.GetID())
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
