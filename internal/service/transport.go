package service

import (
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/queue"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// Transport is the part of the broker client the protocol services build on.
type Transport interface {
	ClientID() string
	IsConnected() bool
	Subscribe(topic string, handler mqtt.Handler, qos mqtt.QoS)
	Unsubscribe(topic string)
	Publish(topic string, payload any, qos mqtt.QoS, retained bool)
	Chain(handler mqtt.Handler)
	OnConnectionStatus(fn mqtt.StatusObserver) func()
}

// EventSource is the consumer side of a service: a queue drained on the consumer's schedule.
type EventSource interface {
	UserID() string
	PollAllEvents() []event.Eventer
	PendingEvents() int
}

const defaultDedupSize = 4096

type Option func(*options)

type options struct {
	dedupSize int
}

// WithDedupSize bounds how many recent message ids are remembered for duplicate suppression.
func WithDedupSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.dedupSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{dedupSize: defaultDedupSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// outbox is the event queue both services expose.
type outbox struct {
	userID string
	queue  *queue.Queue
	logger *slog.Logger
}

func newOutbox(userID string, logger *slog.Logger) outbox {
	return outbox{userID: userID, queue: queue.New(), logger: logger}
}

func (o *outbox) UserID() string { return o.userID }

// PollAllEvents drains the queue without blocking; a second call with no
// inbound traffic in between returns an empty slice.
func (o *outbox) PollAllEvents() []event.Eventer { return o.queue.Drain() }

func (o *outbox) PendingEvents() int { return o.queue.Len() }

func (o *outbox) push(kind event.Kind, payload any) {
	o.queue.Push(event.New(o.userID, kind, payload))
}

// fail turns an unprocessable inbound payload into exactly one error event.
func (o *outbox) fail(topic string, payload []byte, err error) {
	o.logger.Warn("INBOUND_PAYLOAD_REJECTED",
		"topic", topic,
		"code", apperr.CodeOf(err),
		"err", err)

	o.push(event.Error, event.Failure{
		Error:     err.Error(),
		Code:      string(apperr.CodeOf(err)),
		Topic:     topic,
		Payload:   string(payload),
		Timestamp: time.Now().UTC(),
		Err:       err,
	})
}

// dedup remembers recently seen message ids; at-least-once delivery may
// hand the same message over twice.
type dedup struct {
	seen *lru.Cache[string, struct{}]
}

func newDedup(size int) *dedup {
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		// only a non-positive size fails
		c, _ = lru.New[string, struct{}](defaultDedupSize)
	}
	return &dedup{seen: c}
}

// Seen records id and reports whether it was already known. Empty ids are never duplicates.
func (d *dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	found, _ := d.seen.ContainsOrAdd(id, struct{}{})
	return found
}

func now() time.Time { return time.Now().UTC() }

func required(name, value string) error {
	if value == "" {
		return apperr.Wrap(apperr.CodeInvalidArgument, name+" is required", nil)
	}
	return nil
}
