package mqtt

import "context"

// Delivery is one inbound message as handed over by a session driver.
type Delivery struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// SessionHandlers are the callbacks a driver invokes for the lifetime of a session.
// OnMessage calls must be serialized by the driver.
type SessionHandlers struct {
	OnMessage        func(Delivery)
	OnConnectionLost func(error)
}

// Session is a live broker connection. All operations return immediately;
// done, when non-nil, is invoked once the broker acknowledged or refused them.
type Session interface {
	Subscribe(topic string, qos QoS, done func(error))
	Unsubscribe(topic string, done func(error))
	Publish(topic string, qos QoS, retained bool, payload []byte, done func(error))
	Close()
}

// Dialer opens sessions. Dial blocks until the broker accepted or refused the
// connection, or ctx expires.
type Dialer interface {
	Dial(ctx context.Context, cfg Config, h SessionHandlers) (Session, error)
}
