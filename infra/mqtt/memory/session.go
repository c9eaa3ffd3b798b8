package memory

import (
	"strings"
	"sync"

	"github.com/webitel/im-mqtt-chat/infra/mqtt"
)

// session delivers through its own goroutine, like a network connection would,
// so handlers may call back into the broker without deadlocking.
type session struct {
	broker   *Broker
	clientID string
	will     *mqtt.Will
	handlers mqtt.SessionHandlers

	mu      sync.Mutex
	filters map[string]struct{}
	pending []mqtt.Delivery
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newSession(b *Broker, clientID string, will *mqtt.Will, h mqtt.SessionHandlers) *session {
	s := &session{
		broker:   b,
		clientID: clientID,
		will:     will,
		handlers: h,
		filters:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *session) Subscribe(topic string, _ mqtt.QoS, done func(error)) {
	if s.isClosed() {
		ack(done, ErrSessionClosed)
		return
	}
	s.broker.subscribe(s, topic)
	ack(done, nil)
}

func (s *session) Unsubscribe(topic string, done func(error)) {
	s.mu.Lock()
	delete(s.filters, topic)
	s.mu.Unlock()
	ack(done, nil)
}

func (s *session) Publish(topic string, _ mqtt.QoS, retained bool, payload []byte, done func(error)) {
	if s.isClosed() {
		ack(done, ErrSessionClosed)
		return
	}
	s.broker.publish(topic, retained, payload)
	ack(done, nil)
}

func (s *session) Close() {
	s.broker.disconnect(s)
}

func (s *session) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for f := range s.filters {
		if Match(f, topic) {
			return true
		}
	}
	return false
}

func (s *session) enqueue(d mqtt.Delivery) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			if s.handlers.OnMessage != nil {
				s.handlers.OnMessage(d)
			}
		}
	}
}

func (s *session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func ack(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

// Match reports whether topic satisfies the MQTT filter, honouring the
// single-level '+' and multi-level '#' wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	// wildcards never match system topics
	if strings.HasPrefix(topic, "$") {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, seg := range f {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
