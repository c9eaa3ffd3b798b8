// Package memory is an in-process broker with MQTT topic filters and retained
// messages. It backs the loopback driver and the test suites.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/webitel/im-mqtt-chat/infra/mqtt"
)

var (
	ErrBrokerDown        = errors.New("memory broker: unavailable")
	ErrDuplicateClientID = errors.New("memory broker: client id already connected")
	ErrSessionClosed     = errors.New("memory broker: session closed")
)

// Broker routes publishes to every session holding a matching subscription.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*session
	retained map[string][]byte
	down     bool
}

func NewBroker() *Broker {
	return &Broker{
		sessions: make(map[string]*session),
		retained: make(map[string][]byte),
	}
}

// Dialer returns a session driver bound to this broker.
func (b *Broker) Dialer() mqtt.Dialer { return dialer{b} }

// Retained returns the last retained payload of topic.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return append([]byte(nil), p...), ok
}

// SetDown makes new dials fail while down is true.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Drop severs the session of clientID as a network failure would: the will is
// published and the client is told its connection was lost.
func (b *Broker) Drop(clientID string) bool {
	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if ok {
		delete(b.sessions, clientID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	s.shutdown()
	if w := s.will; w != nil {
		b.publish(w.Topic, w.Retained, w.Payload)
	}
	if s.handlers.OnConnectionLost != nil {
		go s.handlers.OnConnectionLost(ErrSessionClosed)
	}
	return true
}

func (b *Broker) connect(cfg mqtt.Config, h mqtt.SessionHandlers) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrBrokerDown
	}
	if _, ok := b.sessions[cfg.ClientID]; ok {
		return nil, ErrDuplicateClientID
	}

	s := newSession(b, cfg.ClientID, cfg.Will, h)
	b.sessions[cfg.ClientID] = s
	return s, nil
}

func (b *Broker) disconnect(s *session) {
	b.mu.Lock()
	if cur, ok := b.sessions[s.clientID]; ok && cur == s {
		delete(b.sessions, s.clientID)
	}
	b.mu.Unlock()
	s.shutdown()
}

func (b *Broker) subscribe(s *session, filter string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s.mu.Lock()
	s.filters[filter] = struct{}{}
	s.mu.Unlock()

	// [RETAINED_REPLAY] late subscribers learn the last known value at once
	for topic, payload := range b.retained {
		if Match(filter, topic) {
			s.enqueue(mqtt.Delivery{Topic: topic, Payload: payload, Retained: true})
		}
	}
}

func (b *Broker) publish(topic string, retained bool, payload []byte) {
	payload = append([]byte(nil), payload...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if retained {
		// an empty retained payload clears the topic
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}

	for _, s := range b.sessions {
		if s.matches(topic) {
			s.enqueue(mqtt.Delivery{Topic: topic, Payload: payload})
		}
	}
}

type dialer struct{ b *Broker }

func (d dialer) Dial(ctx context.Context, cfg mqtt.Config, h mqtt.SessionHandlers) (mqtt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.b.connect(cfg, h)
}
