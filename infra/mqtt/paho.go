package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Interface guard
var _ Dialer = (*PahoDialer)(nil)

// PahoDialer opens sessions with the Eclipse Paho client.
// Paho's own reconnect logic stays disabled: the Client owns the reconnect policy.
type PahoDialer struct {
	TLS *tls.Config
}

func NewPahoDialer() *PahoDialer {
	return &PahoDialer{}
}

func (d *PahoDialer) Dial(ctx context.Context, cfg Config, h SessionHandlers) (Session, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetCleanSession(cfg.CleanSession).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		// [ORDERING] one message at a time, in broker order
		SetOrderMatters(true).
		SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
			if h.OnMessage != nil {
				h.OnMessage(Delivery{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if h.OnConnectionLost != nil {
				h.OnConnectionLost(err)
			}
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseSSL {
		tlsCfg := d.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if w := cfg.Will; w != nil {
		opts.SetBinaryWill(w.Topic, w.Payload, byte(w.QoS), w.Retained)
	}

	client := paho.NewClient(opts)
	tok := client.Connect()

	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}

	return &pahoSession{client: client, quiesce: 250 * time.Millisecond}, nil
}

type pahoSession struct {
	client  paho.Client
	quiesce time.Duration
}

func (s *pahoSession) Subscribe(topic string, qos QoS, done func(error)) {
	// nil callback: messages land in the default publish handler
	s.await(s.client.Subscribe(topic, byte(qos), nil), done)
}

func (s *pahoSession) Unsubscribe(topic string, done func(error)) {
	s.await(s.client.Unsubscribe(topic), done)
}

func (s *pahoSession) Publish(topic string, qos QoS, retained bool, payload []byte, done func(error)) {
	s.await(s.client.Publish(topic, byte(qos), retained, payload), done)
}

func (s *pahoSession) Close() {
	s.client.Disconnect(uint(s.quiesce.Milliseconds()))
}

// await reports the token outcome without blocking the caller.
func (s *pahoSession) await(tok paho.Token, done func(error)) {
	if done == nil {
		return
	}
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			done(fmt.Errorf("paho: %w", err))
			return
		}
		done(nil)
	}()
}
