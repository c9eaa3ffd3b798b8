package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QoS is the MQTT delivery guarantee requested for a publish or subscription.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// ReconnectPolicy controls automatic recovery after an unexpected connection loss.
type ReconnectPolicy struct {
	Enabled  bool
	Interval time.Duration
}

// Will is the last-will message the broker publishes when the session dies
// without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Config describes how the client reaches the broker.
type Config struct {
	Host     string
	Port     int
	Path     string
	Protocol string // "tcp" or "ws"
	ClientID string
	Username string
	Password string

	UseSSL         bool
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Reconnect      ReconnectPolicy
	Will           *Will
}

// DefaultConfig mirrors the defaults every client starts from.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           1883,
		Path:           "/",
		Protocol:       "tcp",
		CleanSession:   true,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Reconnect: ReconnectPolicy{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
	}
}

// NewClientID generates the identifier used when none is configured.
func NewClientID() string {
	return "mqtt_client_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// BrokerURL renders the dial address for the configured protocol.
func (c Config) BrokerURL() string {
	switch c.Protocol {
	case "ws", "websocket":
		scheme := "ws"
		if c.UseSSL {
			scheme = "wss"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return fmt.Sprintf("%s://%s:%d%s", scheme, c.Host, c.Port, path)
	default:
		scheme := "tcp"
		if c.UseSSL {
			scheme = "ssl"
		}
		return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
	}
}
