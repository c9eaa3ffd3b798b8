package mqtt

import "log/slog"

// Option defines a functional configuration type for the Client.
type Option func(*Client)

// WithDialer swaps the session driver (paho by default).
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
