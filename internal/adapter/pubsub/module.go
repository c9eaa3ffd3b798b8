package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-mqtt-chat/config"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(cfg *config.Config, t service.Transport, logger watermill.LoggerAdapter) *Provider {
			return NewProvider(Config{
				Driver:      cfg.Export.Driver,
				URI:         cfg.Export.AMQPURI,
				Exchange:    cfg.Export.Exchange,
				QueueSuffix: t.ClientID(),
			}, logger)
		},
		func(lc fx.Lifecycle, p *Provider) (message.Publisher, error) {
			pub, err := p.Publisher()
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return pub.Close() },
			})
			return pub, nil
		},
		func(cfg *config.Config, pub message.Publisher, logger *slog.Logger) EventDispatcher {
			return NewEventDispatcher(pub, BreakerConfig{
				Failures: cfg.Export.Breaker.Failures,
				Timeout:  cfg.Export.Breaker.Timeout,
			}, logger)
		},
	),
)
