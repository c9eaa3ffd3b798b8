package poller

import (
	"context"
	"log/slog"

	"github.com/webitel/im-mqtt-chat/config"
	"github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("poller",
	fx.Provide(
		func(cfg *config.Config, hub registry.Hubber, d pubsub.EventDispatcher, logger *slog.Logger, c service.Controller, g service.Grouper) *Poller {
			if !cfg.Export.Enabled {
				d = nil
			}
			return New(hub, d, cfg.Service.PollInterval, logger, c, g)
		},
	),
	// [INIT_ORDER] appended after the services, so the first tick sees initialized queues
	fx.Invoke(func(lc fx.Lifecycle, p *Poller) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				p.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				p.Stop()
				return nil
			},
		})
	}),
)
