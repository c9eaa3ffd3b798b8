package service

import (
	"context"
	"log/slog"

	"github.com/webitel/im-mqtt-chat/config"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Protocol services
		fx.Annotate(
			func(t Transport, logger *slog.Logger, cfg *config.Config) *ControlService {
				return NewControlService(t, logger, WithDedupSize(cfg.Service.DedupSize))
			},
			fx.As(new(Controller)),
		),
		fx.Annotate(
			func(t Transport, logger *slog.Logger, cfg *config.Config) *GroupService {
				return NewGroupService(t, logger, WithDedupSize(cfg.Service.DedupSize))
			},
			fx.As(new(Grouper)),
		),
		// Stream delivery
		fx.Annotate(
			func(hub registry.Hubber, cfg *config.Config) *DeliveryService {
				return NewDeliveryService(hub, cfg.Service.MailboxSize)
			},
			fx.As(new(Deliverer)),
		),
	),

	// [INIT_ORDER] control chains first, group second; the transport is
	// connected by an earlier hook.
	fx.Invoke(func(lc fx.Lifecycle, c Controller, g Grouper) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				c.Initialize()
				g.Initialize()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				c.SetStatusDisconnect()
				c.Close()
				return nil
			},
		})
	}),
)
