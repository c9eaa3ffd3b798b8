package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/im-mqtt-chat/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(logger,
				WithEvictionInterval(cfg.Service.EvictionInterval),
				WithIdleTimeout(cfg.Service.IdleTimeout),
				WithMailboxSize(cfg.Service.MailboxSize),
			)
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Stop all cell goroutines
				return nil
			},
		})
	}),
)
