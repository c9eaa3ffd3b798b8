package api

import (
	"log/slog"

	"github.com/webitel/im-mqtt-chat/config"
	httpsrv "github.com/webitel/im-mqtt-chat/infra/server/http"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("api-http",
	fx.Provide(
		func(
			cfg *config.Config,
			logger *slog.Logger,
			control service.Controller,
			group service.Grouper,
			deliverer service.Deliverer,
			hub registry.Hubber,
			transport service.Transport,
		) *Handler {
			return NewHandler(logger, control, group, deliverer, hub, transport, cfg.HTTP.LongPollTimeout)
		},
		func(cfg *config.Config, h *Handler, logger *slog.Logger) *httpsrv.Server {
			return httpsrv.New(cfg.HTTP.Addr, h.Routes(), logger)
		},
	),
)
