package cmd

import (
	"log/slog"

	"github.com/webitel/im-mqtt-chat/config"
	httpsrv "github.com/webitel/im-mqtt-chat/infra/server/http"
	"github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	amqpdi "github.com/webitel/im-mqtt-chat/internal/handler/amqp"
	"github.com/webitel/im-mqtt-chat/internal/handler/api"
	"github.com/webitel/im-mqtt-chat/internal/handler/poller"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideDialer,
			ProvideTransport,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			fl := &fxevent.SlogLogger{Logger: l}
			fl.UseLogLevel(slog.LevelDebug)
			return fl
		}),
		fx.Invoke(InstallTracer, WatchConfig),
		// [DECORATION_LAYER] root scope, so every consumer sees the audited services
		fx.Decorate(service.NewControlMiddleware, service.NewGroupMiddleware),
		registry.Module,
		service.Module,
		pubsub.Module,
		poller.Module,
		api.Module,
		httpsrv.Module,
	}

	// [COMMAND_BRIDGE] remote producers share the bus with the exporter
	if cfg.Export.Enabled {
		opts = append(opts, amqpdi.Module)
	}

	return fx.New(append(opts, extra...)...)
}
