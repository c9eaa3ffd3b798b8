package cmd

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-mqtt-chat/config"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// ProvideLogger builds the process logger. The returned LevelVar is what the
// config watcher flips on a reload.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	// [OTEL_BRIDGE] records also flow to the global LoggerProvider
	if cfg.Log.Otel {
		handler = fanout{handler, otelslog.NewHandler(ServiceName)}
	}

	logger := slog.New(handler).With("service", ServiceName)
	slog.SetDefault(logger)
	return logger, level
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// InstallTracer registers the SDK tracer provider used by the exporter spans.
func InstallTracer(lc fx.Lifecycle, cfg *config.Config) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Trace.Enabled {
		return nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Trace.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return nil
}

// WatchConfig applies log level edits of the config file without a restart.
func WatchConfig(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) {
	cfg.OnChange(func(next *config.Config) {
		lvl := parseLevel(next.Log.Level)
		if lvl != level.Level() {
			level.Set(lvl)
			logger.Info("LOG_LEVEL_RELOADED", "level", lvl.String())
		}
	}, func(err error) {
		logger.Warn("CONFIG_RELOAD_FAILED", "file", cfg.File(), "err", err)
	})
}

func ProvideDialer(cfg *config.Config) mqtt.Dialer {
	if cfg.Broker.Driver == "memory" {
		return memory.NewBroker().Dialer()
	}
	d := mqtt.NewPahoDialer()
	if cfg.Broker.UseSSL {
		d.TLS = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Broker.Host}
	}
	return d
}

// ProvideTransport builds the single broker client of the process. The user id
// is fixed here because the last will must name it before the first dial.
func ProvideTransport(lc fx.Lifecycle, cfg *config.Config, dialer mqtt.Dialer, logger *slog.Logger) (*mqtt.Client, service.Transport) {
	b := cfg.Broker
	clientID := b.ClientID
	if clientID == "" {
		clientID = mqtt.NewClientID()
	}

	client := mqtt.NewClient(mqtt.Config{
		Host:           b.Host,
		Port:           b.Port,
		Path:           b.Path,
		Protocol:       b.Protocol,
		ClientID:       clientID,
		Username:       b.Username,
		Password:       b.Password,
		UseSSL:         b.UseSSL,
		CleanSession:   b.CleanSession,
		KeepAlive:      b.KeepAlive,
		ConnectTimeout: b.ConnectTimeout,
		Reconnect: mqtt.ReconnectPolicy{
			Enabled:  b.Reconnect.Enabled,
			Interval: b.Reconnect.Interval,
		},
		Will: service.OfflineWill(clientID),
	}, mqtt.WithDialer(dialer), mqtt.WithLogger(logger))

	// [LIFECYCLE] connect before the services initialize, disconnect after they said goodbye
	lc.Append(fx.Hook{
		OnStart: client.Connect,
		OnStop: func(context.Context) error {
			client.Disconnect()
			return nil
		},
	})
	return client, client
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout hands every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
