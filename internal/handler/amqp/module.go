package amqp

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewCommandHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(h *CommandHandler, router *message.Router, pub message.Publisher) error {
		return h.RegisterHandlers(router, pub)
	}),
	fx.Invoke(func(lc fx.Lifecycle, router *message.Router) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(startCtx context.Context) error {
				failed := make(chan error, 1)
				go func() { failed <- router.Run(ctx) }()

				select {
				case <-router.Running():
					return nil
				case err := <-failed:
					return err
				case <-startCtx.Done():
					return startCtx.Err()
				}
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
	}),
)
