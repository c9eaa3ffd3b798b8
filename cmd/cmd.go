package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-mqtt-chat/config"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/handler/console"
	"github.com/webitel/im-mqtt-chat/internal/handler/tui"
	"github.com/webitel/im-mqtt-chat/internal/service"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const (
	ServiceName      = "im-mqtt-chat"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Serverless direct and group chat over an MQTT broker",
		Commands: []*cli.Command{
			clientCmd(),
			dashboardCmd(),
			versionCmd(),
		},
	}

	return app.Run(os.Args)
}

// Options after the command name are parsed by the config flag set, so the
// same keys work as flags, IMCHAT_* variables and YAML.
func loadConfig(c *cli.Context) (*config.Config, error) {
	fs := config.Flags()
	if err := fs.Parse(c.Args().Slice()); err != nil {
		return nil, err
	}
	return config.LoadConfig(fs)
}

func clientCmd() *cli.Command {
	return &cli.Command{
		Name:            "client",
		Aliases:         []string{"c"},
		Usage:           "Connect to the broker and serve the local API",
		ArgsUsage:       "[--config file] [--broker.host host] [--console] ...",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var (
				transport service.Transport
				control   service.Controller
				group     service.Grouper
				deliverer service.Deliverer
				logger    *slog.Logger
			)
			app := NewApp(cfg, fx.Populate(&transport, &control, &group, &deliverer, &logger))
			if err := app.Start(c.Context); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			if cfg.Console {
				g.Go(func() error {
					defer stop() // quitting the console ends the process
					return console.New(transport.ClientID(), control, group, deliverer, os.Stdout, logger).Run(ctx, os.Stdin)
				})
			}
			g.Go(func() error {
				<-ctx.Done()
				return nil
			})
			runErr := g.Wait()

			logger.Info("SHUTTING_DOWN")
			return errors.Join(runErr, app.Stop(context.Background()))
		},
	}
}

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:            "dashboard",
		Aliases:         []string{"d"},
		Usage:           "Connect to the broker and watch the client in a terminal dashboard",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var (
				transport service.Transport
				group     service.Grouper
				deliverer service.Deliverer
				hub       registry.Hubber
			)
			// the terminal belongs to the dashboard
			cfg.Log.Level = "error"
			app := NewApp(cfg, fx.NopLogger, fx.Populate(&transport, &group, &deliverer, &hub))
			if err := app.Start(c.Context); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := tui.New(transport, group, hub, deliverer).Run(ctx)
			return errors.Join(runErr, app.Stop(context.Background()))
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "%s %s\ncommit %s (%s) on %s\nbuilt %s with %s\n",
				ServiceName, version, commit, branch, commitDate, buildTimestamp, runtime.Version())
			return nil
		},
	}
}
