package cmd

import (
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/app"
	"github.com/pickemhq/sportsfeed/internal/config"
	"github.com/pickemhq/sportsfeed/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and admin API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return errors.Wrap(err, "load configuration")
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return errors.Wrap(err, "build logger")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			container, err := app.New(ctx, cfg, logger)
			if err != nil {
				return errors.Wrap(err, "initialize services")
			}
			defer container.Close()

			logger.Info("sportsfeed starting",
				zap.String("provider", cfg.Feed.Provider),
				zap.String("domain", cfg.Feed.Domain),
			)
			return container.Run(ctx)
		},
	}
}
