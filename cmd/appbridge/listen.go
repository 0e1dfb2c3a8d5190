package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/toolink/appbridge/global"
	"github.com/toolink/appbridge/instancelock"
)

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the main app side and answer extension requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := context.WithCancelCause(cmd.Context())
			defer stop(nil)
			m, err := buildMainApp(ctx, cfg, stop)
			if err != nil {
				return err
			}
			if err := m.LoadAll(); err != nil {
				return err
			}
			// no-op after LoadAll started the services component
			if err := global.StartListenerForRequestsToMainApp(); err != nil {
				_ = m.ShutdownAll()
				return err
			}

			log.Info().Str("app_group", cfg.AppGroup).Str("transport", cfg.Transport).Msg("main app listening")
			<-ctx.Done()
			log.Info().Msg("shutting down")
			err = m.ShutdownAll()
			if cause := context.Cause(ctx); errors.Is(cause, instancelock.ErrLost) {
				return errors.Join(cause, err)
			}
			return err
		},
	}
}
