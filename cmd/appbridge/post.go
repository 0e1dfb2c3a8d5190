package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/toolink/appbridge/channel"
	"github.com/toolink/appbridge/config"
	"github.com/toolink/appbridge/request"
)

func newPostCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "post <name>",
		Short: "Post a request as an extension would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := request.Parse(args[0])
			if err != nil {
				return err
			}
			if cfg.Transport == config.TransportMemory {
				log.Warn().Msg("memory transport does not reach other processes")
			}

			ctx := cmd.Context()
			var client *redis.Client
			if cfg.Transport == config.TransportRedis {
				if client, err = newRedisClient(ctx, cfg); err != nil {
					return err
				}
				defer client.Close()
			}
			ch, err := newChannel(cfg, client)
			if err != nil {
				return err
			}
			defer ch.Close()

			answers := make(chan string, 2)
			if wait > 0 && name == request.AllExtensionEnabledRequest {
				for _, resp := range []request.Name{request.AllExtensionEnabledTrue, request.AllExtensionEnabledFalse} {
					if _, err := ch.Observe(resp.String(), func(sig channel.Signal) {
						select {
						case answers <- sig.Name:
						default:
						}
					}); err != nil {
						return err
					}
				}
			}

			if err := ch.Post(ctx, name.String()); err != nil {
				return err
			}
			log.Info().Str("request", name.String()).Str("app_group", cfg.AppGroup).Msg("request posted")
			if wait <= 0 || name != request.AllExtensionEnabledRequest {
				return nil
			}

			select {
			case answer := <-answers:
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			case <-time.After(wait):
				return fmt.Errorf("no answer from main app within %s", wait)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "wait this long for the main app's answer (0 to not wait)")
	return cmd
}
