package main

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/toolink/appbridge/blocker"
)

func newSetStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <bundle-id> <enabled>",
		Short: "Record whether a content blocker extension is enabled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid enabled value %q: %w", args[1], err)
			}
			if cfg.Store != blocker.StoreRedis {
				return fmt.Errorf("set-state needs the %s store, configured store is %s", blocker.StoreRedis, cfg.Store)
			}

			ctx := cmd.Context()
			client, err := newRedisClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			store, err := newStore(cfg, client)
			if err != nil {
				return err
			}
			if err := store.SetEnabled(ctx, args[0], enabled); err != nil {
				return err
			}
			log.Info().Str("bundle_id", args[0]).Bool("enabled", enabled).Msg("extension state recorded")
			return nil
		},
	}
}
