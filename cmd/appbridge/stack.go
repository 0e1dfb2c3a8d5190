package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/blocker"
	"github.com/toolink/appbridge/channel"
	"github.com/toolink/appbridge/config"
	"github.com/toolink/appbridge/global"
	"github.com/toolink/appbridge/instancelock"
	"github.com/toolink/appbridge/lifecycle"
	"github.com/toolink/appbridge/request"
	"github.com/toolink/appbridge/services"
)

func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Protocol: cfg.Redis.Protocol,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Int("db", cfg.Redis.DB).Msg("connected to redis")
	return client, nil
}

func newChannel(cfg *config.Config, client *redis.Client) (channel.Channel, error) {
	opts := []channel.Option{
		channel.WithQueueSize(cfg.QueueSize),
		channel.WithPublishTimeout(cfg.PublishTimeout),
	}
	switch cfg.Transport {
	case config.TransportRedis:
		opts = append(opts, channel.WithRedisClient(client))
	case config.TransportFile:
		opts = append(opts, channel.WithDirectory(cfg.Directory))
	}
	return channel.New(cfg.AppGroup, opts...)
}

func newStore(cfg *config.Config, client *redis.Client) (blocker.Store, error) {
	var cmdable redis.Cmdable
	if client != nil {
		cmdable = client
	}
	return blocker.NewStore(cfg.Store, cmdable, cfg.AppGroup)
}

// buildMainApp wires the main app and registers its components on the
// global lifecycle manager in start order. A lost instance lease stops the
// listener and calls stop with instancelock.ErrLost.
func buildMainApp(ctx context.Context, cfg *config.Config, stop context.CancelCauseFunc) (*lifecycle.Manager, error) {
	m := lifecycle.New()

	var client *redis.Client
	if cfg.RedisRequired() {
		var err error
		if client, err = newRedisClient(ctx, cfg); err != nil {
			return nil, err
		}
		if err := m.Register(lifecycle.Func("redis", nil, client.Close)); err != nil {
			return nil, err
		}
	}

	var svc *services.MainAppServices
	if cfg.Transport == config.TransportRedis && cfg.SingleInstance {
		onLost := func() {
			if err := svc.StopListener(); err != nil {
				log.Error().Err(err).Msg("failed to stop listener after losing instance lock")
			}
			if stop != nil {
				stop(instancelock.ErrLost)
			}
		}
		lock, err := instancelock.New(client, cfg.AppGroup, instancelock.WithTTL(cfg.LockTTL), instancelock.WithOnLost(onLost))
		if err != nil {
			return nil, err
		}
		if err := m.Register(lock); err != nil {
			return nil, err
		}
	}

	ch, err := newChannel(cfg, client)
	if err != nil {
		return nil, err
	}
	if err := m.Register(lifecycle.Func("channel", nil, ch.Close)); err != nil {
		return nil, err
	}

	store, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	checker, err := blocker.NewChecker(store, cfg.Extensions...)
	if err != nil {
		return nil, err
	}

	registry := request.NewRegistry(ch)
	if err := m.Register(lifecycle.Func("registry", nil, registry.Close)); err != nil {
		return nil, err
	}

	svc = services.New(registry, ch, checker, services.WithDebounce(cfg.Debounce))
	if err := m.Register(svc); err != nil {
		return nil, err
	}

	global.SetChannel(ch)
	global.SetRegistry(registry)
	global.SetServices(svc)
	global.SetLifecycleManager(m)
	return m, nil
}
