package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisPingTimeout      = 5 * time.Second
	redisSubscribeTimeout = 5 * time.Second
)

// RedisChannel implements Channel on Redis PUBLISH/SUBSCRIBE. A publish with
// no subscriber is discarded by Redis, which is exactly at-most-once delivery.
type RedisChannel struct {
	namespace string
	client    redis.UniversalClient
	opts      *Options
	observers *observerSet

	mu     sync.Mutex
	closed bool
	subs   map[Token]*redis.PubSub
	wg     sync.WaitGroup // listener goroutines
}

// NewRedisChannel creates a Redis-backed channel. The client is owned by the
// caller and is not closed by Close.
func NewRedisChannel(namespace string, client redis.UniversalClient, opts ...Option) (*RedisChannel, error) {
	return newRedisChannel(namespace, client, newOptions(opts...))
}

func newRedisChannel(namespace string, client redis.UniversalClient, o *Options) (*RedisChannel, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &ConfigurationError{Namespace: namespace, Reason: "redis client is required"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("failed to connect to redis")
		return nil, &ConfigurationError{Namespace: namespace, Reason: "redis is unavailable", Err: err}
	}

	log.Info().Str("namespace", namespace).Dur("publish_timeout", o.PublishTimeout).Msg("redis channel initialized")
	return &RedisChannel{
		namespace: namespace,
		client:    client,
		opts:      o,
		observers: newObserverSet(),
		subs:      make(map[Token]*redis.PubSub),
	}, nil
}

// Post publishes name. Errors and timeouts drop the signal.
func (c *RedisChannel) Post(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	sig := newSignal(c.namespace, name)
	payload, err := encodeSignal(sig)
	if err != nil {
		log.Error().Err(err).Str("signal", name).Msg("failed to marshal signal")
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()
	receivers, err := c.client.Publish(pctx, key(c.namespace, name), payload).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("namespace", c.namespace).Str("signal", name).Msg("signal dropped due to timeout during publish")
			return nil
		}
		log.Warn().Err(err).Str("namespace", c.namespace).Str("signal", name).Msg("signal dropped, publish failed")
		return nil
	}
	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("signal_id", sig.ID).Int64("receivers", receivers).Msg("signal published")
	return nil
}

// Observe subscribes to name and waits for Redis to confirm the subscription.
func (c *RedisChannel) Observe(name string, fn func(Signal)) (Token, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if fn == nil {
		return "", ErrNilCallback
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisSubscribeTimeout)
	defer cancel()
	ps := c.client.Subscribe(ctx, key(c.namespace, name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		log.Error().Err(err).Str("namespace", c.namespace).Str("signal", name).Msg("redis subscribe failed")
		return "", err
	}

	o := newObservation(name, fn, c.opts.QueueSize)
	c.observers.add(o)
	c.subs[o.token] = ps
	c.wg.Add(1)
	go c.listen(o, ps)

	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("token", string(o.token)).Msg("redis observation created")
	return o.token, nil
}

// listen moves messages from the Redis subscription into the observation queue.
// It returns when the subscription is closed.
func (c *RedisChannel) listen(o *observation, ps *redis.PubSub) {
	defer c.wg.Done()
	for msg := range ps.Channel() {
		sig, err := decodeSignal(c.namespace, o.name, []byte(msg.Payload))
		if err != nil {
			log.Error().Err(err).Str("namespace", c.namespace).Str("channel", msg.Channel).Msg("skipping malformed signal")
			continue
		}
		o.offer(sig)
	}
	log.Debug().Str("namespace", c.namespace).Str("token", string(o.token)).Msg("redis listener stopped")
}

// Cancel stops delivery for token and closes its subscription.
func (c *RedisChannel) Cancel(token Token) error {
	o, ok := c.observers.remove(token)
	if !ok {
		return nil
	}
	o.cancel()

	c.mu.Lock()
	ps := c.subs[token]
	delete(c.subs, token)
	c.mu.Unlock()

	if ps != nil {
		if err := ps.Close(); err != nil {
			log.Warn().Err(err).Str("token", string(token)).Msg("error closing redis subscription")
		}
	}
	log.Debug().Str("namespace", c.namespace).Str("signal", o.name).Str("token", string(token)).Msg("redis observation cancelled")
	return nil
}

// Namespace returns the app-group identifier.
func (c *RedisChannel) Namespace() string {
	return c.namespace
}

// Close stops every listener. The Redis client stays open.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[Token]*redis.PubSub)
	c.mu.Unlock()

	log.Info().Str("namespace", c.namespace).Msg("redis channel closing...")

	obs := c.observers.drain()
	for _, o := range obs {
		o.cancel()
	}
	for token, ps := range subs {
		if err := ps.Close(); err != nil {
			log.Warn().Err(err).Str("token", string(token)).Msg("error closing redis subscription")
		}
	}
	c.wg.Wait()
	for _, o := range obs {
		o.wait()
	}

	log.Info().Str("namespace", c.namespace).Msg("redis channel closed")
	return nil
}

var _ Channel = (*RedisChannel)(nil)
