// Package instancelock keeps a single main app answering for an app group
// when the transport is shared between hosts.
package instancelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/channel"
)

const (
	// ComponentName is the lifecycle name of a Lock.
	ComponentName = "instance-lock"

	defaultTTL       = 10 * time.Second
	defaultOpTimeout = 2 * time.Second
	refreshesPerTTL  = 3
)

var (
	ErrHeld     = errors.New("instancelock: another main app holds the app group")
	ErrNotHeld  = errors.New("instancelock: lock is not held")
	ErrNoClient = errors.New("instancelock: redis client is required")
	ErrLost     = errors.New("instancelock: lease lost to another main app")
)

// releaseScript deletes the key only while it still holds our value.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the key only while it still holds our value.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a renewable Redis lease on one app group.
type Lock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	onLost func()

	mu    sync.Mutex
	value string
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Lock.
type Option func(*Lock)

// WithTTL sets the lease length. The lease is renewed three times per TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithOnLost sets a callback for a lease that could not be renewed.
func WithOnLost(fn func()) Option {
	return func(l *Lock) {
		l.onLost = fn
	}
}

// New creates a lock on namespace. Nothing is acquired until Acquire.
func New(client redis.Cmdable, namespace string, opts ...Option) (*Lock, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if err := channel.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	l := &Lock{
		client: client,
		key:    Key(namespace),
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key returns the Redis key guarding namespace.
func Key(namespace string) string {
	return fmt.Sprintf("%s:%s:main-app", channel.KeyPrefix, namespace)
}

// Acquire takes the lease or returns ErrHeld, then keeps renewing it until
// Release.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.value != "" {
		return nil
	}

	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("key", l.key).Msg("failed to acquire instance lock")
		return fmt.Errorf("instancelock: setnx %s: %w", l.key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		log.Warn().Str("key", l.key).Str("holder", holder).Msg("instance lock held by another main app")
		return ErrHeld
	}

	l.value = value
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.renew(value, l.stop, l.done)
	log.Info().Str("key", l.key).Str("value", value).Dur("ttl", l.ttl).Msg("instance lock acquired")
	return nil
}

// Held reports whether this instance believes it holds the lease.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value != ""
}

// Release stops renewing and deletes the lease if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	value, stop, done := l.value, l.stop, l.done
	l.value = ""
	l.mu.Unlock()
	if value == "" {
		return ErrNotHeld
	}

	close(stop)
	<-done

	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, value).Int64()
	if err != nil {
		log.Error().Err(err).Str("key", l.key).Msg("failed to release instance lock")
		return fmt.Errorf("instancelock: release %s: %w", l.key, err)
	}
	if res != 1 {
		log.Warn().Str("key", l.key).Msg("instance lock already expired or taken over")
		return ErrNotHeld
	}
	log.Info().Str("key", l.key).Msg("instance lock released")
	return nil
}

func (l *Lock) renew(value string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / refreshesPerTTL)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
		res, err := refreshScript.Run(ctx, l.client, []string{l.key}, value, l.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			// transient; the next tick retries while the lease lasts
			log.Warn().Err(err).Str("key", l.key).Msg("failed to renew instance lock")
			continue
		}
		if res == 1 {
			continue
		}

		log.Error().Str("key", l.key).Msg("instance lock lost")
		l.mu.Lock()
		if l.value == value {
			l.value = ""
		}
		l.mu.Unlock()
		if l.onLost != nil {
			l.onLost()
		}
		return
	}
}

func (l *Lock) Name() string { return ComponentName }

func (l *Lock) Load() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	return l.Acquire(ctx)
}

func (l *Lock) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	err := l.Release(ctx)
	if errors.Is(err, ErrNotHeld) {
		return nil
	}
	return err
}
