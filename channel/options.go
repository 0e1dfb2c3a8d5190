package channel

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultQueueSize      = 64
	DefaultPublishTimeout = 500 * time.Millisecond
)

// Options holds configuration for a channel.
type Options struct {
	// QueueSize bounds the signals buffered per observation before new ones are dropped.
	QueueSize int
	// PublishTimeout bounds a Redis PUBLISH; a post that exceeds it is dropped.
	PublishTimeout time.Duration
	// RedisClient selects the Redis backend.
	RedisClient redis.UniversalClient
	// Directory selects the file backend rooted at the shared app-group container.
	Directory string
	// Hub is the in-process hub for the memory backend (default: DefaultHub()).
	Hub *Hub
}

// Option is a function type used to configure channels.
type Option func(*Options)

func newOptions(opts ...Option) *Options {
	o := &Options{
		QueueSize:      DefaultQueueSize,
		PublishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Hub == nil {
		o.Hub = DefaultHub()
	}
	return o
}

// WithQueueSize sets the per-observation buffer size.
func WithQueueSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithPublishTimeout sets the Redis publish timeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PublishTimeout = d
		}
	}
}

// WithRedisClient provides a Redis client for the Redis backend.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *Options) {
		o.RedisClient = client
	}
}

// WithDirectory provides the shared container directory for the file backend.
func WithDirectory(dir string) Option {
	return func(o *Options) {
		o.Directory = dir
	}
}

// WithHub binds a memory channel to hub instead of the default one.
func WithHub(hub *Hub) Option {
	return func(o *Options) {
		o.Hub = hub
	}
}
