// Package channel carries named, payload-free signals between processes that
// share an app-group namespace.
//
// A signal posted with nobody observing is dropped. Delivery is best-effort and
// at-most-once; every observation receives its signals on its own dispatcher
// goroutine, in arrival order.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Signal is what an observer receives for every post of the observed name.
type Signal struct {
	Namespace string    `json:"-"`
	Name      string    `json:"-"`
	ID        string    `json:"id"`
	PostedAt  time.Time `json:"posted_at"`
}

// Token identifies one observation. It is returned by Observe and consumed by Cancel.
type Token string

// Channel defines a cross-process signal transport scoped to one namespace.
type Channel interface {
	// Post broadcasts name to every process observing it in the namespace.
	// It never blocks on observers and never reports transport failures;
	// such signals are logged and dropped. An error is returned only for an
	// invalid name or a closed channel.
	Post(ctx context.Context, name string) error

	// Observe registers fn to run for every post of name. fn runs on a
	// goroutine owned by the channel, never on the posting goroutine.
	Observe(name string, fn func(Signal)) (Token, error)

	// Cancel stops delivery for token. Once Cancel returns no new invocation
	// of the callback begins; one already running may finish. Cancelling an
	// unknown or cancelled token is a no-op.
	Cancel(token Token) error

	// Namespace returns the app-group identifier the channel is scoped to.
	Namespace() string

	// Close cancels every observation and releases the transport. It must not
	// be called from inside an observation callback.
	Close() error
}

// New creates a Channel for namespace.
// By default, it uses an in-process MemoryChannel on the default hub.
// Use WithRedisClient or WithDirectory to select a cross-process backend.
func New(namespace string, opts ...Option) (Channel, error) {
	o := newOptions(opts...)
	var (
		ch  Channel
		err error
	)
	switch {
	case o.RedisClient != nil:
		if o.Directory != "" {
			log.Warn().Str("namespace", namespace).Str("directory", o.Directory).Msg("both redis client and directory set, using redis")
		}
		log.Info().Str("namespace", namespace).Msg("initializing channel with redis backend")
		ch, err = newRedisChannel(namespace, o.RedisClient, o)
	case o.Directory != "":
		log.Info().Str("namespace", namespace).Str("directory", o.Directory).Msg("initializing channel with file backend")
		ch, err = newFileChannel(namespace, o.Directory, o)
	default:
		log.Info().Str("namespace", namespace).Msg("initializing channel with memory backend")
		ch, err = newMemoryChannel(namespace, o)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func newSignal(namespace, name string) Signal {
	return Signal{
		Namespace: namespace,
		Name:      name,
		ID:        uuid.NewString(),
		PostedAt:  time.Now().UTC(),
	}
}

func encodeSignal(sig Signal) ([]byte, error) {
	return json.Marshal(sig)
}

func decodeSignal(namespace, name string, data []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return Signal{}, fmt.Errorf("channel: malformed signal for %q: %w", name, err)
	}
	if sig.ID == "" {
		return Signal{}, fmt.Errorf("channel: signal for %q has no id", name)
	}
	sig.Namespace = namespace
	sig.Name = name
	return sig, nil
}
