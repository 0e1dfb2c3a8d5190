// Package blocker tracks whether the content blocker extensions of the app
// group are enabled and answers the all-enabled question for the main app.
package blocker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyBundleID = errors.New("blocker: bundle id cannot be empty")
	ErrUnknownStore  = errors.New("blocker: unknown store type")
)

// Store keeps the last reported state of each content blocker extension.
type Store interface {
	// SetEnabled records the state reported for bundleID.
	SetEnabled(ctx context.Context, bundleID string, enabled bool) error

	// Enabled returns the recorded state of bundleID. known is false when the
	// extension never reported.
	Enabled(ctx context.Context, bundleID string) (enabled bool, known bool, err error)

	// All returns every recorded state keyed by bundle id.
	All(ctx context.Context) (map[string]bool, error)
}

// NewStore picks a store by type. client is required for StoreRedis.
func NewStore(storeType string, client redis.Cmdable, namespace string) (Store, error) {
	switch storeType {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("blocker: redis store requires a client")
		}
		return NewRedisStore(client, namespace), nil
	default:
		return nil, fmt.Errorf("%w: %s, must be '%s' or '%s'", ErrUnknownStore, storeType, StoreMemory, StoreRedis)
	}
}
