package global

import (
	"sync/atomic"

	"github.com/toolink/appbridge/lifecycle"
)

func defaultLifecycleManager() *atomic.Value {
	v := &atomic.Value{}
	v.Store(lifecycle.New())
	return v
}

var globalLifecycleManager = defaultLifecycleManager()

// SetLifecycleManager sets the global lifecycle manager.
func SetLifecycleManager(m *lifecycle.Manager) {
	globalLifecycleManager.Store(m)
}

// GetLifecycleManager retrieves the current global lifecycle manager.
func GetLifecycleManager() *lifecycle.Manager {
	return globalLifecycleManager.Load().(*lifecycle.Manager)
}
