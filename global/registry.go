package global

import (
	"sync/atomic"

	"github.com/toolink/appbridge/request"
)

var globalRegistry = &atomic.Value{}

// SetRegistry sets the main app's request registry.
func SetRegistry(r *request.Registry) {
	globalRegistry.Store(r)
}

// GetRegistry returns the main app's request registry, or nil before
// SetRegistry.
func GetRegistry() *request.Registry {
	r, _ := globalRegistry.Load().(*request.Registry)
	return r
}
