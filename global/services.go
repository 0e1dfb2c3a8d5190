// Package global holds the process-wide instances of the main app.
package global

import (
	"errors"
	"sync/atomic"

	"github.com/toolink/appbridge/services"
)

var ErrServicesNotConfigured = errors.New("global: main app services are not configured")

var globalServices = &atomic.Value{}

// SetServices sets the main app services.
func SetServices(s *services.MainAppServices) {
	globalServices.Store(s)
}

// GetServices returns the main app services, or nil before SetServices.
func GetServices() *services.MainAppServices {
	s, _ := globalServices.Load().(*services.MainAppServices)
	return s
}

// StartListenerForRequestsToMainApp starts the process-wide main app
// services listener. It is safe to call more than once.
func StartListenerForRequestsToMainApp() error {
	s := GetServices()
	if s == nil {
		return ErrServicesNotConfigured
	}
	return s.StartListenerForRequestsToMainApp()
}
