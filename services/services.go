// Package services is the main app's side of the request bridge: it listens
// for requests posted by extensions and answers them.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/blocker"
	"github.com/toolink/appbridge/request"
)

// ComponentName is the lifecycle name of MainAppServices.
const ComponentName = "main-app-services"

// State is the listening state of MainAppServices.
type State int32

const (
	NotListening State = iota
	Listening
)

func (s State) String() string {
	switch s {
	case NotListening:
		return "not_listening"
	case Listening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Poster posts response signals. channel.Channel satisfies it.
type Poster interface {
	Post(ctx context.Context, name string) error
}

// Checker answers whether every content blocker extension is enabled.
// *blocker.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context) (blocker.State, error)
}

// MainAppServices registers the main app's request handlers and runs the
// responder that answers them.
type MainAppServices struct {
	registry *request.Registry
	poster   Poster
	checker  Checker
	opts     options

	allEnabled request.Handler
	trigger    chan struct{} // one slot; further requests coalesce

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New creates the services. Nothing is observed until
// StartListenerForRequestsToMainApp.
func New(registry *request.Registry, poster Poster, checker Checker, opts ...Option) *MainAppServices {
	s := &MainAppServices{
		registry: registry,
		poster:   poster,
		checker:  checker,
		opts:     newOptions(opts...),
		trigger:  make(chan struct{}, 1),
	}
	s.allEnabled = request.Func(s.handleAllExtensionEnabled)
	return s
}

// StartListenerForRequestsToMainApp registers the main app's handlers.
// Calling it again while listening changes nothing.
func (s *MainAppServices) StartListenerForRequestsToMainApp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Listening {
		// same handler identity as the first call, so this is a registry no-op
		if err := s.registry.Register(request.AllExtensionEnabledRequest, s.allEnabled); err != nil {
			return fmt.Errorf("services: start listener: %w", err)
		}
		log.Debug().Msg("listener for requests to main app already started")
		return nil
	}

	select {
	case <-s.trigger: // left over from a previous run
	default:
	}
	if err := s.registry.Register(request.AllExtensionEnabledRequest, s.allEnabled); err != nil {
		log.Error().Err(err).Msg("failed to start listener for requests to main app")
		return fmt.Errorf("services: start listener: %w", err)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.respond(s.stop, s.done)
	s.state = Listening
	log.Info().Str("request", request.AllExtensionEnabledRequest.String()).Msg("listener for requests to main app started")
	return nil
}

// StopListener unregisters the handlers and waits for the responder.
func (s *MainAppServices) StopListener() error {
	s.mu.Lock()
	if s.state == NotListening {
		s.mu.Unlock()
		return nil
	}
	err := s.registry.Unregister(request.AllExtensionEnabledRequest, s.allEnabled)
	stop, done := s.stop, s.done
	s.state = NotListening
	s.mu.Unlock()

	close(stop)
	<-done
	log.Info().Msg("listener for requests to main app stopped")
	if err != nil {
		return fmt.Errorf("services: stop listener: %w", err)
	}
	return nil
}

// State reports whether the listener is running.
func (s *MainAppServices) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *MainAppServices) Name() string    { return ComponentName }
func (s *MainAppServices) Load() error     { return s.StartListenerForRequestsToMainApp() }
func (s *MainAppServices) Shutdown() error { return s.StopListener() }

// handleAllExtensionEnabled runs on the delivery goroutine and only wakes
// the responder.
func (s *MainAppServices) handleAllExtensionEnabled(ctx context.Context, req request.Request) error {
	log.Debug().Str("request", req.Name.String()).Str("request_id", req.ID).Msg("request received")
	select {
	case s.trigger <- struct{}{}:
	default:
		log.Debug().Str("request_id", req.ID).Msg("response already pending, request coalesced")
	}
	return nil
}
