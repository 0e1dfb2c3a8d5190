package request

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/channel"
)

var (
	ErrEmptyName            = errors.New("request: name cannot be empty")
	ErrNilHandler           = errors.New("request: handler cannot be nil")
	ErrHandlerNotComparable = errors.New("request: handler must be comparable")
	ErrRegistryClosed       = errors.New("request: registry is closed")
)

// entry is the live state of one request name: its single channel
// observation and its handlers in registration order. ready is closed once
// the observation attempt finished; err holds its failure.
type entry struct {
	token    channel.Token
	handlers []Handler
	ready    chan struct{}
	err      error
}

// Registry maps request names to handlers and keeps exactly one channel
// observation per name, no matter how many handlers share it.
type Registry struct {
	ch          channel.Channel
	reportError func(*HandlerError)

	mu      sync.Mutex
	closed  bool
	entries map[Name]*entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithErrorReporter sets a callback that receives every handler failure in
// addition to the log. It runs on the delivery goroutine.
func WithErrorReporter(fn func(*HandlerError)) RegistryOption {
	return func(r *Registry) {
		r.reportError = fn
	}
}

// NewRegistry creates a registry that observes ch.
func NewRegistry(ch channel.Channel, opts ...RegistryOption) *Registry {
	r := &Registry{
		ch:      ch,
		entries: make(map[Name]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds h for name. Registering the same handler for the same name
// again is a no-op. The first handler for a name starts observing it; the
// channel is observed without holding the registry lock, and concurrent
// registrations for the same name wait for that first observation.
func (r *Registry) Register(name Name, h Handler) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}
	if !isComparable(h) {
		return fmt.Errorf("%w: %T", ErrHandlerNotComparable, h)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}

	if e, ok := r.entries[name]; ok {
		if e.indexOf(h) >= 0 {
			log.Debug().Str("request", string(name)).Msg("handler already registered")
		} else {
			e.handlers = append(e.handlers, h)
			log.Debug().Str("request", string(name)).Int("handlers", len(e.handlers)).Msg("handler registered")
		}
		r.mu.Unlock()
		<-e.ready
		return e.err
	}

	e := &entry{handlers: []Handler{h}, ready: make(chan struct{})}
	r.entries[name] = e
	r.mu.Unlock()

	token, err := r.ch.Observe(string(name), r.deliverFunc(name, e))

	r.mu.Lock()
	current := r.entries[name] == e
	switch {
	case err != nil:
		if current {
			delete(r.entries, name)
		}
		e.err = fmt.Errorf("request: observe %s: %w", name, err)
	case current:
		e.token = token
	case r.closed:
		e.err = ErrRegistryClosed
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("request", string(name)).Msg("failed to observe request")
		return e.err
	}
	if !current {
		// unregistered or closed while observing
		if cerr := r.ch.Cancel(token); cerr != nil {
			log.Error().Err(cerr).Str("request", string(name)).Msg("failed to cancel observation")
		}
		return e.err
	}
	log.Info().Str("request", string(name)).Str("namespace", r.ch.Namespace()).Msg("listening for request")
	return nil
}

// Unregister removes h for name. Removing the last handler stops observing
// the name. Unknown pairs are ignored.
func (r *Registry) Unregister(name Name, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if !isComparable(h) {
		return nil // could never have been registered
	}

	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	idx := e.indexOf(h)
	if idx < 0 {
		r.mu.Unlock()
		return nil
	}

	handlers := make([]Handler, 0, len(e.handlers)-1)
	handlers = append(handlers, e.handlers[:idx]...)
	handlers = append(handlers, e.handlers[idx+1:]...)
	e.handlers = handlers
	if len(e.handlers) > 0 {
		r.mu.Unlock()
		log.Debug().Str("request", string(name)).Int("handlers", len(e.handlers)).Msg("handler unregistered")
		return nil
	}
	delete(r.entries, name)
	token := e.token
	r.mu.Unlock()

	if token == "" {
		// still observing; the registering call cancels it
		return nil
	}
	if err := r.ch.Cancel(token); err != nil {
		log.Error().Err(err).Str("request", string(name)).Msg("failed to cancel observation")
		return fmt.Errorf("request: cancel %s: %w", name, err)
	}
	log.Info().Str("request", string(name)).Msg("stopped listening for request")
	return nil
}

// Handlers returns the number of handlers registered for name.
func (r *Registry) Handlers(name Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return len(e.handlers)
	}
	return 0
}

// Names returns the names with at least one handler.
func (r *Registry) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]Name, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Close cancels every observation. The channel itself stays open.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[Name]*entry)
	r.mu.Unlock()

	var errs []error
	for name, e := range entries {
		if e.token == "" {
			continue
		}
		if err := r.ch.Cancel(e.token); err != nil {
			errs = append(errs, fmt.Errorf("request: cancel %s: %w", name, err))
		}
	}
	log.Info().Int("error_count", len(errs)).Msg("request registry closed")
	return errors.Join(errs...)
}

func (r *Registry) deliverFunc(name Name, e *entry) func(channel.Signal) {
	return func(sig channel.Signal) {
		r.deliver(name, e, sig)
	}
}

// deliver invokes a snapshot of the handlers in registration order. Signals
// observed through an entry that is no longer current are dropped.
func (r *Registry) deliver(name Name, e *entry, sig channel.Signal) {
	r.mu.Lock()
	var handlers []Handler
	if r.entries[name] == e {
		handlers = e.handlers // replaced, never mutated in place
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	req := Request{
		Name:       name,
		ID:         sig.ID,
		Namespace:  sig.Namespace,
		PostedAt:   sig.PostedAt,
		ReceivedAt: time.Now().UTC(),
	}
	log.Debug().Str("request", string(name)).Str("request_id", req.ID).Int("handlers", len(handlers)).Msg("dispatching request")

	ctx := context.Background()
	for _, h := range handlers {
		if err := r.invoke(ctx, h, req); err != nil {
			r.report(&HandlerError{Name: name, RequestID: req.ID, Err: err})
		}
	}
}

func (r *Registry) invoke(ctx context.Context, h Handler, req Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.HandleRequest(ctx, req)
}

func (r *Registry) report(herr *HandlerError) {
	log.Error().Err(herr.Err).Str("request", string(herr.Name)).Str("request_id", herr.RequestID).Msg("request handler failed")
	if r.reportError != nil {
		r.reportError(herr)
	}
}

func (e *entry) indexOf(h Handler) int {
	for i, existing := range e.handlers {
		if existing == h {
			return i
		}
	}
	return -1
}

// isComparable reports whether h can be compared with ==. Struct handlers
// are checked field by field, so an interface field holding a slice fails.
func isComparable(h Handler) bool {
	return reflect.ValueOf(h).Comparable()
}
