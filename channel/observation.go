package channel

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// observation is one live Observe registration. It owns a bounded queue and
// the single goroutine that invokes the callback.
type observation struct {
	token Token
	name  string
	fn    func(Signal)
	queue chan Signal

	mu        sync.Mutex
	cancelled bool
	stopCh    chan struct{}
	done      chan struct{}

	// invoking is held by the dispatcher from the gate check until the
	// callback returns; running is set once the callback is entered.
	invoking sync.Mutex
	running  atomic.Bool
}

func newObservation(name string, fn func(Signal), queueSize int) *observation {
	o := &observation{
		token:  Token(uuid.NewString()),
		name:   name,
		fn:     fn,
		queue:  make(chan Signal, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

// offer queues sig without blocking. A full queue drops the signal.
func (o *observation) offer(sig Signal) bool {
	if !o.active() {
		return false
	}
	select {
	case o.queue <- sig:
		return true
	default:
		log.Warn().Str("token", string(o.token)).Str("signal", o.name).Str("signal_id", sig.ID).Int("queue_size", cap(o.queue)).Msg("observer queue full, dropping signal")
		return false
	}
}

func (o *observation) run() {
	defer close(o.done)
	for {
		select {
		case <-o.stopCh:
			return
		case sig := <-o.queue:
			o.dispatch(sig)
		}
	}
}

// dispatch invokes the callback unless the observation was cancelled.
func (o *observation) dispatch(sig Signal) {
	o.invoking.Lock()
	defer o.invoking.Unlock()
	if !o.active() {
		return
	}
	defer func() {
		o.running.Store(false)
		if r := recover(); r != nil {
			log.Error().Str("token", string(o.token)).Str("signal", o.name).Str("signal_id", sig.ID).Interface("panic_value", r).Msg("panic recovered in signal callback")
		}
	}()
	o.running.Store(true)
	o.fn(sig)
}

func (o *observation) active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.cancelled
}

// cancel closes the gate. It reports false if it was already closed.
//
// A dispatch caught between the gate and the callback is waited out. A
// callback that is already running is not waited for; it may be the caller.
func (o *observation) cancel() bool {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		return false
	}
	o.cancelled = true
	close(o.stopCh)
	o.mu.Unlock()

	if !o.running.Load() {
		o.invoking.Lock()
		o.invoking.Unlock()
	}
	return true
}

// wait blocks until the dispatcher goroutine has exited.
func (o *observation) wait() {
	<-o.done
}

// observerSet indexes observations by token and by name.
type observerSet struct {
	mu     sync.RWMutex
	tokens map[Token]*observation
	names  map[string]map[Token]*observation
}

func newObserverSet() *observerSet {
	return &observerSet{
		tokens: make(map[Token]*observation),
		names:  make(map[string]map[Token]*observation),
	}
}

func (s *observerSet) add(o *observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[o.token] = o
	byName, ok := s.names[o.name]
	if !ok {
		byName = make(map[Token]*observation)
		s.names[o.name] = byName
	}
	byName[o.token] = o
}

func (s *observerSet) remove(token Token) (*observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	delete(s.tokens, token)
	if byName, ok := s.names[o.name]; ok {
		delete(byName, token)
		if len(byName) == 0 {
			delete(s.names, o.name)
		}
	}
	return o, true
}

// forName returns a snapshot so callers can deliver without holding the lock.
func (s *observerSet) forName(name string) []*observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.names[name]
	out := make([]*observation, 0, len(byName))
	for _, o := range byName {
		out = append(out, o)
	}
	return out
}

func (s *observerSet) drain() []*observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*observation, 0, len(s.tokens))
	for _, o := range s.tokens {
		out = append(out, o)
	}
	s.tokens = make(map[Token]*observation)
	s.names = make(map[string]map[Token]*observation)
	return out
}
