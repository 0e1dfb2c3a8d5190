package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub connects memory channels living in the same process. Channels on one
// hub with the same namespace see each other's posts.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*MemoryChannel]struct{} // namespace -> channels
}

// NewHub creates an empty hub. Tests use a fresh hub per case.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*MemoryChannel]struct{}),
	}
}

var defaultHub = NewHub()

// DefaultHub returns the process-wide hub.
func DefaultHub() *Hub {
	return defaultHub
}

func (h *Hub) attach(c *MemoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.channels[c.namespace]
	if !ok {
		peers = make(map[*MemoryChannel]struct{})
		h.channels[c.namespace] = peers
	}
	peers[c] = struct{}{}
}

func (h *Hub) detach(c *MemoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.channels[c.namespace]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.channels, c.namespace)
		}
	}
}

func (h *Hub) peers(namespace string) []*MemoryChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := h.channels[namespace]
	out := make([]*MemoryChannel, 0, len(peers))
	for c := range peers {
		out = append(out, c)
	}
	return out
}

// MemoryChannel implements Channel with in-process fan-out through a Hub.
type MemoryChannel struct {
	namespace string
	hub       *Hub
	opts      *Options
	observers *observerSet

	mu     sync.RWMutex
	closed bool
}

// NewMemoryChannel creates a memory channel for namespace.
func NewMemoryChannel(namespace string, opts ...Option) (*MemoryChannel, error) {
	return newMemoryChannel(namespace, newOptions(opts...))
}

func newMemoryChannel(namespace string, o *Options) (*MemoryChannel, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	c := &MemoryChannel{
		namespace: namespace,
		hub:       o.Hub,
		opts:      o,
		observers: newObserverSet(),
	}
	c.hub.attach(c)
	return c, nil
}

// Post delivers name to every observer on every channel of the namespace.
func (c *MemoryChannel) Post(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	sig := newSignal(c.namespace, name)
	delivered := 0
	for _, peer := range c.hub.peers(c.namespace) {
		delivered += peer.deliver(sig)
	}
	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("signal_id", sig.ID).Int("observers", delivered).Msg("signal posted")
	return nil
}

func (c *MemoryChannel) deliver(sig Signal) int {
	if c.isClosed() {
		return 0
	}
	n := 0
	for _, o := range c.observers.forName(sig.Name) {
		if o.offer(sig) {
			n++
		}
	}
	return n
}

// Observe registers fn for name.
func (c *MemoryChannel) Observe(name string, fn func(Signal)) (Token, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if fn == nil {
		return "", ErrNilCallback
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", ErrClosed
	}
	o := newObservation(name, fn, c.opts.QueueSize)
	c.observers.add(o)
	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("token", string(o.token)).Msg("observation created")
	return o.token, nil
}

// Cancel stops delivery for token.
func (c *MemoryChannel) Cancel(token Token) error {
	o, ok := c.observers.remove(token)
	if !ok {
		return nil
	}
	o.cancel()
	log.Debug().Str("namespace", c.namespace).Str("signal", o.name).Str("token", string(token)).Msg("observation cancelled")
	return nil
}

// Namespace returns the app-group identifier.
func (c *MemoryChannel) Namespace() string {
	return c.namespace
}

// Close detaches the channel from its hub and stops every observation.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.detach(c)
	obs := c.observers.drain()
	for _, o := range obs {
		o.cancel()
	}
	for _, o := range obs {
		o.wait()
	}
	log.Debug().Str("namespace", c.namespace).Int("observations", len(obs)).Msg("memory channel closed")
	return nil
}

func (c *MemoryChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

var _ Channel = (*MemoryChannel)(nil)
