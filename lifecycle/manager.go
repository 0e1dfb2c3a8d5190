package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager loads components in registration order and shuts them down in
// reverse.
type Manager struct {
	mu         sync.Mutex
	components map[string]Component
	order      []string
	loaded     []string // successfully loaded, in load order
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		components: make(map[string]Component),
	}
}

// Register appends c to the load order.
func (m *Manager) Register(c Component) error {
	name := c.Name()
	if name == "" {
		return ErrEmptyName
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.components[name]; exists {
		log.Error().Str("component", name).Msg("attempted to register duplicate component")
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	m.components[name] = c
	m.order = append(m.order, name)
	log.Info().Str("component", name).Msg("component registered")
	return nil
}

// Get returns the component registered under name.
func (m *Manager) Get(name string) (Component, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[name]
	return c, ok
}

// Loaded returns the names of the loaded components in load order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loaded...)
}

// LoadAll loads every component. When one fails, the components loaded
// before it are shut down in reverse order and the load error is returned.
func (m *Manager) LoadAll() error {
	m.mu.Lock()
	if len(m.loaded) > 0 {
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	loaded := make([]Component, 0, len(order))
	for _, name := range order {
		c, ok := m.Get(name)
		if !ok {
			continue
		}

		start := time.Now()
		if err := c.Load(); err != nil {
			log.Error().Str("component", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to load component")
			m.rollback(loaded)
			return fmt.Errorf("lifecycle: load %s: %w", name, err)
		}
		loaded = append(loaded, c)
		m.mu.Lock()
		m.loaded = append(m.loaded, name)
		m.mu.Unlock()
		log.Info().Str("component", name).Dur("duration", time.Since(start)).Msg("component loaded")
	}
	return nil
}

// ShutdownAll shuts down every loaded component in reverse load order. All
// of them are attempted; failures are joined.
func (m *Manager) ShutdownAll() error {
	m.mu.Lock()
	names := m.loaded
	m.loaded = nil
	m.mu.Unlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		c, ok := m.Get(names[i])
		if !ok {
			continue
		}
		start := time.Now()
		if err := c.Shutdown(); err != nil {
			log.Error().Str("component", names[i]).Dur("duration", time.Since(start)).Err(err).Msg("failed to shut down component")
			errs = append(errs, fmt.Errorf("lifecycle: shutdown %s: %w", names[i], err))
			continue
		}
		log.Info().Str("component", names[i]).Dur("duration", time.Since(start)).Msg("component shut down")
	}

	if len(errs) > 0 {
		log.Warn().Int("error_count", len(errs)).Msg("shutdown completed with errors")
	}
	return errors.Join(errs...)
}

func (m *Manager) rollback(loaded []Component) {
	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		c := loaded[i]
		if err := c.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", c.Name(), err))
			continue
		}
		log.Warn().Str("component", c.Name()).Msg("rolled back component")
	}

	m.mu.Lock()
	m.loaded = nil
	m.mu.Unlock()

	if len(errs) > 0 {
		log.Error().Errs("rollback_errors", errs).Msg("errors occurred during load failure rollback")
	}
}
