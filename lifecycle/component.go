// Package lifecycle starts and stops the main app's long-lived components
// in a fixed order.
package lifecycle

import "errors"

// Component is a part of the main app with a start and a stop step.
type Component interface {
	// Name is unique within a Manager.
	Name() string

	// Load starts the component. A failed Load leaves nothing to shut down.
	Load() error

	// Shutdown stops the component and releases what Load acquired.
	Shutdown() error
}

var (
	ErrAlreadyRegistered = errors.New("lifecycle: component name is already registered")
	ErrEmptyName         = errors.New("lifecycle: component name cannot be empty")
	ErrAlreadyLoaded     = errors.New("lifecycle: components are already loaded")
)

type funcComponent struct {
	name     string
	load     func() error
	shutdown func() error
}

func (c *funcComponent) Name() string { return c.name }

func (c *funcComponent) Load() error {
	if c.load == nil {
		return nil
	}
	return c.load()
}

func (c *funcComponent) Shutdown() error {
	if c.shutdown == nil {
		return nil
	}
	return c.shutdown()
}

// Func builds a Component from closures. Either closure may be nil.
func Func(name string, load, shutdown func() error) Component {
	return &funcComponent{name: name, load: load, shutdown: shutdown}
}
