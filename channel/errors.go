package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("channel: configuration error")
	ErrClosed        = errors.New("channel: channel is closed")
	ErrInvalidName   = errors.New("channel: invalid signal name")
	ErrNilCallback   = errors.New("channel: callback cannot be nil")
)

// ConfigurationError reports an unusable app-group namespace or transport.
// It is fatal at startup and is never retried.
type ConfigurationError struct {
	Namespace string
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("channel: namespace %q: %s", e.Namespace, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
