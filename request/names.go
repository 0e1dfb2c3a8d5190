// Package request defines the well-known requests exchanged between the main
// app and its extensions, and the registry that dispatches them to handlers.
package request

import (
	"errors"
	"fmt"
)

// ProtocolVersion is bumped whenever a well-known name changes meaning.
// Independently built main app and extension binaries must agree on it.
const ProtocolVersion = 1

// Name identifies a kind of cross-process request. Names are shared
// constants; changing one breaks compatibility with already shipped binaries.
type Name string

const (
	// AllExtensionEnabledRequest asks the main app whether every content
	// blocker extension is enabled.
	AllExtensionEnabledRequest Name = "AllExtensionEnabledRequest"

	// AllExtensionEnabledTrue answers AllExtensionEnabledRequest: all enabled.
	AllExtensionEnabledTrue Name = "AllExtensionEnabledTrue"

	// AllExtensionEnabledFalse answers AllExtensionEnabledRequest: at least one
	// content blocker is turned off.
	AllExtensionEnabledFalse Name = "AllExtensionEnabledFalse"
)

var wellKnown = []Name{
	AllExtensionEnabledRequest,
	AllExtensionEnabledTrue,
	AllExtensionEnabledFalse,
}

var ErrUnknownName = errors.New("request: unknown request name")

// WellKnown returns every name of the current protocol version.
func WellKnown() []Name {
	return append([]Name(nil), wellKnown...)
}

// Known reports whether name belongs to the current protocol version.
func Known(name Name) bool {
	for _, n := range wellKnown {
		if n == name {
			return true
		}
	}
	return false
}

// Parse converts s to a well-known Name.
func Parse(s string) (Name, error) {
	name := Name(s)
	if err := name.Validate(); err != nil {
		return "", err
	}
	return name, nil
}

// Validate returns ErrUnknownName for names outside the protocol.
func (n Name) Validate() error {
	if !Known(n) {
		return fmt.Errorf("%w: %q (protocol v%d)", ErrUnknownName, string(n), ProtocolVersion)
	}
	return nil
}

func (n Name) String() string { return string(n) }
