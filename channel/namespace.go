package channel

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefix prefixes every transport key. The version segment changes
	// only when the wire format of a signal changes.
	KeyPrefix = "appbridge:v1"

	maxNamespaceLen = 255
)

// ValidateNamespace checks an app-group identifier such as
// "group.com.adguard.safari". Labels are separated by dots and hold ASCII
// letters, digits and inner hyphens.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return &ConfigurationError{Namespace: namespace, Reason: "app group identifier is empty"}
	}
	if len(namespace) > maxNamespaceLen {
		return &ConfigurationError{Namespace: namespace, Reason: fmt.Sprintf("app group identifier longer than %d characters", maxNamespaceLen)}
	}
	for _, label := range strings.Split(namespace, ".") {
		if label == "" {
			return &ConfigurationError{Namespace: namespace, Reason: "app group identifier has an empty label"}
		}
		for _, r := range label {
			if !isAlnum(r) && r != '-' {
				return &ConfigurationError{Namespace: namespace, Reason: fmt.Sprintf("app group identifier contains %q", r)}
			}
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return &ConfigurationError{Namespace: namespace, Reason: "app group label starts or ends with a hyphen"}
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\: \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// key returns the transport key of name within namespace.
func key(namespace, name string) string {
	return KeyPrefix + ":" + namespace + ":" + name
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
