package blocker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var ErrNoBundles = errors.New("blocker: at least one content blocker bundle id is required")

// State is the outcome of one check.
type State struct {
	AllEnabled bool
	Enabled    []string
	Disabled   []string
}

// Checker decides whether every known content blocker extension is enabled.
type Checker struct {
	bundles []string
	store   Store
}

// NewChecker creates a checker for bundles. Duplicate ids are dropped.
func NewChecker(store Store, bundles ...string) (*Checker, error) {
	seen := make(map[string]struct{}, len(bundles))
	unique := make([]string, 0, len(bundles))
	for _, id := range bundles {
		if id == "" {
			return nil, ErrEmptyBundleID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, ErrNoBundles
	}
	return &Checker{bundles: unique, store: store}, nil
}

// Bundles returns the checked bundle ids in configuration order.
func (c *Checker) Bundles() []string {
	return append([]string(nil), c.bundles...)
}

// Check reads the store once. An extension that never reported counts as
// disabled.
func (c *Checker) Check(ctx context.Context) (State, error) {
	states, err := c.store.All(ctx)
	if err != nil {
		return State{}, fmt.Errorf("blocker: read extension states: %w", err)
	}

	var st State
	for _, id := range c.bundles {
		if states[id] {
			st.Enabled = append(st.Enabled, id)
		} else {
			st.Disabled = append(st.Disabled, id)
		}
	}
	st.AllEnabled = len(st.Disabled) == 0
	log.Debug().Bool("all_enabled", st.AllEnabled).Strs("disabled", st.Disabled).Msg("content blocker state checked")
	return st, nil
}
