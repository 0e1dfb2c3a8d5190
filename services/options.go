package services

import (
	"time"

	"github.com/toolink/appbridge/blocker"
)

// DefaultCheckTimeout bounds one check-and-respond round.
const DefaultCheckTimeout = 5 * time.Second

type options struct {
	debounce     time.Duration
	checkTimeout time.Duration
	onState      func(blocker.State)
}

// Option configures MainAppServices.
type Option func(*options)

func newOptions(opts ...Option) options {
	o := options{checkTimeout: DefaultCheckTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDebounce waits until requests have been quiet for d before
// answering, so a burst gets one response. Zero answers immediately.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.debounce = d
		}
	}
}

// WithCheckTimeout sets the deadline of one check-and-respond round.
func WithCheckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.checkTimeout = d
		}
	}
}

// WithStateObserver calls fn with every answered state, after the response
// is posted. fn runs on the responder goroutine.
func WithStateObserver(fn func(blocker.State)) Option {
	return func(o *options) {
		o.onState = fn
	}
}
