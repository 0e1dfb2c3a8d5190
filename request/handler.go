package request

import (
	"context"
	"fmt"
	"time"
)

// Request is one delivered request, as seen by a handler.
type Request struct {
	Name       Name
	ID         string
	Namespace  string
	PostedAt   time.Time
	ReceivedAt time.Time
}

// Handler runs when a request it is registered for arrives. Handlers run on
// the delivery goroutine and should hand slow work off and return quickly.
// Handler values must be comparable, down to any interface fields they hold:
// identity decides whether a registration is a duplicate.
type Handler interface {
	HandleRequest(ctx context.Context, req Request) error
}

type funcHandler struct {
	fn func(ctx context.Context, req Request) error
}

func (h *funcHandler) HandleRequest(ctx context.Context, req Request) error {
	return h.fn(ctx, req)
}

// Func wraps fn in a Handler. Every call returns a new handler identity, so
// keep the returned value to unregister it later.
func Func(fn func(ctx context.Context, req Request) error) Handler {
	return &funcHandler{fn: fn}
}

// HandlerError reports a handler that failed or panicked. It never stops
// delivery to sibling handlers.
type HandlerError struct {
	Name      Name
	RequestID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("request: handler for %s (request %s) failed: %v", e.Name, e.RequestID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
