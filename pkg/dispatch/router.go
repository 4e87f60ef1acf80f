package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leadpilot/automation/pkg/protocol"
)

// ErrNoRoute indicates an action kind nobody delivers.
var ErrNoRoute = errors.New("no dispatcher for action kind")

// Router sends each request to the dispatcher registered for its kind, or to the fallback.
type Router struct {
	routes   map[protocol.ActionKind]protocol.ActionDispatcher
	fallback protocol.ActionDispatcher
}

func NewRouter(fallback protocol.ActionDispatcher) *Router {
	return &Router{
		routes:   make(map[protocol.ActionKind]protocol.ActionDispatcher),
		fallback: fallback,
	}
}

// Route registers dispatcher for kind and returns the router for chaining.
func (r *Router) Route(kind protocol.ActionKind, dispatcher protocol.ActionDispatcher) *Router {
	r.routes[kind] = dispatcher

	return r
}

func (r *Router) Dispatch(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	if dispatcher, ok := r.routes[req.Kind]; ok {
		return dispatcher.Dispatch(ctx, req)
	}

	if r.fallback != nil {
		return r.fallback.Dispatch(ctx, req)
	}

	return nil, protocol.Permanent(fmt.Errorf("%w: %s", ErrNoRoute, req.Kind))
}

// Recorder keeps every request in memory. It backs dry runs and tests.
type Recorder struct {
	mu       sync.Mutex
	requests []protocol.ActionRequest
	failures map[protocol.ActionKind][]error
}

func NewRecorder() *Recorder {
	return &Recorder{failures: make(map[protocol.ActionKind][]error)}
}

// FailNext makes the next calls for kind return errs, one per call, before succeeding again.
func (r *Recorder) FailNext(kind protocol.ActionKind, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[kind] = append(r.failures[kind], errs...)
}

func (r *Recorder) Dispatch(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pending := r.failures[req.Kind]; len(pending) > 0 {
		r.failures[req.Kind] = pending[1:]

		return nil, pending[0]
	}

	r.requests = append(r.requests, req)

	return map[string]any{"recorded": true}, nil
}

// Requests returns the successful requests in delivery order.
func (r *Recorder) Requests() []protocol.ActionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.ActionRequest(nil), r.requests...)
}

// Kinds returns the kinds of the successful requests in delivery order.
func (r *Recorder) Kinds() []protocol.ActionKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]protocol.ActionKind, 0, len(r.requests))
	for _, req := range r.requests {
		kinds = append(kinds, req.Kind)
	}

	return kinds
}
