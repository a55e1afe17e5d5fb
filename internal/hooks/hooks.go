// Package hooks is the dispatch registry between host subsystems and plugins.
// A host subsystem runs its own behavior and then hands the call to the
// registry, which fans it out to every interested plugin in registration
// order.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/soyeahso/loadstone/internal/logging"
)

// Call carries one intercepted host call to handlers.
type Call struct {
	Hook string
	Args []any
}

// Arg returns the i-th argument or nil.
func (c Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Handler handles a hook call. Returning an error logs the failure but does
// not stop processing.
type Handler func(ctx context.Context, c Call) error

// Binder extracts a handler for one hook from a plugin value, typically by
// asserting a typed interface. ok is false when the plugin does not provide it.
type Binder func(target any) (h Handler, ok bool)

// Provider is an optional interface for plugins that expose hooks by name
// rather than through typed interfaces.
type Provider interface {
	Hooks() map[string]Handler
}

// Gate reports whether an owner currently receives dispatch.
type Gate func(owner string) bool

// Stats counts dispatch activity since the registry was created.
type Stats struct {
	Invocations int64 `json:"invocations"`
	Delivered   int64 `json:"delivered"`
	Failures    int64 `json:"failures"`
}

// Registry maps hook names to ordered handler lists.
type Registry struct {
	mu        sync.RWMutex
	binders   map[string]Binder
	hookOrder []string
	observers map[string][]namedHandler
	subs      map[string][]namedHandler
	owners    map[string]bool
	gate      Gate
	log       *logging.Logger

	invocations atomic.Int64
	delivered   atomic.Int64
	failures    atomic.Int64
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewRegistry creates an empty registry. Until SetGate is called every
// subscribed owner receives dispatch.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		binders:   make(map[string]Binder),
		observers: make(map[string][]namedHandler),
		subs:      make(map[string][]namedHandler),
		owners:    make(map[string]bool),
		log:       log.Sub("hooks"),
	}
}

// Define declares a hook point. Defining an existing hook is a no-op and
// returns false, so a point is never bound twice.
func (r *Registry) Define(hook string, b Binder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.binders[hook]; exists {
		return false
	}
	r.binders[hook] = b
	r.hookOrder = append(r.hookOrder, hook)
	r.log.Debug().Str("hook", hook).Msg("hook point defined")
	return true
}

// Hooks returns the defined hook names in definition order.
func (r *Registry) Hooks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.hookOrder))
	copy(out, r.hookOrder)
	return out
}

// SetGate installs the predicate consulted before each plugin delivery.
func (r *Registry) SetGate(g Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = g
}

// On registers an ungated host observer. Observers run before plugin
// subscriptions, in the order they were added.
func (r *Registry) On(hook, name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[hook] = append(r.observers[hook], namedHandler{name: name, handler: handler})
	r.log.Debug().Str("hook", hook).Str("observer", name).Msg("observer registered")
}

// Off removes all observers with the given name from the hook.
func (r *Registry) Off(hook, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[hook] = without(r.observers[hook], name)
}

// Subscribe discovers every hook target provides and appends the owner to
// each hook's dispatch list. Subscribing an owner twice is a no-op. It
// returns the subscribed hook names.
func (r *Registry) Subscribe(owner string, target any) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[owner] {
		return nil
	}
	r.owners[owner] = true

	bound := make(map[string]Handler)
	for _, hook := range r.hookOrder {
		if h, ok := r.binders[hook](target); ok {
			bound[hook] = h
		}
	}
	if p, ok := target.(Provider); ok {
		for hook, h := range p.Hooks() {
			if h == nil {
				continue
			}
			if _, taken := bound[hook]; !taken {
				bound[hook] = h
			}
		}
	}

	// Defined hooks keep definition order; hooks only a provider names
	// follow, sorted.
	var names []string
	for _, hook := range r.hookOrder {
		if _, ok := bound[hook]; ok {
			names = append(names, hook)
		}
	}
	var extra []string
	for _, hook := range slices.Sorted(maps.Keys(bound)) {
		if _, defined := r.binders[hook]; !defined {
			extra = append(extra, hook)
		}
	}
	names = append(names, extra...)

	for _, hook := range names {
		r.subs[hook] = append(r.subs[hook], namedHandler{name: owner, handler: bound[hook]})
	}
	r.log.Debug().Str("owner", owner).Strs("hooks", names).Msg("plugin subscribed")
	return names
}

// Unsubscribe removes every subscription held by owner.
func (r *Registry) Unsubscribe(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.owners[owner] {
		return
	}
	delete(r.owners, owner)
	for hook, hs := range r.subs {
		r.subs[hook] = without(hs, owner)
	}
}

// Subscribers returns the owners subscribed to hook, in dispatch order.
func (r *Registry) Subscribers(hook string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs[hook]))
	for _, h := range r.subs[hook] {
		out = append(out, h.name)
	}
	return out
}

// Count returns the number of observers and subscriptions for a hook.
func (r *Registry) Count(hook string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers[hook]) + len(r.subs[hook])
}

// Stats returns dispatch counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Invocations: r.invocations.Load(),
		Delivered:   r.delivered.Load(),
		Failures:    r.failures.Load(),
	}
}

// Invoke runs original and, if it succeeds, dispatches the hook with args.
// An error or panic from original propagates and suppresses dispatch;
// handler failures never reach the caller.
func (r *Registry) Invoke(ctx context.Context, hook string, original func() error, args ...any) error {
	if original != nil {
		if err := original(); err != nil {
			return err
		}
	}
	r.Dispatch(ctx, hook, args...)
	return nil
}

// Wrap is Invoke for originals that return a value. The value reaches the
// caller unchanged regardless of what handlers do.
func Wrap[T any](ctx context.Context, r *Registry, hook string, original func() (T, error), args ...any) (T, error) {
	v, err := original()
	if err != nil {
		return v, err
	}
	r.Dispatch(ctx, hook, args...)
	return v, nil
}

// Dispatch calls observers, then every gated-in subscriber, synchronously
// and in registration order. Errors and panics are logged per handler and
// do not prevent subsequent handlers from running.
func (r *Registry) Dispatch(ctx context.Context, hook string, args ...any) {
	r.mu.RLock()
	observers := make([]namedHandler, len(r.observers[hook]))
	copy(observers, r.observers[hook])
	subs := make([]namedHandler, len(r.subs[hook]))
	copy(subs, r.subs[hook])
	gate := r.gate
	r.mu.RUnlock()

	r.invocations.Add(1)
	if len(observers) == 0 && len(subs) == 0 {
		return
	}

	call := Call{Hook: hook, Args: args}

	for _, h := range observers {
		if err := safeCall(ctx, h.handler, call); err != nil {
			r.failures.Add(1)
			r.log.Warn().
				Err(err).
				Str("hook", hook).
				Str("observer", h.name).
				Msg("hook observer error")
		}
	}

	for _, h := range subs {
		// Checked per delivery: an earlier handler may have disabled a later plugin.
		if gate != nil && !gate(h.name) {
			continue
		}
		r.delivered.Add(1)
		if err := safeCall(ctx, h.handler, call); err != nil {
			r.failures.Add(1)
			r.log.Warn().
				Err(err).
				Str("hook", hook).
				Str("plugin", h.name).
				Msg("plugin hook error")
		}
	}
}

// safeCall runs a handler, converting a panic into an error.
func safeCall(ctx context.Context, h Handler, c Call) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return h(ctx, c)
}

func without(hs []namedHandler, name string) []namedHandler {
	filtered := make([]namedHandler, 0, len(hs))
	for _, h := range hs {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	return filtered
}
