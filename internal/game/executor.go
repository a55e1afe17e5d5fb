package game

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopStopped is returned by Call once the event loop has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Executor runs host work one task at a time. Plugins are written for a
// single-threaded host, so every goroutine that ends up calling into plugin
// code (frame ticks, inbound frames, timers, gateway requests) posts through
// the engine's executor.
type Executor interface {
	// Post schedules fn and returns immediately.
	Post(fn func(ctx context.Context))
	// Call runs fn and waits for it to finish.
	Call(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inline runs every task immediately on the calling goroutine. It is the
// default for engines that are driven directly, as in tests.
type Inline struct{}

func (Inline) Post(fn func(ctx context.Context)) { fn(context.Background()) }

func (Inline) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type task struct {
	fn   func(ctx context.Context) error
	done chan error
}

// EventLoop serializes tasks onto the goroutine running Run.
type EventLoop struct {
	tasks chan task
	quit  chan struct{}
	once  sync.Once
}

// NewEventLoop creates a loop with the given task backlog.
func NewEventLoop(backlog int) *EventLoop {
	if backlog <= 0 {
		backlog = 256
	}
	return &EventLoop{
		tasks: make(chan task, backlog),
		quit:  make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.quit) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-l.tasks:
			err := t.fn(ctx)
			if t.done != nil {
				t.done <- err
			}
		}
	}
}

func (l *EventLoop) Post(fn func(ctx context.Context)) {
	select {
	case l.tasks <- task{fn: func(ctx context.Context) error { fn(ctx); return nil }}:
	case <-l.quit:
	}
}

func (l *EventLoop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	select {
	case l.tasks <- task{fn: fn, done: done}:
	case <-l.quit:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-l.quit:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
