package game

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
)

// Loop is the per-frame driver. Each frame runs GameLoop_update followed by
// GameLoop_draw.
type Loop struct {
	hooks  *hooks.Registry
	exec   Executor
	log    *logging.Logger
	frames atomic.Uint64
}

func newLoop(r *hooks.Registry, exec Executor, log *logging.Logger) *Loop {
	return &Loop{hooks: r, exec: exec, log: log.Sub("loop")}
}

// Step advances one frame.
func (l *Loop) Step(ctx context.Context, dt time.Duration) {
	_ = l.hooks.Invoke(ctx, HookGameLoopUpdate, func() error {
		l.frames.Add(1)
		return nil
	}, dt)
	l.hooks.Dispatch(ctx, HookGameLoopDraw)
}

// Frames returns the number of frames stepped.
func (l *Loop) Frames() uint64 { return l.frames.Load() }

// Run steps the loop at fps frames per second until ctx is cancelled.
// Frames are posted to the executor; a frame still queued when the next
// tick fires is not doubled up.
func (l *Loop) Run(ctx context.Context, fps int) error {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	l.log.Info().Int("fps", fps).Msg("game loop started")
	var pending atomic.Bool
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Uint64("frames", l.Frames()).Msg("game loop stopped")
			return nil
		case now := <-ticker.C:
			if !pending.CompareAndSwap(false, true) {
				continue
			}
			dt := now.Sub(last)
			last = now
			l.exec.Post(func(ctx context.Context) {
				defer pending.Store(false)
				l.Step(ctx, dt)
			})
		}
	}
}
