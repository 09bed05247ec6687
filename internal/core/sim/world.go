// Package sim bundles the scheduler and the collision group into a World and
// runs the two-phase frame loop: behaviors move things in the update phase,
// then a single collision task sweeps and dispatches in the late phase.
package sim

import (
	"context"
	"sync"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/collision"
	"github.com/zeusync/simkernel/internal/core/entity"
	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/nursery"
	"github.com/zeusync/simkernel/internal/core/observability/log"
)

// EventFrame is published after every frame's collision pass with the
// frame's Snapshot as data.
const EventFrame = "sim.frame"

type World struct {
	logger log.Log
	bus    bus.EventBus
	sched  *nursery.Scheduler
	group  *collision.Group

	scope   *nursery.Scope
	pending []spawn
	onFrame []func(Snapshot)

	mu   sync.RWMutex
	last Snapshot
}

type spawn struct {
	name string
	b    nursery.Behavior
}

type Option func(*World)

func WithLogger(l log.Log) Option {
	return func(w *World) { w.logger = l }
}

func WithEventBus(b bus.EventBus) Option {
	return func(w *World) { w.bus = b }
}

func New(opts ...Option) *World {
	w := &World{logger: log.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	schedOpts := []nursery.Option{nursery.WithLogger(w.logger)}
	groupOpts := []collision.Option{collision.WithLogger(w.logger)}
	if w.bus != nil {
		schedOpts = append(schedOpts, nursery.WithEventBus(w.bus))
		groupOpts = append(groupOpts, collision.WithEventBus(w.bus))
	}
	w.sched = nursery.New(schedOpts...)
	w.group = collision.New(groupOpts...)
	w.logger = w.logger.With(log.String("component", "sim"))
	return w
}

func (w *World) Scheduler() *nursery.Scheduler { return w.sched }
func (w *World) Group() *collision.Group       { return w.group }
func (w *World) Bus() bus.EventBus             { return w.bus }

// OnFrame registers fn to run on the scheduler after each frame's collision
// pass.
func (w *World) OnFrame(fn func(Snapshot)) {
	w.onFrame = append(w.onFrame, fn)
}

// Spawn starts b as a top-level behavior of the world. Before Run it is
// queued and started when Run begins.
func (w *World) Spawn(name string, b nursery.Behavior) {
	if w.scope != nil && !w.scope.Done() {
		w.scope.Spawn(name, b)
		return
	}
	w.pending = append(w.pending, spawn{name: name, b: b})
}

// Live spawns a behavior that keeps e tracked under tag while behaviors run.
func (w *World) Live(e *entity.Entity, tag collision.Tag, behaviors ...nursery.Behavior) {
	w.Spawn(e.Name, func(t *nursery.Task) error {
		return entity.Live(t, w.group, e, tag, behaviors...)
	})
}

// Run steps frames from src. With a non-nil main the world ends when main
// returns, cancelling everything else still running; otherwise it runs
// until ctx is done or src is exhausted.
func (w *World) Run(ctx context.Context, src clock.Source, main nursery.Behavior) error {
	w.group.Seal()
	w.logger.Info("world started", log.Int("spawned", len(w.pending)))

	err := w.sched.Run(ctx, src, func(t *nursery.Task) error {
		return t.Nursery(func(sc *nursery.Scope) error {
			w.scope = sc
			sc.Spawn("collisions", w.collide)
			for _, p := range w.pending {
				sc.Spawn(p.name, p.b)
			}
			w.pending = nil
			if main != nil {
				sc.Spawn("main", func(t *nursery.Task) error {
					defer sc.Cancel()
					return main(t)
				})
			}
			return nil
		})
	})

	st := w.sched.Stats()
	fields := []log.Field{log.Uint64("frames", st.Frame), log.Float64("time", st.Now)}
	if err != nil && !nursery.IsCancelled(err) {
		w.logger.Warn("world stopped", append(fields, log.Error(err))...)
	} else {
		w.logger.Info("world stopped", fields...)
	}
	return err
}

// collide is the collision-processing task. It waits for the late phase so
// every update-phase behavior has already moved this frame.
func (w *World) collide(t *nursery.Task) error {
	for {
		if _, err := t.LateFrame(); err != nil {
			return err
		}
		n := w.group.ProcessCollisions()
		snap := w.snapshot()
		if n > 0 {
			w.logger.Debug("collisions dispatched",
				log.Uint64("frame", snap.Frame), log.Int("handlers", n))
		}

		w.mu.Lock()
		w.last = snap
		w.mu.Unlock()

		for _, fn := range w.onFrame {
			fn(snap)
		}
		if w.bus != nil {
			if err := w.bus.Publish(bus.NewEvent(EventFrame, "sim", snap)); err != nil {
				w.logger.Warn("frame event handler failed", log.Error(err))
			}
		}
	}
}

// Snapshot returns the state captured after the latest frame. It is safe to
// call from any goroutine.
func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}
