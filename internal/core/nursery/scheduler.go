// Package nursery implements structured concurrency for entity behaviors.
//
// Every task runs on its own goroutine, but control is handed over strictly:
// exactly one task (or the driver calling Step) executes at any instant, and
// a task only gives up control at a suspension point (Frame, LateFrame, Sleep,
// Wait, WaitSignal, Await). State shared between tasks therefore needs no
// locking as long as it is only touched from tasks or from the driver.
//
// Ready tasks are resumed in FIFO order: tasks woken earlier run earlier, and
// freshly spawned tasks start in spawn order.
//
// Each frame has two phases. During the update phase every task waiting in
// Frame (and every expired Sleep) runs until its next suspension point. Only
// then does the late phase resume tasks waiting in LateFrame. Collision
// processing lives in the late phase so it always sees this frame's positions.
package nursery

import (
	"context"
	"slices"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/pkg/sequence"
)

// Event types published on the optional bus.
const (
	EventTaskFailed     = "nursery.task_failed"
	EventScopeCancelled = "nursery.scope_cancelled"
)

// Phase is the part of the frame the scheduler is executing.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseTimers
	PhaseUpdate
	PhaseLate
)

func (p Phase) String() string {
	switch p {
	case PhaseTimers:
		return "timers"
	case PhaseUpdate:
		return "update"
	case PhaseLate:
		return "late"
	default:
		return "idle"
	}
}

// wake is the message a parked task receives when it is resumed.
type wake struct {
	dt        float64
	value     any
	err       error
	cancelled bool
}

type waiter struct {
	task  *Task
	token uint64
}

type ready struct {
	waiter
	msg wake
}

type timer struct {
	at    float64
	seq   uint64
	task  waiter
	scope *Scope
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Frame     uint64
	Now       float64
	LiveTasks int
	Switches  uint64
	Timers    int
	Roots     int
}

type Scheduler struct {
	logger log.Log
	bus    bus.EventBus

	current *Task
	phase   Phase

	runq         []ready
	frameWaiters []waiter
	lateWaiters  []waiter
	timers       *sequence.Heap[timer]
	timerSeq     uint64
	beforeLate   []func()

	roots []*Scope

	frame     uint64
	now       float64
	dt        float64
	switches  uint64
	liveTasks int
}

type Option func(*Scheduler)

func WithLogger(l log.Log) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithEventBus(b bus.EventBus) Option {
	return func(s *Scheduler) { s.bus = b }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: log.NewNop(),
		timers: sequence.NewHeap(func(a, b timer) bool {
			if a.at != b.at {
				return a.at < b.at
			}
			return a.seq < b.seq
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.String("component", "nursery"))
	return s
}

// OpenScope creates a task tree node. A nil parent makes a root scope.
func (s *Scheduler) OpenScope(parent *Scope) *Scope {
	return s.openScope("scope", parent, nil)
}

// OpenNamedScope is OpenScope with a name used in logs and events.
func (s *Scheduler) OpenNamedScope(name string, parent *Scope) *Scope {
	return s.openScope(name, parent, nil)
}

// BeforeLate registers fn to run on the driver between the update and late
// phases of every frame.
func (s *Scheduler) BeforeLate(fn func()) {
	s.beforeLate = append(s.beforeLate, fn)
}

// Now is the simulated time in seconds.
func (s *Scheduler) Now() float64 { return s.now }

// Frame is the number of completed or in-progress frames.
func (s *Scheduler) Frame() uint64 { return s.frame }

// Phase reports what the scheduler is currently running.
func (s *Scheduler) Phase() Phase { return s.phase }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Frame:     s.frame,
		Now:       s.now,
		LiveTasks: s.liveTasks,
		Switches:  s.switches,
		Timers:    s.liveTimers(),
		Roots:     len(s.roots),
	}
}

// Drain runs every ready task until all of them are suspended again. It is
// how tasks spawned outside a frame get to their first suspension point.
func (s *Scheduler) Drain() error {
	if s.current != nil {
		return ErrNotDriver
	}
	s.drain()
	return nil
}

// Step advances the simulation by one frame of dt seconds.
func (s *Scheduler) Step(dt float64) error {
	if s.current != nil {
		return ErrNotDriver
	}
	s.frame++
	s.dt = dt
	s.now += dt

	s.phase = PhaseTimers
	s.fireTimers()

	s.phase = PhaseUpdate
	frameWaiters := s.frameWaiters
	s.frameWaiters = nil
	for _, w := range frameWaiters {
		s.enqueue(w, wake{dt: dt})
	}
	s.drain()

	for _, fn := range s.beforeLate {
		fn()
	}

	s.phase = PhaseLate
	lateWaiters := s.lateWaiters
	s.lateWaiters = nil
	for _, w := range lateWaiters {
		s.enqueue(w, wake{dt: dt})
	}
	s.drain()

	s.phase = PhaseIdle
	return nil
}

// Run opens a root scope, spawns main into it and steps frames from src until
// the root scope completes. Cancelling ctx, or src running dry, cancels the
// root scope (running all cleanup) and returns that error.
func (s *Scheduler) Run(ctx context.Context, src clock.Source, main Behavior) error {
	if s.current != nil {
		return ErrNotDriver
	}
	root := s.OpenNamedScope("root", nil)
	root.Spawn("main", main)
	s.drain()

	for !root.Done() {
		dt, err := src.Next(ctx)
		if err != nil {
			s.logger.Debug("frame source stopped", log.Error(err), log.Uint64("frame", s.frame))
			root.Cancel()
			return err
		}
		if err = s.Step(dt); err != nil {
			return err
		}
	}
	return root.Err()
}

// Close cancels every root scope.
func (s *Scheduler) Close() {
	for _, r := range slices.Clone(s.roots) {
		r.Cancel()
	}
}

func (s *Scheduler) enqueue(w waiter, msg wake) {
	s.runq = append(s.runq, ready{waiter: w, msg: msg})
}

func (s *Scheduler) drain() {
	for len(s.runq) > 0 {
		r := s.runq[0]
		s.runq[0] = ready{}
		s.runq = s.runq[1:]

		t := r.task
		switch t.state {
		case statePending:
			s.resume(t, r.msg)
		case stateParked:
			if r.token == t.token {
				s.resume(t, r.msg)
			}
		}
	}
	s.runq = nil
}

// resume hands control to t and blocks until t parks again or finishes.
func (s *Scheduler) resume(t *Task, msg wake) {
	prev := s.current
	s.current = t
	t.state = stateRunning
	s.switches++
	t.wakeCh <- msg
	<-t.parkCh
	s.current = prev
}

func (s *Scheduler) addTimer(at float64, w waiter, scope *Scope) {
	if n := s.timers.Len(); n >= timerPruneMin && n > 2*(s.liveTasks+len(s.roots)) {
		s.pruneTimers()
	}
	s.timerSeq++
	s.timers.Push(timer{at: at, seq: s.timerSeq, task: w, scope: scope})
}

// timerPruneMin is the heap size below which stale timers are left to expire.
const timerPruneMin = 64

// live reports whether firing the timer would still do anything: its scope
// is open, or its task is parked on this very sleep.
func (tm timer) live() bool {
	if tm.scope != nil {
		return !tm.scope.done && !tm.scope.cancelled
	}
	t := tm.task.task
	return t.state == stateParked && t.token == tm.task.token
}

// pruneTimers drops timers of cancelled scopes and of sleeps that were
// interrupted or cancelled.
func (s *Scheduler) pruneTimers() {
	s.timers.Filter(timer.live)
}

func (s *Scheduler) liveTimers() int {
	s.pruneTimers()
	return s.timers.Len()
}

const timerEpsilon = 1e-9

func (s *Scheduler) fireTimers() {
	for {
		next, ok := s.timers.Peek()
		if !ok || next.at > s.now+timerEpsilon {
			return
		}
		_, _ = s.timers.Pop()
		if next.scope != nil {
			if !next.scope.done && !next.scope.cancelled {
				next.scope.timedOut = true
				s.logger.Debug("scope deadline expired",
					log.String("scope", next.scope.name),
					log.String("scope_id", next.scope.id))
				next.scope.Cancel()
			}
			continue
		}
		s.enqueue(next.task, wake{dt: s.dt})
	}
}

func (s *Scheduler) removeRoot(sc *Scope) {
	if i := slices.Index(s.roots, sc); i >= 0 {
		s.roots = slices.Delete(s.roots, i, i+1)
	}
}

func (s *Scheduler) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(bus.NewEvent(eventType, "nursery", data)); err != nil {
		s.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
