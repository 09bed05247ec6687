package nursery

import (
	"slices"

	"github.com/google/uuid"

	"github.com/zeusync/simkernel/internal/core/observability/log"
)

// Scope is a task tree node. It owns sibling tasks and nested child scopes,
// and completes once all of them have finished.
type Scope struct {
	id    string
	name  string
	sched *Scheduler

	parent   *Scope
	owner    *Task
	children []*Scope
	tasks    []*Task

	held      bool
	cancelled bool
	timedOut  bool
	done      bool
	err       error
	awaiters  []waiter
	deferred  []func()
}

// ScopeEvent is the payload of EventScopeCancelled.
type ScopeEvent struct {
	ID   string
	Name string
	Err  error
}

func (s *Scheduler) openScope(name string, parent *Scope, owner *Task) *Scope {
	sc := &Scope{
		id:     uuid.NewString(),
		name:   name,
		sched:  s,
		parent: parent,
		owner:  owner,
		held:   owner != nil,
	}
	if owner != nil {
		owner.owned = append(owner.owned, sc)
	}
	if parent == nil {
		s.roots = append(s.roots, sc)
		return sc
	}
	parent.children = append(parent.children, sc)
	if parent.cancelled {
		sc.cancelled = true
	}
	return sc
}

func (sc *Scope) ID() string   { return sc.id }
func (sc *Scope) Name() string { return sc.name }

// Parent is nil for root scopes.
func (sc *Scope) Parent() *Scope { return sc.parent }

func (sc *Scope) Cancelled() bool { return sc.cancelled }

// TimedOut reports whether a CancelAfter deadline cancelled the scope.
func (sc *Scope) TimedOut() bool { return sc.timedOut }

// Done reports whether every task and child scope has finished.
func (sc *Scope) Done() bool {
	sc.maybeComplete()
	return sc.done
}

// Err is the first unhandled task error of the scope, or nil.
func (sc *Scope) Err() error { return sc.err }

// Len is the number of live tasks directly in this scope.
func (sc *Scope) Len() int { return len(sc.tasks) }

// Spawn adds a child task running b. The task starts at the next drain of
// the run queue, after tasks spawned before it. Spawning into a cancelled
// scope returns a task that never runs b; spawning into a completed scope
// returns a task that finished with ErrScopeClosed.
func (sc *Scope) Spawn(name string, b Behavior, opts ...SpawnOption) *Task {
	t := &Task{
		name:   name,
		sched:  sc.sched,
		scope:  sc,
		body:   b,
		wakeCh: make(chan wake),
		parkCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if sc.done {
		t.state = stateDone
		t.err = ErrScopeClosed
		sc.sched.logger.Warn("spawn into completed scope",
			log.String("task", name), log.String("scope", sc.name))
		return t
	}

	sc.tasks = append(sc.tasks, t)
	sc.sched.liveTasks++
	go t.main()
	if sc.cancelled {
		sc.sched.resume(t, wake{cancelled: true})
		return t
	}
	sc.sched.enqueue(waiter{task: t}, wake{})
	return t
}

// Cancel cancels the scope and all of its descendants, depth-first. Every
// suspended task in the subtree is resumed with ErrCancelled and runs to
// completion, cleanup included, before Cancel returns. Tasks that never
// started do not run at all. A task that is currently executing (the caller,
// or a task further up the resumption chain) observes the cancellation at
// its next suspension point instead. Cancelling twice is a no-op.
func (sc *Scope) Cancel() {
	if sc.cancelled {
		return
	}
	sc.cancelled = true
	sc.sched.logger.Debug("scope cancelled",
		log.String("scope", sc.name),
		log.String("scope_id", sc.id),
		log.Int("tasks", len(sc.tasks)))

	for _, child := range slices.Clone(sc.children) {
		child.Cancel()
	}
	for _, t := range slices.Clone(sc.tasks) {
		switch t.state {
		case statePending, stateParked:
			t.token++
			sc.sched.resume(t, wake{cancelled: true})
		}
	}
	sc.sched.publish(EventScopeCancelled, ScopeEvent{ID: sc.id, Name: sc.name, Err: sc.err})
	sc.maybeComplete()
}

// CancelAfter cancels the scope once seconds of simulated time have passed.
func (sc *Scope) CancelAfter(seconds float64) {
	sc.sched.addTimer(sc.sched.now+seconds, waiter{}, sc)
}

// Await parks t until the scope completes and returns the scope's first
// error. A clean completion, including one caused by Cancel, returns nil.
// If t's own scope is cancelled while waiting, Await returns ErrCancelled.
// Only the owner's Await releases the hold of a scope opened with
// Task.OpenScope; any other task just waits.
func (sc *Scope) Await(t *Task) error {
	for p := t.scope; p != nil; p = p.parent {
		if p == sc {
			return ErrAwaitOwnScope
		}
	}
	if sc.owner == t {
		sc.held = false
	}
	if sc.Done() {
		t.clearInterrupt(sc)
		return sc.err
	}
	t.awaiting = sc
	_, err := t.park(func(token uint64) {
		sc.awaiters = append(sc.awaiters, waiter{task: t, token: token})
	})
	t.awaiting = nil
	if sc.done {
		t.clearInterrupt(sc)
		if sc.err != nil {
			return sc.err
		}
	}
	return err
}

// fail records err, cancels the whole scope and only then reports the
// failure upwards: to the owning task if it is still alive, else to the
// parent scope.
func (sc *Scope) fail(err error) {
	if sc.err == nil {
		sc.err = err
	}
	sc.Cancel()

	if o := sc.owner; o != nil && o.state != stateDone {
		o.interrupt(sc, err)
		return
	}
	if sc.parent != nil {
		sc.parent.fail(err)
	}
}

// Defer registers fn to run when the scope completes, after every task and
// child scope has finished and before any awaiter resumes. Deferred funcs run
// last-in first-out. On a scope that is already done fn runs immediately.
func (sc *Scope) Defer(fn func()) {
	if sc.done {
		sc.runDeferred(fn)
		return
	}
	sc.deferred = append(sc.deferred, fn)
}

func (sc *Scope) runDeferred(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sc.sched.logger.Error("scope cleanup panicked",
				log.String("scope", sc.name), log.Any("panic", r))
		}
	}()
	fn()
}

// Close releases the owner's hold on a scope opened with Task.OpenScope,
// letting it complete once its children finish, without waiting for it.
func (sc *Scope) Close() {
	sc.held = false
	sc.maybeComplete()
}

func (sc *Scope) settled() bool {
	if sc.held || len(sc.tasks) > 0 {
		return false
	}
	for _, c := range sc.children {
		if !c.settled() {
			return false
		}
	}
	return true
}

func (sc *Scope) maybeComplete() {
	if sc.done || !sc.settled() {
		return
	}
	sc.done = true
	for _, c := range slices.Clone(sc.children) {
		c.maybeComplete()
	}
	for i := len(sc.deferred) - 1; i >= 0; i-- {
		sc.runDeferred(sc.deferred[i])
	}
	sc.deferred = nil
	for _, w := range sc.awaiters {
		sc.sched.enqueue(w, wake{})
	}
	sc.awaiters = nil

	if sc.parent == nil {
		sc.sched.removeRoot(sc)
		return
	}
	sc.parent.removeChild(sc)
	sc.parent.maybeComplete()
}

func (sc *Scope) removeChild(c *Scope) {
	if i := slices.Index(sc.children, c); i >= 0 {
		sc.children = slices.Delete(sc.children, i, i+1)
	}
}

func (sc *Scope) removeTask(t *Task) {
	if i := slices.Index(sc.tasks, t); i >= 0 {
		sc.tasks = slices.Delete(sc.tasks, i, i+1)
	}
}
