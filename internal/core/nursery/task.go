package nursery

import (
	"fmt"
	"iter"
	"runtime/debug"

	"github.com/zeusync/simkernel/internal/core/observability/log"
)

// Behavior is the body of a task. Returning ErrCancelled (wrapped or not) is
// a normal exit; any other error fails the enclosing scope.
type Behavior func(t *Task) error

type taskState uint8

const (
	statePending taskState = iota
	stateRunning
	stateParked
	stateDone
)

// Task is one cooperative coroutine inside a Scope.
type Task struct {
	name  string
	sched *Scheduler
	scope *Scope
	body  Behavior

	state taskState
	// token is bumped on every park and on cancellation; wait registrations
	// carrying an older token are stale and ignored.
	token  uint64
	wakeCh chan wake
	parkCh chan struct{}

	isolated bool
	onErr    func(error)

	owned       []*Scope
	awaiting    *Scope
	pendingErr  error
	pendingFrom *Scope
	lastErr     error

	err error
}

// TaskEvent is the payload of EventTaskFailed.
type TaskEvent struct {
	Task  string
	Scope string
	Err   error
}

type SpawnOption func(*Task)

// Isolated keeps a task's failure from cancelling its siblings. The error is
// handed to onErr (which may be nil) instead.
func Isolated(onErr func(error)) SpawnOption {
	return func(t *Task) {
		t.isolated = true
		t.onErr = onErr
	}
}

func (t *Task) Name() string    { return t.name }
func (t *Task) Scope() *Scope   { return t.scope }
func (t *Task) Now() float64    { return t.sched.now }
func (t *Task) Done() bool      { return t.state == stateDone }
func (t *Task) Result() error   { return t.err }
func (t *Task) Cancelled() bool { return t.scope.cancelled }

// Err explains why an iterator helper stopped early: ErrCancelled, or an
// error from a failed scope this task owns.
func (t *Task) Err() error {
	if t.lastErr != nil {
		return t.lastErr
	}
	if t.scope.cancelled {
		return ErrCancelled
	}
	return nil
}

// Go spawns a sibling task into this task's scope.
func (t *Task) Go(name string, b Behavior, opts ...SpawnOption) *Task {
	return t.scope.Spawn(name, b, opts...)
}

// OpenScope opens a scope nested under this task's scope and owned by this
// task. It stays open until the task awaits or closes it, or finishes.
func (t *Task) OpenScope(name string) *Scope {
	return t.sched.openScope(name, t.scope, t)
}

// Nursery opens an owned scope, runs body to spawn into it, then waits for
// the scope to complete. An error from body fails the scope.
func (t *Task) Nursery(body func(sc *Scope) error) error {
	sc := t.OpenScope(t.name + "/nursery")
	bodyErr := body(sc)
	if bodyErr != nil && !IsCancelled(bodyErr) {
		sc.fail(bodyErr)
	}
	err := sc.Await(t)
	if err == nil && (IsCancelled(bodyErr) || t.scope.cancelled) {
		return ErrCancelled
	}
	return err
}

// WithTimeout runs b in its own scope and cancels that scope after seconds
// of simulated time. timedOut reports whether the deadline fired.
func (t *Task) WithTimeout(seconds float64, name string, b Behavior) (timedOut bool, err error) {
	sc := t.OpenScope(name)
	sc.CancelAfter(seconds)
	sc.Spawn(name, b)
	err = sc.Await(t)
	if err == nil && t.scope.cancelled {
		err = ErrCancelled
	}
	return sc.timedOut, err
}

// Frame suspends until the update phase of the next frame and returns its dt.
func (t *Task) Frame() (float64, error) {
	msg, err := t.park(func(token uint64) {
		t.sched.frameWaiters = append(t.sched.frameWaiters, waiter{task: t, token: token})
	})
	return msg.dt, err
}

// LateFrame suspends until the late phase of the current frame, or of the
// next frame when the late phase is already running.
func (t *Task) LateFrame() (float64, error) {
	msg, err := t.park(func(token uint64) {
		t.sched.lateWaiters = append(t.sched.lateWaiters, waiter{task: t, token: token})
	})
	return msg.dt, err
}

// Sleep suspends for seconds of simulated time. Expired sleeps resume at the
// start of the update phase of the frame that crosses the deadline.
func (t *Task) Sleep(seconds float64) error {
	at := t.sched.now + seconds
	_, err := t.park(func(token uint64) {
		t.sched.addTimer(at, waiter{task: t, token: token}, nil)
	})
	return err
}

// Frames yields dt for every frame until the task is cancelled.
func (t *Task) Frames() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for {
			dt, err := t.Frame()
			if err != nil {
				t.lastErr = err
				return
			}
			if !yield(dt) {
				return
			}
		}
	}
}

// FramesFor yields dt for every frame until seconds have elapsed.
func (t *Task) FramesFor(seconds float64) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		elapsed := 0.0
		for elapsed < seconds {
			dt, err := t.Frame()
			if err != nil {
				t.lastErr = err
				return
			}
			elapsed += dt
			if !yield(dt) {
				return
			}
		}
	}
}

// Intervals yields an increasing counter every seconds.
func (t *Task) Intervals(seconds float64) iter.Seq[int] {
	return func(yield func(int) bool) {
		for n := 0; ; n++ {
			if err := t.Sleep(seconds); err != nil {
				t.lastErr = err
				return
			}
			if !yield(n) {
				return
			}
		}
	}
}

func (t *Task) park(register func(token uint64)) (wake, error) {
	if t.sched.current != t {
		panic(fmt.Sprintf("nursery: task %q suspended outside its own goroutine", t.name))
	}
	if err := t.checkpoint(); err != nil {
		return wake{}, err
	}
	t.token++
	register(t.token)
	t.state = stateParked
	t.parkCh <- struct{}{}
	msg := <-t.wakeCh
	if msg.cancelled {
		return msg, ErrCancelled
	}
	if msg.err != nil {
		t.pendingErr, t.pendingFrom = nil, nil
		return msg, msg.err
	}
	return msg, nil
}

func (t *Task) checkpoint() error {
	if t.scope.cancelled {
		return ErrCancelled
	}
	if err := t.pendingErr; err != nil {
		t.pendingErr, t.pendingFrom = nil, nil
		return err
	}
	return nil
}

// interrupt delivers the failure of an owned scope at this task's next
// suspension point, or right away if it is parked somewhere other than
// awaiting that scope.
func (t *Task) interrupt(sc *Scope, err error) {
	if t.awaiting == sc {
		return
	}
	switch t.state {
	case stateParked:
		t.token++
		t.sched.enqueue(waiter{task: t, token: t.token}, wake{err: err})
	case stateRunning, statePending:
		t.pendingErr, t.pendingFrom = err, sc
	}
}

func (t *Task) clearInterrupt(sc *Scope) {
	if t.pendingFrom == sc {
		t.pendingErr, t.pendingFrom = nil, nil
	}
}

func (t *Task) main() {
	msg := <-t.wakeCh
	err := errExited
	defer func() {
		t.finish(err)
		t.parkCh <- struct{}{}
	}()
	if msg.cancelled || t.scope.cancelled {
		err = ErrCancelled
		return
	}
	err = t.invoke()
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: t.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return t.body(t)
}

func (t *Task) finish(err error) {
	t.state = stateDone
	t.err = err
	sc := t.scope
	sc.removeTask(t)
	t.sched.liveTasks--
	for _, o := range t.owned {
		o.held = false
	}

	if err != nil && !IsCancelled(err) {
		fields := []log.Field{
			log.String("task", t.name),
			log.String("scope", sc.name),
			log.Error(err),
		}
		if t.isolated {
			t.sched.logger.Warn("isolated task failed", fields...)
			if t.onErr != nil {
				t.onErr(err)
			}
		} else {
			t.sched.logger.Error("task failed", fields...)
			t.sched.publish(EventTaskFailed, TaskEvent{Task: t.name, Scope: sc.name, Err: err})
			sc.fail(err)
		}
	}

	for _, o := range t.owned {
		o.maybeComplete()
	}
	t.owned = nil
	sc.maybeComplete()
}
