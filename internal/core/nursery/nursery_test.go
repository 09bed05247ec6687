package nursery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/events/bus"
)

var errBoom = errors.New("boom")

func forever(tk *Task) error {
	for range tk.Frames() {
	}
	return tk.Err()
}

func TestTasksResumeInSpawnOrder(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		root.Spawn(name, func(tk *Task) error {
			for range 2 {
				order = append(order, tk.Name())
				if _, err := tk.Frame(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, s.Drain())
	assert.Equal(t, []string{"a", "b", "c"}, order)

	require.NoError(t, s.Step(0.1))
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
	assert.False(t, root.Done())

	require.NoError(t, s.Step(0.1))
	assert.True(t, root.Done())
	assert.NoError(t, root.Err())
	assert.Equal(t, 0, s.Stats().LiveTasks)
}

func TestLatePhaseSeesThisFramesUpdates(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	pos := 0.0
	var seen []float64

	// spawned first on purpose: ordering must come from the phases, not insertion
	root.Spawn("collide", func(tk *Task) error {
		for {
			if _, err := tk.LateFrame(); err != nil {
				return err
			}
			seen = append(seen, pos)
		}
	})
	root.Spawn("move", func(tk *Task) error {
		for dt := range tk.Frames() {
			pos += dt
		}
		return tk.Err()
	})

	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(1))
	require.NoError(t, s.Step(1))
	assert.Equal(t, []float64{1, 2}, seen)

	root.Cancel()
	assert.True(t, root.Done())
}

func TestBeforeLateHookRunsBetweenPhases(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var trace []string
	s.BeforeLate(func() { trace = append(trace, "hook") })
	root.Spawn("late", func(tk *Task) error {
		_, err := tk.LateFrame()
		trace = append(trace, "late")
		return err
	})
	root.Spawn("update", func(tk *Task) error {
		_, err := tk.Frame()
		trace = append(trace, "update")
		return err
	})
	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	assert.Equal(t, []string{"update", "hook", "late"}, trace)
}

func TestSleepUsesSimulatedTime(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	woke := -1.0
	root.Spawn("sleeper", func(tk *Task) error {
		if err := tk.Sleep(0.25); err != nil {
			return err
		}
		woke = tk.Now()
		return nil
	})
	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	require.NoError(t, s.Step(0.1))
	assert.Equal(t, -1.0, woke)
	require.NoError(t, s.Step(0.1))
	assert.InDelta(t, 0.3, woke, 1e-9)
	assert.True(t, root.Done())
}

func TestIntervalsAndFramesFor(t *testing.T) {
	s := New()
	var ticks []int
	frames := 0
	err := s.Run(context.Background(), clock.NewFixed(0.1, 100), func(tk *Task) error {
		for dt := range tk.FramesFor(0.45) {
			_ = dt
			frames++
		}
		for n := range tk.Intervals(0.2) {
			ticks = append(ticks, n)
			if n == 2 {
				break
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, frames)
	assert.Equal(t, []int{0, 1, 2}, ticks)
}

func TestCancelReleasesEveryNestedResource(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	ev := NewEvent()
	sig := NewSignal()
	acquired, released := 0, 0

	hold := func(wait Behavior) Behavior {
		return func(tk *Task) error {
			acquired++
			defer func() { released++ }()
			return wait(tk)
		}
	}
	var build func(depth int) Behavior
	build = func(depth int) Behavior {
		return hold(func(tk *Task) error {
			return tk.Nursery(func(sc *Scope) error {
				sc.Spawn("frame", hold(forever))
				sc.Spawn("sleep", hold(func(tk *Task) error { return tk.Sleep(1000) }))
				sc.Spawn("event", hold(func(tk *Task) error { _, err := tk.Wait(ev); return err }))
				sc.Spawn("signal", hold(func(tk *Task) error { _, err := tk.WaitSignal(sig); return err }))
				if depth > 0 {
					sc.Spawn("nested", build(depth-1))
				}
				return nil
			})
		})
	}
	root.Spawn("top", build(3))

	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	require.Equal(t, 20, acquired)
	require.Equal(t, 0, released)

	root.Cancel()
	assert.Equal(t, 20, released, "cancel must not return before every cleanup ran")
	assert.True(t, root.Done())
	assert.Equal(t, 0, s.Stats().LiveTasks)

	root.Cancel()
	assert.Equal(t, 20, released)
	require.NoError(t, s.Step(0.1))
	assert.Equal(t, 20, released)
}

func TestUnstartedTasksNeverRunAfterCancel(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	ran := false
	root.Spawn("never", func(tk *Task) error { ran = true; return nil })
	root.Cancel()
	require.NoError(t, s.Drain())
	assert.False(t, ran)
	assert.True(t, root.Done())
}

func TestCancellationCannotBeSwallowed(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	attempts := 0
	root.Spawn("stubborn", func(tk *Task) error {
		for range 3 {
			if _, err := tk.Frame(); err != nil {
				attempts++
			}
		}
		return nil
	})
	require.NoError(t, s.Drain())
	root.Cancel()
	assert.Equal(t, 3, attempts)
	assert.True(t, root.Done())
	assert.NoError(t, root.Err())
}

func TestCancelFromAnotherTaskIsSynchronous(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	victim := s.OpenScope(nil)
	cleaned, observed := false, false

	victim.Spawn("life", func(tk *Task) error {
		defer func() { cleaned = true }()
		return forever(tk)
	})
	root.Spawn("killer", func(tk *Task) error {
		if _, err := tk.LateFrame(); err != nil {
			return err
		}
		victim.Cancel()
		observed = cleaned
		return nil
	})

	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	assert.True(t, observed)
	assert.True(t, victim.Done())
	assert.True(t, root.Done())
}

func TestSelfCancelUnwindsSiblingsFirst(t *testing.T) {
	s := New()
	sc := s.OpenScope(nil)
	siblingCleaned, seen := false, false
	var after error

	sc.Spawn("sibling", func(tk *Task) error {
		defer func() { siblingCleaned = true }()
		_, err := tk.Wait(NewEvent())
		return err
	})
	sc.Spawn("self", func(tk *Task) error {
		sc.Cancel()
		seen = siblingCleaned
		_, after = tk.Frame()
		return after
	})

	require.NoError(t, s.Drain())
	assert.True(t, seen)
	assert.ErrorIs(t, after, ErrCancelled)
	assert.True(t, sc.Done())
	assert.NoError(t, sc.Err())
}

func TestFailureCancelsSiblingsBeforeReporting(t *testing.T) {
	s := New()
	var cleanup []string
	cleanedBeforeReport := false

	err := s.Run(context.Background(), clock.NewFixed(0.1, 100), func(tk *Task) error {
		err := tk.Nursery(func(sc *Scope) error {
			sc.Spawn("worker", func(tk *Task) error {
				defer func() { cleanup = append(cleanup, "worker") }()
				return forever(tk)
			})
			sc.Spawn("bomb", func(tk *Task) error {
				defer func() { cleanup = append(cleanup, "bomb") }()
				if err := tk.Sleep(0.25); err != nil {
					return err
				}
				return errBoom
			})
			return nil
		})
		cleanedBeforeReport = len(cleanup) == 2
		return err
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"bomb", "worker"}, cleanup)
	assert.True(t, cleanedBeforeReport)
}

func TestDetachedChildScopeFailsParent(t *testing.T) {
	s := New()
	parent := s.OpenScope(nil)
	child := s.OpenScope(parent)
	parentCleaned := false

	parent.Spawn("p", func(tk *Task) error {
		defer func() { parentCleaned = true }()
		return forever(tk)
	})
	child.Spawn("c", func(tk *Task) error { return errBoom })

	require.NoError(t, s.Drain())
	assert.ErrorIs(t, child.Err(), errBoom)
	assert.ErrorIs(t, parent.Err(), errBoom)
	assert.True(t, parentCleaned)
	assert.True(t, parent.Done())
	assert.True(t, child.Cancelled())
}

func TestOwnedScopeFailureInterruptsOwner(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var ownerErr error
	root.Spawn("owner", func(tk *Task) error {
		sc := tk.OpenScope("kids")
		sc.Spawn("bad", func(tk *Task) error {
			if err := tk.Sleep(0.05); err != nil {
				return err
			}
			return errBoom
		})
		for range tk.Frames() {
		}
		ownerErr = tk.Err()
		return ownerErr
	})

	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	assert.ErrorIs(t, ownerErr, errBoom)
	assert.ErrorIs(t, root.Err(), errBoom)
	assert.True(t, root.Done())
}

func TestIsolatedTaskDoesNotFailSiblings(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var got error
	root.Spawn("flaky", func(tk *Task) error { return errBoom }, Isolated(func(err error) { got = err }))
	root.Spawn("steady", forever)

	require.NoError(t, s.Drain())
	require.NoError(t, s.Step(0.1))
	assert.ErrorIs(t, got, errBoom)
	assert.NoError(t, root.Err())
	assert.False(t, root.Cancelled())
	assert.Equal(t, 1, root.Len())
	root.Cancel()
}

func TestPanicBecomesError(t *testing.T) {
	s := New()
	err := s.Run(context.Background(), clock.NewFixed(0.1, 10), func(tk *Task) error {
		panic("kaboom")
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "main", pe.Task)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestWithTimeoutCancelsAfterDeadline(t *testing.T) {
	s := New()
	cleaned, timedOut := false, false
	when := 0.0
	err := s.Run(context.Background(), clock.NewFixed(0.1, 100), func(tk *Task) error {
		var err error
		timedOut, err = tk.WithTimeout(0.35, "slow", func(tk *Task) error {
			defer func() { cleaned = true }()
			return forever(tk)
		})
		when = tk.Now()
		return err
	})
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.True(t, cleaned)
	assert.InDelta(t, 0.4, when, 1e-9)
}

func TestWithTimeoutFinishingEarly(t *testing.T) {
	s := New()
	var timedOut bool
	err := s.Run(context.Background(), clock.NewFixed(0.1, 100), func(tk *Task) error {
		var err error
		timedOut, err = tk.WithTimeout(5, "quick", func(tk *Task) error { return tk.Sleep(0.1) })
		return err
	})
	require.NoError(t, err)
	assert.False(t, timedOut)
}

func TestEventWakesWaitersInSameDrain(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	ev := NewEvent()
	var got any
	root.Spawn("waiter", func(tk *Task) error {
		v, err := tk.Wait(ev)
		got = v
		return err
	})
	root.Spawn("setter", func(tk *Task) error {
		if _, err := tk.Frame(); err != nil {
			return err
		}
		ev.Set(7)
		ev.Set(8)
		return nil
	})

	require.NoError(t, s.Drain())
	assert.Nil(t, got)
	require.NoError(t, s.Step(0.1))
	assert.Equal(t, 7, got)
	assert.True(t, ev.IsSet())
	assert.True(t, root.Done())

	late := s.OpenScope(nil)
	late.Spawn("late", func(tk *Task) error {
		v, err := tk.Wait(ev)
		got = v
		return err
	})
	require.NoError(t, s.Drain())
	assert.Equal(t, 7, got)
}

func TestSignalIsEdgeTriggered(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	sig := NewSignal()
	total := 0
	root.Spawn("listener", func(tk *Task) error {
		for {
			v, err := tk.WaitSignal(sig)
			if err != nil {
				return err
			}
			total += v.(int)
		}
	})

	assert.Equal(t, 0, sig.Notify(1), "nobody is waiting yet")
	require.NoError(t, s.Drain())
	assert.Equal(t, 1, sig.Waiting())
	assert.Equal(t, 1, sig.Notify(2))
	require.NoError(t, s.Drain())
	assert.Equal(t, 2, total)
	sig.Notify(3)
	require.NoError(t, s.Drain())
	assert.Equal(t, 5, total)

	root.Cancel()
	assert.Equal(t, 0, sig.Waiting())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleaned := false
	err := s.Run(ctx, clock.NewFixed(0.1, 0), func(tk *Task) error {
		defer func() { cleaned = true }()
		for range tk.Frames() {
			if tk.Now() >= 0.5 {
				cancel()
			}
		}
		return tk.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cleaned)
}

func TestRunReportsExhaustedClock(t *testing.T) {
	s := New()
	err := s.Run(context.Background(), clock.NewManual(0.1, 0.1), forever)
	assert.ErrorIs(t, err, clock.ErrExhausted)
	assert.Equal(t, uint64(2), s.Frame())
	assert.Equal(t, 0, s.Stats().Roots)
}

func TestSpawnIntoCancellingScopeNeverRuns(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	ran := false
	var late *Task
	root.Spawn("dying", func(tk *Task) error {
		defer func() {
			late = tk.Go("late", func(*Task) error { ran = true; return nil })
		}()
		return forever(tk)
	})
	require.NoError(t, s.Drain())
	root.Cancel()
	require.NotNil(t, late)
	assert.False(t, ran)
	assert.ErrorIs(t, late.Result(), ErrCancelled)

	closed := root.Spawn("closed", func(*Task) error { ran = true; return nil })
	assert.ErrorIs(t, closed.Result(), ErrScopeClosed)
	assert.False(t, ran)
}

func TestMisuseIsReported(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var stepErr, awaitErr error
	root.Spawn("x", func(tk *Task) error {
		stepErr = s.Step(1)
		awaitErr = root.Await(tk)
		return nil
	})
	require.NoError(t, s.Drain())
	assert.ErrorIs(t, stepErr, ErrNotDriver)
	assert.ErrorIs(t, awaitErr, ErrAwaitOwnScope)
}

func TestLifecycleEventsArePublished(t *testing.T) {
	b := bus.New()
	var failed []TaskEvent
	cancelled := 0
	_, _ = b.Subscribe(EventTaskFailed, func(e bus.Event) error {
		failed = append(failed, e.Data().(TaskEvent))
		return nil
	})
	_, _ = b.Subscribe(EventScopeCancelled, func(bus.Event) error {
		cancelled++
		return nil
	})

	s := New(WithEventBus(b))
	err := s.Run(context.Background(), clock.NewFixed(0.1, 10), func(tk *Task) error {
		return tk.Nursery(func(sc *Scope) error {
			sc.Spawn("bad", func(*Task) error { return errBoom })
			return nil
		})
	})
	require.ErrorIs(t, err, errBoom)
	require.NotEmpty(t, failed)
	assert.Equal(t, "bad", failed[0].Task)
	assert.GreaterOrEqual(t, cancelled, 1)
}

func TestScopeDeferRunsInsideCancel(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var trace []string
	root.Defer(func() { trace = append(trace, "first") })
	root.Defer(func() { trace = append(trace, "second") })
	root.Defer(func() { panic("ignored") })
	root.Spawn("t", func(tk *Task) error {
		defer func() { trace = append(trace, "task") }()
		return forever(tk)
	})

	require.NoError(t, s.Drain())
	assert.Empty(t, trace)
	root.Cancel()
	assert.Equal(t, []string{"task", "second", "first"}, trace)

	root.Defer(func() { trace = append(trace, "late") })
	assert.Equal(t, "late", trace[len(trace)-1])
}

func TestForeignAwaitKeepsOwnedScopeOpen(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var owned *Scope
	var kid *Task
	root.Spawn("owner", func(tk *Task) error {
		owned = tk.OpenScope("owned")
		if _, err := tk.Frame(); err != nil {
			return err
		}
		kid = owned.Spawn("kid", func(*Task) error { return nil })
		owned.Close()
		return forever(tk)
	})
	awaited := false
	var awaitErr error
	root.Spawn("stranger", func(tk *Task) error {
		awaitErr = owned.Await(tk)
		awaited = true
		return awaitErr
	})

	require.NoError(t, s.Drain())
	assert.False(t, owned.Done(), "only the owner releases its scope")
	assert.False(t, awaited)

	require.NoError(t, s.Step(0.1))
	require.NotNil(t, kid)
	assert.NoError(t, kid.Result())
	assert.True(t, kid.Done())
	assert.True(t, owned.Done())
	assert.True(t, awaited)
	assert.NoError(t, awaitErr)
	assert.False(t, root.Done())
}

func TestCloseLetsOwnedScopeCompleteWithoutAwait(t *testing.T) {
	s := New()
	root := s.OpenScope(nil)
	var owned *Scope
	var late *Task
	root.Spawn("owner", func(tk *Task) error {
		owned = tk.OpenScope("owned")
		owned.Spawn("nap", func(tk *Task) error { return tk.Sleep(0.05) })
		owned.Close()
		if _, err := tk.Frame(); err != nil {
			return err
		}
		late = owned.Spawn("late", func(*Task) error { return nil })
		return forever(tk)
	})

	require.NoError(t, s.Drain())
	assert.False(t, owned.Done())

	require.NoError(t, s.Step(0.1))
	assert.True(t, owned.Done())
	require.NotNil(t, late)
	assert.ErrorIs(t, late.Result(), ErrScopeClosed)
	assert.False(t, root.Done())
}

func TestCancelledSleepsLeaveNoTimers(t *testing.T) {
	s := New()
	naps := s.OpenScope(nil)
	for range 100 {
		naps.Spawn("nap", func(tk *Task) error { return tk.Sleep(1000) })
	}
	require.NoError(t, s.Drain())
	assert.Equal(t, 100, s.Stats().Timers)

	naps.Cancel()
	assert.Equal(t, 100, s.timers.Len(), "stale entries are dropped lazily")
	assert.Equal(t, 0, s.Stats().Timers)

	for range 100 {
		naps := s.OpenScope(nil)
		naps.Spawn("nap", func(tk *Task) error { return tk.Sleep(1000) })
		require.NoError(t, s.Drain())
		naps.Cancel()
	}
	assert.Less(t, s.timers.Len(), 100, "the heap is pruned as it grows")

	root := s.OpenScope(nil)
	root.Spawn("short", func(tk *Task) error { return tk.Sleep(0.05) })
	require.NoError(t, s.Drain())
	assert.Equal(t, 1, s.Stats().Timers)
	require.NoError(t, s.Step(0.1))
	assert.Equal(t, 0, s.Stats().Timers)
	assert.True(t, root.Done())
}
