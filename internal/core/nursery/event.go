package nursery

// Event is a latched, one-shot notification. Once set, every current and
// future Wait returns its value immediately.
type Event struct {
	set     bool
	value   any
	waiters []waiter
}

func NewEvent() *Event { return &Event{} }

func (e *Event) IsSet() bool { return e.set }

// Set wakes all waiters with v. Setting again is a no-op.
func (e *Event) Set(v any) {
	if e.set {
		return
	}
	e.set = true
	e.value = v
	for _, w := range e.waiters {
		w.task.sched.enqueue(w, wake{value: v})
	}
	e.waiters = nil
}

// Wait suspends until ev is set and returns the value it was set with.
func (t *Task) Wait(ev *Event) (any, error) {
	if ev.set {
		if err := t.checkpoint(); err != nil {
			return nil, err
		}
		return ev.value, nil
	}
	msg, err := t.park(func(token uint64) {
		ev.waiters = append(ev.waiters, waiter{task: t, token: token})
	})
	if err != nil {
		return nil, err
	}
	return msg.value, nil
}

// Signal is an edge-triggered broadcast: Notify wakes the tasks waiting at
// that moment and is otherwise forgotten. Input presses and "target
// acquired" style notifications are Signals.
type Signal struct {
	waiters []waiter
}

func NewSignal() *Signal { return &Signal{} }

// Notify wakes every task currently waiting and returns how many there were.
func (s *Signal) Notify(v any) int {
	n := 0
	for _, w := range s.waiters {
		if w.task.state != stateParked || w.task.token != w.token {
			continue
		}
		w.task.sched.enqueue(w, wake{value: v})
		n++
	}
	s.waiters = nil
	return n
}

// Waiting is the number of tasks that a Notify right now would wake.
func (s *Signal) Waiting() int {
	n := 0
	for _, w := range s.waiters {
		if w.task.state == stateParked && w.task.token == w.token {
			n++
		}
	}
	return n
}

// WaitSignal suspends until the next Notify on s.
func (t *Task) WaitSignal(s *Signal) (any, error) {
	msg, err := t.park(func(token uint64) {
		live := s.waiters[:0]
		for _, w := range s.waiters {
			if w.task.state == stateParked && w.task.token == w.token {
				live = append(live, w)
			}
		}
		s.waiters = append(live, waiter{task: t, token: token})
	})
	if err != nil {
		return nil, err
	}
	return msg.value, nil
}
