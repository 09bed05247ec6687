package entity

import (
	"math"

	"github.com/zeusync/simkernel/internal/core/nursery"
	"github.com/zeusync/simkernel/internal/core/physics"
)

// Drift integrates velocity every frame with exponential drag: after one
// second the velocity is scaled by drag.
func Drift(e *Entity, drag float64) nursery.Behavior {
	return func(t *nursery.Task) error {
		for dt := range t.Frames() {
			e.Vel = e.Vel.Mult(math.Pow(drag, dt))
			e.Pos = e.Pos.Add(e.Vel.Mult(dt))
		}
		return t.Err()
	}
}

// Drive turns the velocity by Rudder*turnRate radians per second, moves the
// entity and points it along its velocity.
func Drive(e *Entity, turnRate float64) nursery.Behavior {
	return func(t *nursery.Task) error {
		for dt := range t.Frames() {
			e.Vel = physics.Rotated(e.Vel, e.Rudder*turnRate*dt)
			e.Pos = e.Pos.Add(e.Vel.Mult(dt))
			e.Angle = e.Heading()
		}
		return t.Err()
	}
}

// Steer sets Rudder towards the point returned by target each frame. The
// rudder is centred while target reports ok == false.
func Steer(e *Entity, target func() (physics.Vec2, bool)) nursery.Behavior {
	const deadZone = 1e-2
	return func(t *nursery.Task) error {
		for range t.Frames() {
			p, ok := target()
			if !ok {
				e.Rudder = 0
				continue
			}
			switch r := e.AngleTo(p); {
			case r > deadZone:
				e.Rudder = 1
			case r < -deadZone:
				e.Rudder = -1
			default:
				e.Rudder = 0
			}
		}
		return t.Err()
	}
}

// Lifetime ends the life it runs in after seconds of simulated time.
func Lifetime(seconds float64) nursery.Behavior {
	return func(t *nursery.Task) error {
		if err := t.Sleep(seconds); err != nil {
			return err
		}
		t.Scope().Cancel()
		return nil
	}
}

// Every calls fn every seconds until the life ends.
func Every(seconds float64, fn func()) nursery.Behavior {
	return func(t *nursery.Task) error {
		for range t.Intervals(seconds) {
			fn()
		}
		return t.Err()
	}
}
