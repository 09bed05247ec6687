// Package entity is the glue between game objects, the collision group and
// the task tree: an Entity is a collision.Body whose life is a nursery scope.
package entity

import (
	"math"

	"github.com/google/uuid"

	"github.com/zeusync/simkernel/internal/core/collision"
	"github.com/zeusync/simkernel/internal/core/nursery"
	"github.com/zeusync/simkernel/internal/core/physics"
)

const (
	TagShip     collision.Tag = "ship"
	TagBullet   collision.Tag = "bullet"
	TagThrex    collision.Tag = "threx"
	TagBuilding collision.Tag = "building"
	TagStarBit  collision.Tag = "star_bit"
)

// Entity is a moving circle with a little game state. Fields are owned by
// the entity's behaviors and by collision handlers; they are only touched
// from the scheduler, so no locking is needed.
type Entity struct {
	ID     uuid.UUID
	Name   string
	Tag    collision.Tag
	Pos    physics.Vec2
	Vel    physics.Vec2
	R      float64
	Angle  float64
	Rudder float64
	Health int

	life *nursery.Scope
}

func New(name string, pos physics.Vec2, radius float64) *Entity {
	return &Entity{
		ID:   uuid.New(),
		Name: name,
		Pos:  pos,
		R:    radius,
	}
}

func (e *Entity) Position() physics.Vec2 { return e.Pos }
func (e *Entity) Radius() float64        { return e.R }
func (e *Entity) Label() string          { return e.Name }

// Life is the scope the entity currently lives in, or nil.
func (e *Entity) Life() *nursery.Scope { return e.life }

// Alive reports whether the entity is inside a life that is not cancelled.
func (e *Entity) Alive() bool {
	return e.life != nil && !e.life.Cancelled() && !e.life.Done()
}

// Kill cancels the entity's life. Every behavior unwinds and the entity is
// untracked before Kill returns. Killing a dead entity does nothing.
func (e *Entity) Kill() {
	if e.life != nil {
		e.life.Cancel()
	}
}

// Damage subtracts n from health and reports whether the entity is now at
// or below zero.
func (e *Entity) Damage(n int) bool {
	e.Health -= n
	return e.Health <= 0
}

// Live tracks e under tag and runs behaviors in a new scope owned by t until
// all of them finish or the life is cancelled, e.g. by Kill from a collision
// handler. The entity is untracked as part of the scope's completion. A
// killed life returns nil; only t's own cancellation or a behavior failure
// is reported.
func Live(t *nursery.Task, g *collision.Group, e *Entity, tag collision.Tag, behaviors ...nursery.Behavior) error {
	return t.Nursery(func(sc *nursery.Scope) error {
		release, err := g.Tracking(e, tag)
		if err != nil {
			return err
		}
		e.Tag = tag
		e.life = sc
		sc.Defer(release)
		for _, b := range behaviors {
			sc.Spawn(e.Name, b)
		}
		return nil
	})
}

// Heading is the angle of the velocity, or the current angle when still.
func (e *Entity) Heading() float64 {
	if e.Vel.LengthSq() == 0 {
		return e.Angle
	}
	return e.Vel.ToAngle()
}

// AngleTo is the signed turn in (-pi, pi] from e's heading to p.
func (e *Entity) AngleTo(p physics.Vec2) float64 {
	want := p.Sub(e.Pos).ToAngle()
	return normalizeAngle(want - e.Heading())
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}
