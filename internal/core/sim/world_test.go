package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/collision"
	"github.com/zeusync/simkernel/internal/core/entity"
	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/nursery"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/physics"
)

func TestCollisionsSeeThisFramesPositions(t *testing.T) {
	w := New()
	g := w.Group()

	type hit struct {
		frame         uint64
		bulletX       float64
		shipUntracked bool
	}
	var hits []hit
	g.MustRegister(entity.TagShip, entity.TagBullet, func(a, b collision.Body) {
		ship, bullet := a.(*entity.Entity), b.(*entity.Entity)
		if ship.Damage(1) {
			ship.Kill()
		}
		bullet.Kill()
		hits = append(hits, hit{
			frame:         w.Scheduler().Frame(),
			bulletX:       bullet.Pos.X,
			shipUntracked: !g.IsTracked(ship),
		})
	})

	ship := entity.New("ship", physics.Zero, 5)
	ship.Health = 1
	bullet := entity.New("bullet", physics.V(30, 0), 1)
	bullet.Vel = physics.V(-100, 0)

	w.Live(ship, entity.TagShip, entity.Drift(ship, 1))
	// spawned after the ship so a scheduler without phases would test
	// the bullet's previous position
	w.Live(bullet, entity.TagBullet, entity.Drift(bullet, 1))

	err := w.Run(context.Background(), clock.NewFixed(0.1, 5), nil)
	require.ErrorIs(t, err, clock.ErrExhausted)

	require.Len(t, hits, 1)
	assert.Equal(t, uint64(3), hits[0].frame)
	assert.InDelta(t, 0, hits[0].bulletX, 1e-9)
	assert.True(t, hits[0].shipUntracked, "kill must untrack before returning")
	assert.False(t, g.IsTracked(bullet))
	assert.Equal(t, 0, g.Stats().Live)
}

func TestRunEndsWithMain(t *testing.T) {
	w := New()
	w.Group().MustRegister(entity.TagShip, entity.TagShip, func(a, b collision.Body) {})
	drifter := entity.New("drifter", physics.Zero, 1)
	w.Live(drifter, entity.TagShip, entity.Drift(drifter, 1))

	frames := 0
	w.OnFrame(func(s Snapshot) { frames++ })

	err := w.Run(context.Background(), clock.NewFixed(0.1, 100), func(t *nursery.Task) error {
		return t.Sleep(0.35)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, frames, "the collision task is cancelled before frame 4's late phase")
	assert.False(t, w.Group().IsTracked(drifter))
	assert.Equal(t, 0, w.Scheduler().Stats().LiveTasks)
}

func TestRunReportsMainFailure(t *testing.T) {
	boom := errors.New("boom")
	w := New()
	err := w.Run(context.Background(), clock.NewFixed(0.1, 100), func(t *nursery.Task) error {
		if _, err := t.Frame(); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSnapshotCountsAndBodies(t *testing.T) {
	w := New()
	g := w.Group()
	g.MustRegister(entity.TagShip, entity.TagStarBit, func(a, b collision.Body) {})

	for i, x := range []float64{0, 50, 100} {
		e := entity.New([]string{"a", "b", "c"}[i], physics.V(x, 0), 2)
		w.Live(e, entity.TagShip, entity.Drift(e, 1))
	}
	bit := entity.New("bit", physics.V(5, 5), 1)
	w.Live(bit, entity.TagStarBit, entity.Drift(bit, 1))

	var seen []Snapshot
	w.OnFrame(func(s Snapshot) { seen = append(seen, s) })
	require.ErrorIs(t, w.Run(context.Background(), clock.NewFixed(0.5, 2), nil), clock.ErrExhausted)

	require.Len(t, seen, 2)
	snap := w.Snapshot()
	assert.Equal(t, seen[1].Frame, snap.Frame)
	assert.Equal(t, uint64(2), snap.Frame)
	assert.InDelta(t, 1.0, snap.Time, 1e-9)
	assert.Equal(t, map[string]int{"ship": 3, "star_bit": 1}, snap.Counts)
	assert.Len(t, snap.Bodies, 4)
	names := make([]string, 0, len(snap.Bodies))
	for _, b := range snap.Bodies {
		names = append(names, b.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "bit"}, names)
	assert.Positive(t, snap.Tasks)
}

func TestFrameEventsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b := bus.New()
	frames := 0
	_, err := b.Subscribe(EventFrame, func(e bus.Event) error {
		_, ok := e.Data().(Snapshot)
		assert.True(t, ok)
		frames++
		return nil
	})
	require.NoError(t, err)

	w := New(WithLogger(log.NewWithCore(core)), WithEventBus(b))
	require.ErrorIs(t, w.Run(context.Background(), clock.NewFixed(0.1, 4), nil), clock.ErrExhausted)

	assert.Equal(t, 4, frames)
	assert.Equal(t, 1, logs.FilterMessage("world started").Len())
	stopped := logs.FilterMessage("world stopped").All()
	require.Len(t, stopped, 1)
	assert.Equal(t, "sim", stopped[0].ContextMap()["component"])
}

func TestSpawnWhileRunning(t *testing.T) {
	w := New()
	g := w.Group()
	g.MustRegister(entity.TagShip, entity.TagBullet, func(a, b collision.Body) {})

	var late *entity.Entity
	err := w.Run(context.Background(), clock.NewFixed(0.1, 100), func(t *nursery.Task) error {
		if err := t.Sleep(0.15); err != nil {
			return err
		}
		late = entity.New("late", physics.Zero, 1)
		w.Live(late, entity.TagBullet, entity.Lifetime(0.2))
		if _, err := t.Frame(); err != nil {
			return err
		}
		if !g.IsTracked(late) {
			return errors.New("late entity was not tracked")
		}
		return t.Sleep(1)
	})
	require.NoError(t, err)
	require.NotNil(t, late)
	assert.False(t, g.IsTracked(late))
}
