package scenario

import (
	"context"
	"errors"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/sim"
	"github.com/zeusync/simkernel/pkg/concurrent"
)

// Result is the outcome of one seeded battle.
type Result struct {
	Seed   uint64 `json:"seed"`
	Frames int    `json:"frames"`
	Stats  Stats  `json:"stats"`
}

// RunSeeds plays one battle per seed on a fixed clock, up to workers at a
// time. Each battle owns its world, so runs never interact. Results follow
// the order of seeds; a battle that runs out of frames still reports.
func RunSeeds(ctx context.Context, cfg Config, seeds []uint64, workers int, dt float64, frames int) ([]Result, error) {
	return concurrent.Map(ctx, seeds, workers, func(ctx context.Context, seed uint64) (Result, error) {
		c := cfg
		c.Seed = seed
		w := sim.New()
		b, err := New(w, c)
		if err != nil {
			return Result{}, err
		}
		src := clock.NewFixed(dt, frames)
		if err := w.Run(ctx, src, b.Run); err != nil && !errors.Is(err, clock.ErrExhausted) {
			return Result{}, err
		}
		return Result{Seed: seed, Frames: src.Produced(), Stats: b.Stats()}, nil
	})
}
