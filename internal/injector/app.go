package injector

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/simkernel/internal/config"
	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/sim"
	"github.com/zeusync/simkernel/internal/scenario"
	"github.com/zeusync/simkernel/internal/server"
)

const stopTimeout = 5 * time.Second

// App is the wired simulator. Spectator is nil when disabled.
type App struct {
	Config    config.Config
	Logger    *log.Logger
	Bus       bus.EventBus
	World     *sim.World
	Battle    *scenario.Battle
	Spectator *server.Server
}

// Run plays the battle to the end, serving spectators meanwhile. Running out
// of frames is a normal stop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	simDone := make(chan struct{})

	if a.Spectator != nil {
		if err := a.Spectator.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-simDone:
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			return a.Spectator.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		defer close(simDone)
		src := a.Config.Clock.Source()
		if rt, ok := src.(*clock.Realtime); ok {
			defer rt.Stop()
		}
		err := a.World.Run(ctx, src, a.Battle.Run)
		if errors.Is(err, clock.ErrExhausted) {
			a.Logger.Info("frame budget exhausted", log.Int("frames", a.Config.Clock.Frames))
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	st := a.Battle.Stats()
	a.Logger.Info("battle finished",
		log.Int("waves", st.Waves),
		log.Int("spawned", st.Spawned),
		log.Int("shots", st.Shots),
		log.Int("hits", st.Hits),
		log.Int("kills", st.Kills),
		log.Int("collected", st.Collected),
		log.Int("survivors", st.Survivors))
	return nil
}

// Reload applies a changed config to a running app. Only the log level is
// live; anything else is picked up on restart.
func (a *App) Reload(cfg config.Config) {
	if lvl := cfg.Log.LogLevel(); lvl != a.Logger.GetLevel() {
		a.Logger.SetLevel(lvl)
		a.Logger.Info("log level changed", log.String("level", lvl.String()))
	}
	if cfg.Scenario != a.Config.Scenario || cfg.Clock != a.Config.Clock || cfg.Spectator != a.Config.Spectator {
		a.Logger.Warn("config change needs a restart to apply")
	}
	a.Config.Log = cfg.Log
}
