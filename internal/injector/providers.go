package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/simkernel/internal/config"
	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/sim"
	"github.com/zeusync/simkernel/internal/scenario"
	"github.com/zeusync/simkernel/internal/server"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideWorld,
	ProvideBattle,
	ProvideSpectator,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) (*log.Logger, func()) {
	l := log.New(cfg.Log.LogLevel())
	return l, func() { _ = l.Sync() }
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideWorld(l *log.Logger, b bus.EventBus) *sim.World {
	return sim.New(sim.WithLogger(l), sim.WithEventBus(b))
}

func ProvideBattle(cfg config.Config, w *sim.World, l *log.Logger) (*scenario.Battle, error) {
	return scenario.New(w, cfg.Scenario, scenario.WithLogger(l))
}

// ProvideSpectator returns a nil server when the spectator is disabled.
func ProvideSpectator(cfg config.Config, l *log.Logger, b bus.EventBus) (*server.Server, func(), error) {
	if !cfg.Spectator.Enabled {
		return nil, func() {}, nil
	}
	sc := server.DefaultConfig()
	sc.ListenAddr = cfg.Spectator.Addr
	sc.Every = cfg.Spectator.Every
	sc.Token = cfg.Spectator.Token

	s, err := server.New(sc, l)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Attach(b); err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
