package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/zeusync/simkernel/internal/config"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/injector"
	"github.com/zeusync/simkernel/internal/scenario"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sim:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		frames     = flag.Int("frames", -1, "stop after this many frames, 0 for no limit")
		spectator  = flag.String("spectator", "", "serve the spectator feed on this address")
		watch      = flag.Bool("watch", false, "reload the config file when it changes")
		runs       = flag.Int("runs", 0, "play this many consecutive seeds headless and print their results")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *frames >= 0 {
		cfg.Clock.Frames = *frames
	}
	if *spectator != "" {
		cfg.Spectator.Enabled = true
		cfg.Spectator.Addr = *spectator
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runs > 0 {
		return batch(ctx, cfg, *runs)
	}

	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath)
		if err != nil {
			return err
		}
		defer w.Close()
		go follow(ctx, app, w)
	}

	err = app.Run(ctx)
	if errors.Is(err, context.Canceled) {
		app.Logger.Info("interrupted")
		return nil
	}
	return err
}

func follow(ctx context.Context, app *injector.App, w *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}
			app.Reload(cfg)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			app.Logger.Warn("config reload failed", log.Error(err))
		}
	}
}

func batch(ctx context.Context, cfg config.Config, runs int) error {
	seeds := make([]uint64, runs)
	for i := range seeds {
		seeds[i] = cfg.Scenario.Seed + uint64(i)
	}
	results, err := scenario.RunSeeds(ctx, cfg.Scenario, seeds, runtime.GOMAXPROCS(0), 1/cfg.Clock.Rate, cfg.Clock.Frames)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
