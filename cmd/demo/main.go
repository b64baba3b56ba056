// Command demo drives a small rx.Universe forward over a websocket,
// exercising the engine end-to-end the way the teacher's cmd/server drives
// internal/sim: it is explicitly outside the engine's core (§1), a thin
// driver built on top of it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rxsim/internal/app"
	"rxsim/rx"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "HTTP listen address")
		scenarioPath = flag.String("scenario", "", "path to a YAML scenario file (default: built-in scenario)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seed := func(universe *rx.Universe) (*app.DemoScenario, error) {
		scenario := DefaultScenario()
		if *scenarioPath != "" {
			loaded, err := LoadScenario(*scenarioPath)
			if err != nil {
				return nil, err
			}
			scenario = loaded
		}
		ids, err := Seed(universe, scenario)
		if err != nil {
			return nil, err
		}
		return &app.DemoScenario{TickRate: scenario.TickRate, Objects: ids}, nil
	}

	newBroadcaster := func(logger *log.Logger) app.Broadcaster {
		return NewBroadcaster(logger)
	}

	cfg := app.Config{Addr: *addr, Logger: logger}
	if err := app.Run(ctx, cfg, seed, newBroadcaster); err != nil {
		logger.Fatalf("demo: %v", err)
	}
}
