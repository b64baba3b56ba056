// Package app wires the demo driver together: logging, the rx.Universe, a
// schedule.Driver ticking it forward, and a websocket broadcaster of the
// tracked objects' evolving state. It is the analog of the teacher's
// internal/app.Run / cmd/server/main.go split, generalized away from the
// game's hub to this repository's engine.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"rxsim/internal/schedule"
	"rxsim/internal/telemetry"
	"rxsim/logging"
	loggingSinks "rxsim/logging/sinks"
	"rxsim/rx"
)

// Config controls how the demo wires itself together.
type Config struct {
	Addr         string
	ScenarioPath string
	Logger       *log.Logger
}

// Run builds the logging router, seeds a Universe from the configured
// scenario, starts a schedule.Driver advancing it, and serves a websocket
// endpoint broadcasting every tracked object's state until ctx is cancelled.
func Run(ctx context.Context, cfg Config, seed func(*rx.Universe) (*DemoScenario, error), newBroadcaster func(*log.Logger) Broadcaster) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	logConfig := logging.DefaultConfig()
	logConfig.Metadata["component"] = "rxsim-demo"
	logConfig.Metadata["addr"] = addr
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsole(os.Stdout),
	}
	if jsonPath := os.Getenv("DEMO_JSON_LOG_PATH"); jsonPath != "" {
		jsonSink, err := loggingSinks.NewJSONSink(logging.JSONConfig{FilePath: jsonPath})
		if err != nil {
			return fmt.Errorf("app: construct json logging sink: %w", err)
		}
		sinks["json"] = jsonSink
		logConfig.JSON.FilePath = jsonPath
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, logger, sinks)
	if err != nil {
		return fmt.Errorf("app: construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("app: failed to close logging router: %v", cerr)
		}
	}()

	observer := &telemetry.ObserverAdapter{Publisher: router, Metrics: telemetry.WrapMetrics(router.Metrics())}
	universe := rx.NewUniverse(rx.WithObserver(observer))

	scenario, err := seed(universe)
	if err != nil {
		return fmt.Errorf("app: seed universe: %w", err)
	}

	schedCfg := schedule.DefaultConfig()
	if raw := os.Getenv("DEMO_TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			schedCfg.TickRate = value
		} else {
			logger.Printf("app: invalid DEMO_TICK_RATE=%q", raw)
		}
	} else if scenario.TickRate > 0 {
		schedCfg.TickRate = scenario.TickRate
	}

	driver := schedule.New(universe, schedCfg, logger, telemetry.WrapMetrics(router.Metrics()), schedule.Hooks{})
	for _, id := range scenario.Objects {
		driver.Track(id)
	}

	driverCtx, cancelDriver := context.WithCancel(ctx)
	defer cancelDriver()
	stop := make(chan struct{})
	driverDone := make(chan error, 1)
	go func() { driverDone <- driver.Run(driverCtx, stop) }()
	defer close(stop)

	broadcaster := newBroadcaster(logger)
	for _, id := range scenario.Objects {
		go broadcaster.Watch(driverCtx, universe, id)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	mux.Handle("/ws", broadcaster)

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Printf("app: listening on %s", addr)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: server failed: %w", err)
		}
		return nil
	}
}

// DemoScenario reports the ids a demo seed function registered, so Run can
// track and broadcast them without depending on cmd/demo's scenario type.
type DemoScenario struct {
	TickRate int
	Objects  []rx.ObjectID
}

// Broadcaster is the subset of cmd/demo's websocket broadcaster Run needs,
// kept as an interface here so this package stays free of the
// gorilla/websocket import (cmd/demo owns that dependency directly).
type Broadcaster interface {
	http.Handler
	Watch(ctx context.Context, universe *rx.Universe, object rx.ObjectID)
}
