// Package schedule drives a rx.Universe forward in fixed-rate ticks. Each
// tick fans one goroutine per tracked object into an errgroup.Group, so a
// hard per-object failure (a compute panic, a validation error) cancels the
// tick's remaining advances while independent objects that merely lost a
// compare-and-append race keep retrying on the next tick.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rxsim/internal/telemetry"
	"rxsim/rx"
)

// Config controls the driver's tick cadence and catch-up behavior.
type Config struct {
	// TickRate is the number of ticks per wall-clock second.
	TickRate int
	// MaxCatchupTicks bounds how many ticks a single Run iteration will
	// replay after a stall (a slow previous tick, a suspended process)
	// before giving up on catching up to wall-clock time.
	MaxCatchupTicks int
}

// DefaultConfig returns the driver's baseline cadence.
func DefaultConfig() Config {
	return Config{TickRate: 20, MaxCatchupTicks: 5}
}

func (c Config) tickDuration() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = 20
	}
	return time.Second / time.Duration(rate)
}

func (c Config) maxCatchup() int {
	if c.MaxCatchupTicks <= 0 {
		return 5
	}
	return c.MaxCatchupTicks
}

// Hooks lets a caller observe tick boundaries without subclassing Driver.
type Hooks struct {
	// BeforeTick runs synchronously before the tick's advances are spawned.
	BeforeTick func(tick uint64)
	// AfterTick runs once every advance for the tick has returned. err is
	// the first non-nil error reported by any tracked object, if any.
	AfterTick func(tick uint64, err error)
}

// Driver owns the set of objects it advances every tick. It does not own
// the Universe itself, which may be observed or seeded concurrently by
// other callers (the demo's websocket broadcaster, tests, and so on).
type Driver struct {
	cfg      Config
	universe *rx.Universe
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	hooks    Hooks

	mu      sync.Mutex
	tracked []rx.ObjectID
	tick    uint64
}

// New constructs a Driver over universe using cfg and hooks. A nil logger
// or metrics is treated as a no-op.
func New(universe *rx.Universe, cfg Config, logger telemetry.Logger, metrics telemetry.Metrics, hooks Hooks) *Driver {
	return &Driver{
		cfg:      cfg,
		universe: universe,
		logger:   logger,
		metrics:  metrics,
		hooks:    hooks,
	}
}

// Track adds object to the set advanced every tick. Safe for concurrent use.
func (d *Driver) Track(object rx.ObjectID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.tracked {
		if existing == object {
			return
		}
	}
	d.tracked = append(d.tracked, object)
}

// Tracked returns a snapshot of the objects currently advanced every tick.
func (d *Driver) Tracked() []rx.ObjectID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]rx.ObjectID, len(d.tracked))
	copy(out, d.tracked)
	return out
}

// RunTick advances every tracked object exactly once, one goroutine per
// object under a shared errgroup.Group. It returns the first error reported
// by any object's AdvanceState call, if any; the group's shared context is
// cancelled as soon as one advance fails, so objects later in the fan-out
// may return ctx.Err() instead of running to completion. A losing
// compare-and-append is not an error (see rx.Universe.AdvanceState), so a
// busy but healthy tick returns nil.
func (d *Driver) RunTick(ctx context.Context) error {
	tick := d.nextTick()
	if d.hooks.BeforeTick != nil {
		d.hooks.BeforeTick(tick)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, object := range d.Tracked() {
		object := object
		group.Go(func() error {
			if err := d.universe.AdvanceState(groupCtx, object); err != nil {
				d.notifyAdvanceFailure(object, err)
				return err
			}
			return nil
		})
	}
	err := group.Wait()

	if d.hooks.AfterTick != nil {
		d.hooks.AfterTick(tick, err)
	}
	if d.metrics != nil {
		d.metrics.Add("schedule_ticks_total", 1)
		if err != nil {
			d.metrics.Add("schedule_tick_errors_total", 1)
		}
	}
	return err
}

func (d *Driver) nextTick() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	return d.tick
}

func (d *Driver) notifyAdvanceFailure(object rx.ObjectID, err error) {
	if d.logger != nil {
		d.logger.Printf("schedule: advance failed for %s: %v", object, err)
	}
}

// Run drives RunTick at cfg.TickRate until stop is closed or ctx is done. It
// uses a fixed-timestep accumulator: after a wall-clock delay longer than
// one tick (a GC pause, a debugger breakpoint) the accumulator is clamped to
// cfg.MaxCatchupTicks intervals, so one iteration runs at most that many
// ticks (the tick that was due included) and the simulation
// never tries to "catch up" indefinitely after a long stall.
func (d *Driver) Run(ctx context.Context, stop <-chan struct{}) error {
	interval := d.cfg.tickDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	var accumulated time.Duration

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case now := <-ticker.C:
			accumulated += now.Sub(last)
			last = now

			maxAccumulated := interval * time.Duration(d.cfg.maxCatchup())
			if accumulated > maxAccumulated {
				if d.logger != nil {
					d.logger.Printf("schedule: clamping accumulated catch-up from %s to %s", accumulated, maxAccumulated)
				}
				accumulated = maxAccumulated
			}

			for accumulated >= interval {
				if err := d.RunTick(ctx); err != nil {
					return fmt.Errorf("schedule: tick %d failed: %w", d.tick, err)
				}
				accumulated -= interval
			}
		}
	}
}
