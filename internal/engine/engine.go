// Package engine implements the collection engine: schedule-driven
// command batches, an independent reachability-probe lane, control-state
// polling, and graceful shutdown.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"nwwatch/internal/config"
	"nwwatch/internal/conn"
	"nwwatch/internal/control"
	"nwwatch/internal/nwwatch"
	"nwwatch/internal/store"
)

// Prober probes one host for reachability.
type Prober interface {
	Probe(ctx context.Context, host string) (*float64, error)
}

// Publisher republishes the result store snapshot.
type Publisher interface {
	Publish() error
}

// Engine is one collection engine instance. All state is owned by the
// instance; multiple engines can coexist in tests.
type Engine struct {
	cfg         *config.Config
	store       *store.Store
	conns       *conn.Manager
	prober      Prober
	publisher   Publisher
	schedule    *scheduleTable
	controlPath string
	workers     int
	debug       bool
}

// New assembles an engine from its collaborators. The configuration is
// already validated; New only derives the schedule table from it.
func New(cfg *config.Config, st *store.Store, conns *conn.Manager, prober Prober,
	publisher Publisher, controlPath string, debug bool,
) (*Engine, error) {
	schedule, err := newScheduleTable(cfg.Commands, cfg.Interval(), time.Now())
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:         cfg,
		store:       st,
		conns:       conns,
		prober:      prober,
		publisher:   publisher,
		schedule:    schedule,
		controlPath: controlPath,
		workers:     cfg.Workers,
		debug:       debug,
	}, nil
}

// Run drives both lanes until the context is canceled or a shutdown is
// requested through the control file, then closes all device sessions.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("[INFO] Engine started: %d devices, %d commands, %d workers",
		len(e.cfg.Devices), len(e.cfg.Commands), e.workers)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.commandLoop(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		e.pingLoop(ctx)
	}()
	wg.Wait()

	e.conns.CloseAll()
	log.Print("[INFO] Engine stopped")
	return nil
}

// commandLoop is the single writer of the schedule table. It polls the
// control state each tick, dispatches due batches, and sleeps
// adaptively until the next command is due. It never blocks on device
// I/O itself.
func (e *Engine) commandLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		state := control.Read(e.controlPath)
		if state.ShutdownRequested {
			log.Print("[INFO] Shutdown requested via control file")
			cancel()
			return
		}

		if state.CommandsPaused {
			if e.debug {
				log.Print("[DEBUG] Command collection paused, skipping batch")
			}
		} else {
			e.collectCommands(ctx)
		}

		sleep := e.schedule.sleepFor(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// collectCommands dispatches one batch of due (device, command) pairs,
// then updates the schedule for every command that ran and publishes
// the snapshot exactly once.
func (e *Engine) collectCommands(ctx context.Context) {
	now := time.Now()
	dueCommands := e.schedule.due(now)
	if len(dueCommands) == 0 {
		return
	}

	units := make([]unit, 0, len(e.cfg.Devices)*len(dueCommands))
	for _, device := range e.cfg.Devices {
		for _, command := range dueCommands {
			units = append(units, unit{device: device, command: command})
		}
	}

	e.runBatch(ctx, units)

	now = time.Now()
	for _, command := range dueCommands {
		e.schedule.markRun(command.Text, now)
	}

	// One publish per batch, not per unit.
	_ = e.publisher.Publish()
}

// pingLoop probes reachability on its own fixed interval. It continues
// while command collection is paused and shares only the store and
// publisher with the command lane.
func (e *Engine) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PingInterval())
	defer ticker.Stop()

	e.collectPings(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.collectPings(ctx)
		}
	}
}

// collectPings probes every device concurrently, bounded by the worker
// pool size, and publishes after the sweep.
func (e *Engine) collectPings(ctx context.Context) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for _, device := range e.cfg.Devices {
		sem <- struct{}{}
		wg.Add(1)
		go func(device nwwatch.Device) {
			defer wg.Done()
			defer func() { <-sem }()
			e.pingDevice(ctx, device)
		}(device)
	}
	wg.Wait()

	_ = e.publisher.Publish()
}

func (e *Engine) pingDevice(ctx context.Context, device nwwatch.Device) {
	sample := &nwwatch.PingSample{
		Device:    device.Name,
		Timestamp: time.Now().Unix(),
	}

	rtt, err := e.prober.Probe(ctx, device.PingTarget())
	if err != nil {
		sample.Error = err.Error()
	} else {
		sample.OK = true
		sample.RTTMS = rtt
	}

	if err := e.store.AppendPingSample(sample); err != nil {
		log.Printf("[ERROR] Failed to record ping sample for %s: %v", device.Name, err)
	}
}
