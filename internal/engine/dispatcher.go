package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"nwwatch/internal/filters"
	"nwwatch/internal/nwwatch"
)

// unit is one due (device, command) pair for this tick.
type unit struct {
	device  nwwatch.Device
	command nwwatch.Command
}

// runBatch executes every unit to completion on the bounded worker
// pool. Failures are captured per unit and recorded as failed runs;
// the batch returns only after every unit has succeeded or failed.
func (e *Engine) runBatch(ctx context.Context, units []unit) {
	if len(units) == 0 {
		return
	}

	// Shutdown must not hard-kill workers mid-command; the batch runs
	// to completion even when the engine context is already canceled.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for _, u := range units {
		sem <- struct{}{}
		wg.Add(1)
		go func(u unit) {
			defer wg.Done()
			defer func() { <-sem }()
			e.executeUnit(ctx, u)
		}(u)
	}
	wg.Wait()

	if e.debug {
		log.Printf("[DEBUG] Batch of %d units completed in %v", len(units), time.Since(start))
	}
}

// executeUnit runs one command on one device and records the outcome.
// Nothing escapes: every failure becomes a failed run record.
func (e *Engine) executeUnit(ctx context.Context, u unit) {
	timestamp := time.Now().Unix()

	output, duration, err := e.conns.Execute(ctx, u.device.Name, u.command.Text)
	if err != nil {
		log.Printf("[ERROR] Error executing %q on %s: %v", u.command.Text, u.device.Name, err)
		e.appendRun(&nwwatch.Run{
			Device:     u.device.Name,
			Command:    u.command.Text,
			Timestamp:  timestamp,
			OK:         false,
			Error:      err.Error(),
			DurationMS: float64(duration.Microseconds()) / 1000,
		})
		return
	}

	result := filters.Process(output,
		e.cfg.LineExclusions(u.command.Text),
		e.cfg.OutputExclusions(u.command.Text),
		e.cfg.MaxOutputLines)

	e.appendRun(&nwwatch.Run{
		Device:            u.device.Name,
		Command:           u.command.Text,
		Timestamp:         timestamp,
		Output:            result.Output,
		OK:                true,
		DurationMS:        float64(duration.Microseconds()) / 1000,
		Filtered:          result.Filtered,
		Truncated:         result.Truncated,
		OriginalLineCount: result.OriginalLineCount,
	})

	log.Printf("[INFO] Executed %q on %s in %.2fms", u.command.Text, u.device.Name,
		float64(duration.Microseconds())/1000)
}

func (e *Engine) appendRun(run *nwwatch.Run) {
	if err := e.store.AppendRun(run); err != nil {
		log.Printf("[ERROR] Failed to record run for %s: %v", run.Device, err)
	}
}
