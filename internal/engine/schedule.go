package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"nwwatch/internal/nwwatch"
)

const (
	// Bounds on the adaptive sleep between due-checks: never busy-spin,
	// never sleep past responsiveness to newly due work.
	minSleep = 1 * time.Second
	maxSleep = 60 * time.Second
)

// scheduleEntry tracks when one command is next due. cronSched is nil
// for interval-based commands.
type scheduleEntry struct {
	cronSched cron.Schedule
	nextRun   time.Time
	command   nwwatch.Command
	interval  time.Duration
}

// scheduleTable holds due-time bookkeeping for every command. It is
// owned by the command loop: a single writer, no lock.
type scheduleTable struct {
	entries         map[string]*scheduleEntry
	order           []string
	defaultInterval time.Duration
}

// newScheduleTable initializes next-run times at startup: interval
// commands are due immediately, cron commands at their first occurrence
// after now.
func newScheduleTable(commands []nwwatch.Command, defaultInterval time.Duration, now time.Time) (*scheduleTable, error) {
	t := &scheduleTable{
		entries:         make(map[string]*scheduleEntry, len(commands)),
		defaultInterval: defaultInterval,
	}
	for _, cmd := range commands {
		entry := &scheduleEntry{command: cmd}
		switch {
		case cmd.Schedule != "":
			sched, err := cron.ParseStandard(cmd.Schedule)
			if err != nil {
				return nil, fmt.Errorf("parse schedule for command %q: %w", cmd.Text, err)
			}
			entry.cronSched = sched
			entry.nextRun = sched.Next(now)
			log.Printf("[INFO] Command %q scheduled with cron %q, next run at %s",
				cmd.Text, cmd.Schedule, entry.nextRun.Format(time.RFC3339))
		case cmd.IntervalSeconds > 0:
			entry.interval = time.Duration(cmd.IntervalSeconds) * time.Second
			entry.nextRun = now
			log.Printf("[INFO] Command %q uses interval scheduling, interval=%s", cmd.Text, entry.interval)
		default:
			entry.interval = defaultInterval
			entry.nextRun = now
			log.Printf("[INFO] Command %q uses the default interval %s", cmd.Text, defaultInterval)
		}
		t.entries[cmd.Text] = entry
		t.order = append(t.order, cmd.Text)
	}
	return t, nil
}

// due returns every command whose next-run time is at or before now, in
// configuration order.
func (t *scheduleTable) due(now time.Time) []nwwatch.Command {
	var commands []nwwatch.Command
	for _, text := range t.order {
		entry := t.entries[text]
		if !entry.nextRun.After(now) {
			commands = append(commands, entry.command)
		}
	}
	return commands
}

// markRun recomputes a command's next-run time from the current wall
// clock. This is the fire at-or-after policy: no due command is ever
// skipped, at the cost of drifting off the cron grid under sustained
// overload.
func (t *scheduleTable) markRun(commandText string, now time.Time) {
	entry, ok := t.entries[commandText]
	if !ok {
		return
	}
	if entry.cronSched != nil {
		entry.nextRun = entry.cronSched.Next(now)
	} else {
		entry.nextRun = now.Add(entry.interval)
	}
}

// sleepFor returns how long the command loop should sleep before the
// next due-check, clamped to [minSleep, maxSleep]. With no commands
// configured it falls back to the global default interval.
func (t *scheduleTable) sleepFor(now time.Time) time.Duration {
	if len(t.entries) == 0 {
		return t.defaultInterval
	}
	var minWait time.Duration
	first := true
	for _, entry := range t.entries {
		wait := entry.nextRun.Sub(now)
		if wait < 0 {
			wait = 0
		}
		if first || wait < minWait {
			minWait = wait
			first = false
		}
	}
	if minWait < minSleep {
		return minSleep
	}
	if minWait > maxSleep {
		return maxSleep
	}
	return minWait
}
