package engine

import (
	"testing"
	"time"

	"nwwatch/internal/nwwatch"
)

func TestNewScheduleTableInitialDueTimes(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 2, 30, 0, time.UTC)
	commands := []nwwatch.Command{
		{Text: "show version", Schedule: "*/5 * * * *"},
		{Text: "show clock", IntervalSeconds: 10},
		{Text: "show ip route"},
	}

	table, err := newScheduleTable(commands, 5*time.Second, now)
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}

	// Interval and default-interval commands are due immediately; the
	// cron command waits for its first grid point.
	due := table.due(now)
	if len(due) != 2 {
		t.Fatalf("got %d due commands at startup, want 2", len(due))
	}
	if due[0].Text != "show clock" || due[1].Text != "show ip route" {
		t.Errorf("due = %v", due)
	}

	wantCron := time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC)
	if got := table.entries["show version"].nextRun; !got.Equal(wantCron) {
		t.Errorf("cron nextRun = %v, want %v", got, wantCron)
	}
}

func TestNewScheduleTableRejectsBadCron(t *testing.T) {
	_, err := newScheduleTable([]nwwatch.Command{
		{Text: "show version", Schedule: "99 99 * * *"},
	}, time.Second, time.Now())
	if err == nil {
		t.Fatal("newScheduleTable() accepted an invalid cron expression")
	}
}

func TestDuePreservesConfigurationOrder(t *testing.T) {
	now := time.Now()
	commands := []nwwatch.Command{
		{Text: "c", IntervalSeconds: 5},
		{Text: "a", IntervalSeconds: 5},
		{Text: "b", IntervalSeconds: 5},
	}
	table, err := newScheduleTable(commands, time.Second, now)
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}

	due := table.due(now)
	if len(due) != 3 {
		t.Fatalf("got %d due commands, want 3", len(due))
	}
	for i, want := range []string{"c", "a", "b"} {
		if due[i].Text != want {
			t.Errorf("due[%d] = %q, want %q", i, due[i].Text, want)
		}
	}
}

func TestMarkRunIntervalSchedulesFromNow(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	table, err := newScheduleTable([]nwwatch.Command{
		{Text: "show clock", IntervalSeconds: 10},
	}, time.Second, start)
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}

	// The batch finished 3s after dispatch; the next run counts from the
	// completion clock, not the original due time.
	finished := start.Add(3 * time.Second)
	table.markRun("show clock", finished)

	want := finished.Add(10 * time.Second)
	if got := table.entries["show clock"].nextRun; !got.Equal(want) {
		t.Errorf("nextRun = %v, want %v", got, want)
	}
	if len(table.due(finished.Add(9 * time.Second))) != 0 {
		t.Error("command due again before its interval elapsed")
	}
	if len(table.due(want)) != 1 {
		t.Error("command not due at its next-run time")
	}
}

func TestMarkRunCronAdvancesPastMissedSlots(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	table, err := newScheduleTable([]nwwatch.Command{
		{Text: "show version", Schedule: "*/5 * * * *"},
	}, time.Second, start)
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}

	// A batch that overran past several grid points: the next run is the
	// first occurrence after completion, never a backlog of missed slots.
	finished := start.Add(12 * time.Minute)
	table.markRun("show version", finished)

	want := time.Date(2026, 8, 1, 10, 15, 0, 0, time.UTC)
	if got := table.entries["show version"].nextRun; !got.Equal(want) {
		t.Errorf("nextRun = %v, want %v", got, want)
	}
}

func TestMarkRunUnknownCommandIgnored(t *testing.T) {
	table, err := newScheduleTable(nil, time.Second, time.Now())
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}
	table.markRun("no such command", time.Now())
}

func TestSleepFor(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		nextRun  time.Time
		interval int
		want     time.Duration
	}{
		{"already due clamps to minimum", now.Add(-time.Minute), 10, minSleep},
		{"due soon clamps to minimum", now.Add(200 * time.Millisecond), 10, minSleep},
		{"due within bounds", now.Add(7 * time.Second), 10, 7 * time.Second},
		{"far future clamps to maximum", now.Add(10 * time.Minute), 10, maxSleep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := newScheduleTable([]nwwatch.Command{
				{Text: "cmd", IntervalSeconds: tt.interval},
			}, 5*time.Second, now)
			if err != nil {
				t.Fatalf("newScheduleTable() error = %v", err)
			}
			table.entries["cmd"].nextRun = tt.nextRun

			if got := table.sleepFor(now); got != tt.want {
				t.Errorf("sleepFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSleepForUsesSoonestCommand(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	table, err := newScheduleTable([]nwwatch.Command{
		{Text: "slow", IntervalSeconds: 60},
		{Text: "fast", IntervalSeconds: 10},
	}, 5*time.Second, now)
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}
	table.entries["slow"].nextRun = now.Add(45 * time.Second)
	table.entries["fast"].nextRun = now.Add(4 * time.Second)

	if got := table.sleepFor(now); got != 4*time.Second {
		t.Errorf("sleepFor() = %v, want 4s", got)
	}
}

func TestSleepForNoCommands(t *testing.T) {
	table, err := newScheduleTable(nil, 5*time.Second, time.Now())
	if err != nil {
		t.Fatalf("newScheduleTable() error = %v", err)
	}
	if got := table.sleepFor(time.Now()); got != 5*time.Second {
		t.Errorf("sleepFor() = %v, want the default interval", got)
	}
}
