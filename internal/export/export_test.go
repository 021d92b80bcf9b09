package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"nwwatch/internal/nwwatch"
)

func TestFormatTimestampJST(t *testing.T) {
	// 2026-01-01 00:00:00 UTC is 09:00 JST.
	got := formatTimestampJST(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	want := "2026-01-01 09:00:00 JST"
	if got != want {
		t.Errorf("formatTimestampJST() = %q, want %q", got, want)
	}
}

func TestRunAsTextSuccess(t *testing.T) {
	text := RunAsText(nwwatch.Run{
		Device:     "r1",
		Command:    "show version",
		Timestamp:  1000,
		Output:     "IOS 15.2",
		OK:         true,
		DurationMS: 42.5,
	})

	for _, want := range []string{
		"Device: r1",
		"Command: show version",
		"Duration: 42.50ms",
		"Status: Success",
		"IOS 15.2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text export missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Filtered:") || strings.Contains(text, "Truncated:") {
		t.Error("flags printed for an unfiltered, untruncated run")
	}
}

func TestRunAsTextError(t *testing.T) {
	text := RunAsText(nwwatch.Run{
		Device:    "r1",
		Command:   "show version",
		Timestamp: 1000,
		OK:        false,
		Error:     "connection refused",
	})
	if !strings.Contains(text, "Status: Error") {
		t.Error("missing error status")
	}
	if !strings.Contains(text, "Error: connection refused") {
		t.Error("missing error message")
	}
}

func TestRunAsTextEmptyErrorMessage(t *testing.T) {
	text := RunAsText(nwwatch.Run{Device: "r1", Command: "c", OK: false})
	if !strings.Contains(text, "Error: Unknown error") {
		t.Error("empty error message not replaced with placeholder")
	}
}

func TestRunAsTextFlags(t *testing.T) {
	text := RunAsText(nwwatch.Run{
		Device:            "r1",
		Command:           "show log",
		OK:                true,
		Output:            "",
		Filtered:          true,
		Truncated:         true,
		OriginalLineCount: 900,
	})
	for _, want := range []string{"Filtered: Yes", "Truncated: Yes", "Original Line Count: 900", "(no output)"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q:\n%s", want, text)
		}
	}
}

func TestRunAsJSON(t *testing.T) {
	out, err := RunAsJSON(nwwatch.Run{
		Device:     "r1",
		Command:    "show version",
		Timestamp:  1000,
		Output:     "IOS 15.2",
		OK:         true,
		DurationMS: 42.5,
	})
	if err != nil {
		t.Fatalf("RunAsJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["status"] != "success" {
		t.Errorf("status = %v", decoded["status"])
	}
	if decoded["output"] != "IOS 15.2" {
		t.Errorf("output = %v", decoded["output"])
	}
	if decoded["error_message"] != nil {
		t.Errorf("error_message = %v, want null", decoded["error_message"])
	}
	if decoded["timestamp_epoch"] != float64(1000) {
		t.Errorf("timestamp_epoch = %v", decoded["timestamp_epoch"])
	}
}

func TestRunAsJSONError(t *testing.T) {
	out, err := RunAsJSON(nwwatch.Run{
		Device:    "r1",
		Command:   "show version",
		Timestamp: 1000,
		OK:        false,
		Error:     "connection refused",
	})
	if err != nil {
		t.Fatalf("RunAsJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["status"] != "error" {
		t.Errorf("status = %v", decoded["status"])
	}
	if decoded["output"] != nil {
		t.Errorf("output = %v, want null", decoded["output"])
	}
	if decoded["error_message"] != "connection refused" {
		t.Errorf("error_message = %v", decoded["error_message"])
	}
}

func TestBulkRunsAsJSON(t *testing.T) {
	runs := map[string][]nwwatch.Run{
		"r1": {{Device: "r1", Command: "show version", Timestamp: 1, OK: true, Output: "a"}},
		"r2": {{Device: "r2", Command: "show version", Timestamp: 2, OK: true, Output: "b"}},
	}
	out, err := BulkRunsAsJSON(runs, "show version", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BulkRunsAsJSON() error = %v", err)
	}

	var decoded struct {
		Devices         map[string][]map[string]any `json:"devices"`
		Command         string                      `json:"command"`
		ExportTimestamp string                      `json:"export_timestamp"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Command != "show version" {
		t.Errorf("command = %q", decoded.Command)
	}
	if decoded.ExportTimestamp != "2026-08-01 00:00:00 UTC" {
		t.Errorf("export_timestamp = %q", decoded.ExportTimestamp)
	}
	if len(decoded.Devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(decoded.Devices))
	}
	// Per-run identity is carried by the devices map, not repeated.
	if _, ok := decoded.Devices["r1"][0]["device"]; ok {
		t.Error("device name repeated inside run entry")
	}
}

func TestPingSamplesAsCSV(t *testing.T) {
	rtt := 1.5
	out, err := PingSamplesAsCSV([]nwwatch.PingSample{
		{Device: "r1", Timestamp: 1000, OK: true, RTTMS: &rtt},
		{Device: "r1", Timestamp: 2000, OK: false, Error: "ping failed"},
	}, "r1")
	if err != nil {
		t.Fatalf("PingSamplesAsCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d csv lines, want 3", len(lines))
	}
	if lines[0] != "Device,Timestamp,Timestamp_Epoch,Status,RTT_ms,Error_Message" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "success") || !strings.Contains(lines[1], "1.5") {
		t.Errorf("success row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "failure") || !strings.Contains(lines[2], "ping failed") {
		t.Errorf("failure row = %q", lines[2])
	}
}

func TestPingSamplesAsJSON(t *testing.T) {
	rtt := 0.75
	out, err := PingSamplesAsJSON([]nwwatch.PingSample{
		{Device: "r1", Timestamp: 1000, OK: true, RTTMS: &rtt},
		{Device: "r1", Timestamp: 2000, OK: false, Error: "ping failed"},
	}, "r1", time.Now())
	if err != nil {
		t.Fatalf("PingSamplesAsJSON() error = %v", err)
	}

	var decoded struct {
		Device  string `json:"device"`
		Samples []struct {
			Status       string   `json:"status"`
			RTTMS        *float64 `json:"rtt_ms"`
			ErrorMessage *string  `json:"error_message"`
		} `json:"samples"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Device != "r1" {
		t.Errorf("device = %q", decoded.Device)
	}
	if len(decoded.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(decoded.Samples))
	}
	if decoded.Samples[0].Status != "success" || decoded.Samples[0].RTTMS == nil || *decoded.Samples[0].RTTMS != 0.75 {
		t.Errorf("success sample = %+v", decoded.Samples[0])
	}
	if decoded.Samples[1].Status != "failure" || decoded.Samples[1].ErrorMessage == nil {
		t.Errorf("failure sample = %+v", decoded.Samples[1])
	}
}
