// Package export renders collected runs and ping samples as text, JSON
// and CSV for operators.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nwwatch/internal/nwwatch"
)

const separator = "================================================================================"

// This deployment reports in Japan Standard Time.
var jst = time.FixedZone("JST", 9*60*60)

func formatTimestampJST(epoch int64) string {
	return time.Unix(epoch, 0).In(jst).Format("2006-01-02 15:04:05") + " JST"
}

func formatExportTimestamp(now time.Time) string {
	return now.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// RunAsText renders a single run as annotated plain text.
func RunAsText(run nwwatch.Run) string {
	var b strings.Builder
	b.WriteString(separator + "\n")
	b.WriteString("Network Watch - Command Output Export\n")
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Device: %s\n", run.Device)
	fmt.Fprintf(&b, "Command: %s\n", run.Command)
	fmt.Fprintf(&b, "Timestamp: %s\n", formatTimestampJST(run.Timestamp))
	fmt.Fprintf(&b, "Duration: %.2fms\n", run.DurationMS)
	if run.OK {
		b.WriteString("Status: Success\n")
	} else {
		b.WriteString("Status: Error\n")
	}
	if run.Filtered {
		b.WriteString("Filtered: Yes\n")
	}
	if run.Truncated {
		b.WriteString("Truncated: Yes\n")
	}
	if run.OriginalLineCount > 0 {
		fmt.Fprintf(&b, "Original Line Count: %d\n", run.OriginalLineCount)
	}
	b.WriteString(separator + "\n\n")
	if run.OK {
		if run.Output == "" {
			b.WriteString("(no output)")
		} else {
			b.WriteString(run.Output)
		}
	} else {
		fmt.Fprintf(&b, "Error: %s", errorOrUnknown(run.Error))
	}
	return b.String()
}

type runJSON struct {
	Device            string  `json:"device,omitempty"`
	Command           string  `json:"command,omitempty"`
	Timestamp         string  `json:"timestamp"`
	TimestampEpoch    int64   `json:"timestamp_epoch"`
	DurationMS        float64 `json:"duration_ms"`
	Status            string  `json:"status"`
	Output            *string `json:"output"`
	ErrorMessage      *string `json:"error_message"`
	IsFiltered        bool    `json:"is_filtered"`
	IsTruncated       bool    `json:"is_truncated"`
	OriginalLineCount int     `json:"original_line_count"`
}

func runToJSON(run nwwatch.Run, includeIdentity bool) runJSON {
	out := runJSON{
		Timestamp:         formatTimestampJST(run.Timestamp),
		TimestampEpoch:    run.Timestamp,
		DurationMS:        run.DurationMS,
		Status:            "error",
		IsFiltered:        run.Filtered,
		IsTruncated:       run.Truncated,
		OriginalLineCount: run.OriginalLineCount,
	}
	if includeIdentity {
		out.Device = run.Device
		out.Command = run.Command
	}
	if run.OK {
		out.Status = "success"
		output := run.Output
		out.Output = &output
	} else {
		errMsg := run.Error
		out.ErrorMessage = &errMsg
	}
	return out
}

// RunAsJSON renders a single run as indented JSON.
func RunAsJSON(run nwwatch.Run) (string, error) {
	data, err := json.MarshalIndent(runToJSON(run, true), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	return string(data), nil
}

// BulkRunsAsJSON renders one command's runs across devices as JSON.
func BulkRunsAsJSON(runsByDevice map[string][]nwwatch.Run, command string, now time.Time) (string, error) {
	devices := make(map[string][]runJSON, len(runsByDevice))
	for device, runs := range runsByDevice {
		out := make([]runJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, runToJSON(run, false))
		}
		devices[device] = out
	}
	data, err := json.MarshalIndent(struct {
		Devices         map[string][]runJSON `json:"devices"`
		Command         string               `json:"command"`
		ExportTimestamp string               `json:"export_timestamp"`
	}{
		Command:         command,
		ExportTimestamp: formatExportTimestamp(now),
		Devices:         devices,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal runs: %w", err)
	}
	return string(data), nil
}

// PingSamplesAsCSV renders ping samples for one device as CSV.
func PingSamplesAsCSV(samples []nwwatch.PingSample, device string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write([]string{"Device", "Timestamp", "Timestamp_Epoch", "Status", "RTT_ms", "Error_Message"}); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, sample := range samples {
		status := "failure"
		if sample.OK {
			status = "success"
		}
		rtt := ""
		if sample.RTTMS != nil {
			rtt = fmt.Sprintf("%g", *sample.RTTMS)
		}
		row := []string{
			device,
			formatTimestampJST(sample.Timestamp),
			fmt.Sprintf("%d", sample.Timestamp),
			status,
			rtt,
			sample.Error,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return b.String(), nil
}

type pingJSON struct {
	Timestamp      string   `json:"timestamp"`
	TimestampEpoch int64    `json:"timestamp_epoch"`
	Status         string   `json:"status"`
	RTTMS          *float64 `json:"rtt_ms"`
	ErrorMessage   *string  `json:"error_message"`
}

// PingSamplesAsJSON renders ping samples for one device as JSON.
func PingSamplesAsJSON(samples []nwwatch.PingSample, device string, now time.Time) (string, error) {
	out := make([]pingJSON, 0, len(samples))
	for _, sample := range samples {
		entry := pingJSON{
			Timestamp:      formatTimestampJST(sample.Timestamp),
			TimestampEpoch: sample.Timestamp,
			Status:         "failure",
			RTTMS:          sample.RTTMS,
		}
		if sample.OK {
			entry.Status = "success"
		}
		if sample.Error != "" {
			errMsg := sample.Error
			entry.ErrorMessage = &errMsg
		}
		out = append(out, entry)
	}
	data, err := json.MarshalIndent(struct {
		Device          string     `json:"device"`
		ExportTimestamp string     `json:"export_timestamp"`
		Samples         []pingJSON `json:"samples"`
	}{
		Device:          device,
		ExportTimestamp: formatExportTimestamp(now),
		Samples:         out,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal ping samples: %w", err)
	}
	return string(data), nil
}

func errorOrUnknown(msg string) string {
	if msg == "" {
		return "Unknown error"
	}
	return msg
}
