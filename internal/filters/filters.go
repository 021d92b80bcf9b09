// Package filters applies output line filtering and truncation to
// collected command output.
package filters

import (
	"fmt"
	"strings"
)

// Result describes processed command output.
type Result struct {
	Output            string
	Filtered          bool
	Truncated         bool
	OriginalLineCount int
}

// ApplyLineFilters removes lines containing any of the exclusion
// substrings.
func ApplyLineFilters(text string, exclusions []string) string {
	if len(exclusions) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		excluded := false
		for _, excl := range exclusions {
			if strings.Contains(line, excl) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// IsOutputFiltered reports whether the output should be marked as
// filtered, i.e. it contains any of the output-exclusion substrings.
func IsOutputFiltered(text string, outputExclusions []string) bool {
	for _, excl := range outputExclusions {
		if strings.Contains(text, excl) {
			return true
		}
	}
	return false
}

// Truncate limits output to maxLines lines, appending a marker noting
// how many lines the original had. It returns the (possibly truncated)
// text, whether truncation happened, and the original line count.
func Truncate(text string, maxLines int) (string, bool, int) {
	if text == "" {
		return text, false, 0
	}
	// A trailing newline does not count as an extra line.
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	originalCount := len(lines)
	if originalCount <= maxLines {
		return text, false, originalCount
	}
	truncated := strings.Join(lines[:maxLines], "\n")
	truncated += fmt.Sprintf("\n\n...(truncated: showing first %d lines of %d)", maxLines, originalCount)
	return truncated, true, originalCount
}

// Process runs the full output pipeline: line filtering, filtered-output
// marking, then truncation. The filtered flag is evaluated on the
// line-filtered text, before truncation.
func Process(text string, lineExclusions, outputExclusions []string, maxLines int) Result {
	text = ApplyLineFilters(text, lineExclusions)
	filtered := IsOutputFiltered(text, outputExclusions)
	text, truncated, originalCount := Truncate(text, maxLines)
	return Result{
		Output:            text,
		Filtered:          filtered,
		Truncated:         truncated,
		OriginalLineCount: originalCount,
	}
}
