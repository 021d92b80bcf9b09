// Package diff renders unified diffs between two run outputs.
package diff

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

const contextLines = 3

// Unified returns a unified diff between a previous and a latest
// output. An empty string means the outputs are identical.
func Unified(previous, latest string) (string, error) {
	if previous == latest {
		return "", nil
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(latest),
		FromFile: "previous",
		ToFile:   "latest",
		Context:  contextLines,
	})
	if err != nil {
		return "", fmt.Errorf("generate diff: %w", err)
	}
	return text, nil
}
