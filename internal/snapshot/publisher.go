// Package snapshot atomically publishes a read-consistent copy of the
// live result store for external readers.
package snapshot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// Retry configuration for a publish cycle.
	publishAttempts       = 5
	publishInitialBackoff = 1 * time.Second
	publishMaxBackoff     = 5 * time.Second
)

// Source produces a consistent database copy at a target path. The
// result store implements this with VACUUM INTO.
type Source interface {
	SnapshotTo(path string) error
}

// Publisher maintains the public snapshot file. The public path either
// does not exist or points to a complete, internally consistent copy;
// it is never observable in a partially-written state.
type Publisher struct {
	source Source
	path   string
	mu     sync.Mutex
}

// New creates a publisher writing to the given public path.
func New(source Source, path string) *Publisher {
	return &Publisher{source: source, path: path}
}

// Path returns the public snapshot path.
func (p *Publisher) Path() string { return p.path }

// Publish writes a full copy of the live store to a temporary file in
// the snapshot directory and renames it over the public path. Safe to
// call repeatedly and concurrently with ongoing writes to the live
// store. Concurrent callers share the temp path, so publish cycles are
// serialized; one of two overlapping calls just publishes slightly
// staler data. On persistent failure the cycle is skipped and the
// previous snapshot remains available.
func (p *Publisher) Publish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := retry.Do(p.publishOnce,
		retry.Attempts(publishAttempts),
		retry.Delay(publishInitialBackoff),
		retry.MaxDelay(publishMaxBackoff),
		retry.LastErrorOnly(true))
	if err != nil {
		log.Printf("[ERROR] Failed to publish snapshot after %d attempts, keeping previous snapshot: %v",
			publishAttempts, err)
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (p *Publisher) publishOnce() error {
	tmpPath := p.path + ".tmp"

	// VACUUM INTO refuses to overwrite an existing file; a leftover
	// temp file from an interrupted publish is stale by definition.
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale temp snapshot: %w", err)
	}

	if err := p.source.SnapshotTo(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Single atomic rename over the public path. Never
	// delete-then-rewrite: a crash in between would leave readers with
	// no snapshot at all.
	if err := os.Rename(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// EnsureDir creates the snapshot directory if needed.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o750)
}
