// Package control reads and writes the collector control-state file, a
// small JSON document shared with external control surfaces.
package control

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Filename is the control-state file name inside the control directory.
const Filename = "collector_control.json"

const filePerm = 0o600

// State is the cross-process control document. The engine polls it once
// per tick and tolerates stale reads; a missed update just delays one
// tick's reaction.
type State struct {
	CommandsPaused    bool  `json:"commands_paused"`
	ShutdownRequested bool  `json:"shutdown_requested"`
	UpdatedAt         int64 `json:"updated_at"`
}

// Path returns the control-state file path for a control directory.
func Path(dir string) string {
	return filepath.Join(dir, Filename)
}

// Read loads the current control state. A missing or unreadable file
// yields the zero state: the engine keeps running rather than acting on
// a corrupt control document.
func Read(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] Failed to read control state from %s: %v", path, err)
		}
		return State{}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("[WARN] Failed to parse control state from %s: %v", path, err)
		return State{}
	}
	return state
}

// Write persists the control state atomically (temp file + rename) so
// the polling engine never observes a partial document.
func Write(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create control directory: %w", err)
	}

	state.UpdatedAt = time.Now().Unix()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal control state: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerm); err != nil {
		return fmt.Errorf("write control state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename control state into place: %w", err)
	}
	return nil
}

// Update applies a mutation to the current state and persists it.
func Update(path string, mutate func(*State)) (State, error) {
	state := Read(path)
	mutate(&state)
	if err := Write(path, state); err != nil {
		return state, err
	}
	return state, nil
}
