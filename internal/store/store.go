// Package store provides the SQLite-backed result store for collected
// command runs and ping samples.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	_ "modernc.org/sqlite" // pure Go sqlite driver

	"nwwatch/internal/nwwatch"
)

const (
	// Retry configuration for opening the database.
	openAttempts       = 5
	openInitialBackoff = 1 * time.Second
	openMaxBackoff     = 5 * time.Second
)

// Store is an append-only run/sample log with bounded retention of the
// most recent historySize runs per (device, command) pair. A single
// mutex serializes all access; the command and ping lanes share one
// Store instance.
type Store struct {
	db          *sql.DB
	path        string
	historySize int
	mu          sync.Mutex
}

// Open opens or creates the result store at the given path.
func Open(path string, historySize int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, path: path, historySize: historySize}
	err = retry.Do(s.initialize,
		retry.Attempts(openAttempts),
		retry.Delay(openInitialBackoff),
		retry.MaxDelay(openMaxBackoff),
		retry.LastErrorOnly(true))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens an existing database for reading only. Snapshot
// consumers use it: no pragmas, no migration, no journal side files are
// ever written to the snapshot path.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite read-only: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) initialize() error {
	// WAL mode for better concurrent read performance
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return s.migrate()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		command_text TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id           INTEGER NOT NULL REFERENCES devices(id),
		command_id          INTEGER NOT NULL REFERENCES commands(id),
		ts_epoch            INTEGER NOT NULL,
		output_text         TEXT,
		ok                  INTEGER NOT NULL,
		error_message       TEXT,
		duration_ms         REAL,
		is_filtered         INTEGER DEFAULT 0,
		is_truncated        INTEGER DEFAULT 0,
		original_line_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS ping_samples (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id     INTEGER NOT NULL REFERENCES devices(id),
		ts_epoch      INTEGER NOT NULL,
		ok            INTEGER NOT NULL,
		rtt_ms        REAL,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_device_command ON runs(device_id, command_id);
	CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts_epoch);
	CREATE INDEX IF NOT EXISTS idx_ping_device_ts ON ping_samples(device_id, ts_epoch);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the on-disk path of the live database.
func (s *Store) Path() string { return s.path }

func (s *Store) deviceID(name string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM devices WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.Exec("INSERT INTO devices (name) VALUES (?)", name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) commandID(text string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM commands WHERE command_text = ?", text).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.Exec("INSERT INTO commands (command_text) VALUES (?)", text)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AppendRun inserts a run record and prunes that (device, command) pair
// down to the configured history size. Runs are never mutated after
// insertion.
func (s *Store) AppendRun(run *nwwatch.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, err := s.deviceID(run.Device)
	if err != nil {
		return fmt.Errorf("resolve device %q: %w", run.Device, err)
	}
	commandID, err := s.commandID(run.Command)
	if err != nil {
		return fmt.Errorf("resolve command %q: %w", run.Command, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (device_id, command_id, ts_epoch, output_text, ok,
		                  error_message, duration_ms, is_filtered, is_truncated,
		                  original_line_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID, commandID, run.Timestamp, run.Output, boolToInt(run.OK),
		nullableString(run.Error), run.DurationMS, boolToInt(run.Filtered),
		boolToInt(run.Truncated), run.OriginalLineCount)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return s.pruneRuns(deviceID, commandID)
}

// pruneRuns keeps only the historySize most recent runs for one
// (device, command) pair. Prune cost stays proportional to one pair.
func (s *Store) pruneRuns(deviceID, commandID int64) error {
	_, err := s.db.Exec(`
		DELETE FROM runs
		WHERE device_id = ? AND command_id = ?
		AND id NOT IN (
			SELECT id FROM runs
			WHERE device_id = ? AND command_id = ?
			ORDER BY ts_epoch DESC
			LIMIT ?
		)`,
		deviceID, commandID, deviceID, commandID, s.historySize)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

// AppendPingSample inserts a reachability probe record. Ping samples
// are not pruned by the writer; readers bound them with a time window.
func (s *Store) AppendPingSample(sample *nwwatch.PingSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, err := s.deviceID(sample.Device)
	if err != nil {
		return fmt.Errorf("resolve device %q: %w", sample.Device, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO ping_samples (device_id, ts_epoch, ok, rtt_ms, error_message)
		VALUES (?, ?, ?, ?, ?)`,
		deviceID, sample.Timestamp, boolToInt(sample.OK),
		nullableFloat(sample.RTTMS), nullableString(sample.Error))
	if err != nil {
		return fmt.Errorf("insert ping sample: %w", err)
	}
	return nil
}

// LatestRuns returns runs for a device/command pair, newest first.
// Filtered runs are excluded unless includeFiltered is set.
func (s *Store) LatestRuns(device, command string, limit int, includeFiltered bool) ([]nwwatch.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT r.id, d.name, c.command_text, r.ts_epoch, r.output_text, r.ok,
		       r.error_message, r.duration_ms, r.is_filtered, r.is_truncated,
		       r.original_line_count
		FROM runs r
		JOIN devices d ON r.device_id = d.id
		JOIN commands c ON r.command_id = c.id
		WHERE d.name = ? AND c.command_text = ?`
	args := []any{device, command}
	if !includeFiltered {
		query += " AND r.is_filtered = 0"
	}
	query += " ORDER BY r.ts_epoch DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []nwwatch.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run for a device/command pair, or
// nil when none exists.
func (s *Store) LatestRun(device, command string, includeFiltered bool) (*nwwatch.Run, error) {
	runs, err := s.LatestRuns(device, command, 1, includeFiltered)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Devices returns all device names, sorted.
func (s *Store) Devices() ([]string, error) {
	return s.listStrings("SELECT name FROM devices ORDER BY name")
}

// Commands returns all command texts, sorted.
func (s *Store) Commands() ([]string, error) {
	return s.listStrings("SELECT command_text FROM commands ORDER BY command_text")
}

func (s *Store) listStrings(query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PingSamples returns ping samples for a device at or after the given
// epoch timestamp, newest first.
func (s *Store) PingSamples(device string, since int64) ([]nwwatch.PingSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT p.id, d.name, p.ts_epoch, p.ok, p.rtt_ms, p.error_message
		FROM ping_samples p
		JOIN devices d ON p.device_id = d.id
		WHERE d.name = ? AND p.ts_epoch >= ?
		ORDER BY p.ts_epoch DESC`,
		device, since)
	if err != nil {
		return nil, fmt.Errorf("query ping samples: %w", err)
	}
	defer rows.Close()

	var samples []nwwatch.PingSample
	for rows.Next() {
		var sample nwwatch.PingSample
		var ok int
		var rtt sql.NullFloat64
		var errMsg sql.NullString
		if err := rows.Scan(&sample.ID, &sample.Device, &sample.Timestamp, &ok, &rtt, &errMsg); err != nil {
			return nil, err
		}
		sample.OK = ok != 0
		if rtt.Valid {
			v := rtt.Float64
			sample.RTTMS = &v
		}
		sample.Error = errMsg.String
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// SnapshotTo writes a consistent copy of the live database to the given
// path using VACUUM INTO. The target must not already exist.
func (s *Store) SnapshotTo(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// VACUUM INTO does not accept bound parameters in all sqlite
	// builds; quote the path literal.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.Exec("VACUUM INTO '" + quoted + "'"); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

func scanRun(rows *sql.Rows) (nwwatch.Run, error) {
	var run nwwatch.Run
	var ok, isFiltered, isTruncated int
	var output, errMsg sql.NullString
	var duration sql.NullFloat64
	var lineCount sql.NullInt64
	err := rows.Scan(&run.ID, &run.Device, &run.Command, &run.Timestamp, &output,
		&ok, &errMsg, &duration, &isFiltered, &isTruncated, &lineCount)
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.Output = output.String
	run.OK = ok != 0
	run.Error = errMsg.String
	run.DurationMS = duration.Float64
	run.Filtered = isFiltered != 0
	run.Truncated = isTruncated != 0
	run.OriginalLineCount = int(lineCount.Int64)
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
