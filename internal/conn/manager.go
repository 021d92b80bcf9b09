// Package conn manages per-device remote-shell sessions: lazy connect,
// liveness probing, reconnect with exponential backoff, and serialized
// command execution per device.
package conn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"nwwatch/internal/nwwatch"
	"nwwatch/internal/session"
)

// SecretSource resolves a device's password immediately before use.
// Plaintext secrets are never held by the manager.
type SecretSource func(device nwwatch.Device) (string, error)

// Options holds connection behavior shared by all devices.
type Options struct {
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	// Persistent enables session reuse across commands. When false a
	// fresh connection is opened and closed per command; retry,
	// backoff and locking semantics are unchanged.
	Persistent bool
}

// ConnectError reports that a device could not be reached after
// exhausting reconnect attempts.
type ConnectError struct {
	Err      error
	Device   string
	Attempts int
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempts: %v", e.Device, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ExecError reports that the remote command itself failed on a live
// session. The connection is presumed still usable.
type ExecError struct {
	Err     error
	Device  string
	Command string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q failed on %s: %v", e.Command, e.Device, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// deviceConn owns one device's session. The mutex serializes all use of
// the session; protocol sessions are not safe for concurrent use.
type deviceConn struct {
	sess   session.Session
	device nwwatch.Device
	mu     sync.Mutex
}

// Manager owns the session table. Devices are fully independent: only
// one device's lock is held per execution, so unrelated devices execute
// concurrently.
type Manager struct {
	dialer  session.Dialer
	secret  SecretSource
	entries map[string]*deviceConn
	sleep   func(time.Duration)
	opts    Options
}

// NewManager creates a manager for the configured device fleet.
// Sessions are created lazily on first use.
func NewManager(devices []nwwatch.Device, dialer session.Dialer, secret SecretSource, opts Options) *Manager {
	entries := make(map[string]*deviceConn, len(devices))
	for _, d := range devices {
		entries[d.Name] = &deviceConn{device: d}
	}
	return &Manager{
		dialer:  dialer,
		secret:  secret,
		entries: entries,
		sleep:   time.Sleep,
		opts:    opts,
	}
}

// Execute runs one command on one device, reusing a live session when
// possible. It returns the raw output and the wall-clock duration.
// Connection exhaustion surfaces as *ConnectError, a remote command
// failure as *ExecError.
func (m *Manager) Execute(ctx context.Context, deviceName, command string) (string, time.Duration, error) {
	entry, ok := m.entries[deviceName]
	if !ok {
		return "", 0, fmt.Errorf("unknown device %q", deviceName)
	}

	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Duration covers connect attempts too, so a slow-timeout failure
	// is distinguishable from a fast refusal in the recorded runs.
	start := time.Now()

	sess, err := m.ensureConnected(ctx, entry)
	if err != nil {
		return "", time.Since(start), err
	}

	output, err := sess.Send(ctx, command)
	duration := time.Since(start)

	if !m.opts.Persistent {
		if cerr := sess.Close(); cerr != nil {
			log.Printf("[WARN] Error closing connection to %s: %v", deviceName, cerr)
		}
		entry.sess = nil
	}

	if err != nil {
		return "", duration, &ExecError{Device: deviceName, Command: command, Err: err}
	}
	return output, duration, nil
}

// ensureConnected returns a live session for the entry, reconnecting
// with exponential backoff if needed. Must be called with the entry
// locked.
func (m *Manager) ensureConnected(ctx context.Context, entry *deviceConn) (session.Session, error) {
	if entry.sess != nil {
		if entry.sess.Probe() {
			return entry.sess, nil
		}
		log.Printf("[WARN] Connection to %s is dead, reconnecting...", entry.device.Name)
		_ = entry.sess.Close()
		entry.sess = nil
	}

	attempts := m.opts.MaxReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		sess, err := m.connect(ctx, entry.device)
		if err == nil {
			log.Printf("[INFO] Connected to %s (attempt %d)", entry.device.Name, attempt+1)
			entry.sess = sess
			return sess, nil
		}
		lastErr = err
		log.Printf("[ERROR] Connection attempt %d/%d failed for %s: %v",
			attempt+1, attempts, entry.device.Name, err)

		if attempt < attempts-1 {
			backoff := m.opts.BackoffBase * time.Duration(1<<attempt)
			log.Printf("[INFO] Waiting %v before retry...", backoff)
			m.sleep(backoff)
		}
	}

	return nil, &ConnectError{Device: entry.device.Name, Attempts: attempts, Err: lastErr}
}

func (m *Manager) connect(ctx context.Context, device nwwatch.Device) (session.Session, error) {
	password, err := m.secret(device)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Establishing connection to %s", device.Name)
	return m.dialer.Open(ctx, session.Params{
		Host:       device.Host,
		Port:       device.Port,
		Username:   device.Username,
		Password:   password,
		DeviceType: device.DeviceType,
		Timeout:    m.opts.ConnectTimeout,
	})
}

// CloseAll closes every live session exactly once. Close errors are
// logged and never abort the sweep.
func (m *Manager) CloseAll() {
	for name, entry := range m.entries {
		entry.mu.Lock()
		if entry.sess != nil {
			log.Printf("[INFO] Closing connection to %s", name)
			if err := entry.sess.Close(); err != nil {
				log.Printf("[ERROR] Error closing connection to %s: %v", name, err)
			}
			entry.sess = nil
		}
		entry.mu.Unlock()
	}
}
