// Package session defines the device session capability consumed by the
// connection manager, plus its SSH implementation.
package session

import (
	"context"
	"time"
)

// Params carries everything needed to open a session to one device. The
// password is resolved from the secret source immediately before the
// open and is not retained anywhere else.
type Params struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DeviceType string
	Timeout    time.Duration
}

// Session is a live, authenticated remote-shell connection to one
// device. Sessions are not safe for concurrent use; the connection
// manager serializes access per device.
type Session interface {
	// Send runs one command and returns its output text.
	Send(ctx context.Context, command string) (string, error)
	// Probe reports whether the session is still alive, using a cheap
	// no-op round-trip.
	Probe() bool
	Close() error
}

// Dialer opens sessions. The engine is wired with the SSH dialer; tests
// substitute fakes.
type Dialer interface {
	Open(ctx context.Context, params Params) (Session, error)
}
