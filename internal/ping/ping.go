// Package ping performs reachability probes using the system ping
// command. Probes share nothing with the remote-shell session path.
package ping

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Hard timeout for one probe; the ping command itself waits at most 1s.
const probeTimeout = 2 * time.Second

// Only plain hostnames, IPv4 and IPv6 literals. Anything else is
// rejected before reaching the shell.
var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-:]+$`)

// ErrInvalidHost is returned for ping targets that fail validation.
var ErrInvalidHost = errors.New("invalid ping host format")

// Prober sends single-packet reachability probes.
type Prober struct{}

// New returns a system-ping prober.
func New() *Prober { return &Prober{} }

// Probe pings the host once. On success it returns the parsed
// round-trip time in milliseconds, or nil when the RTT could not be
// extracted from the output.
func (*Prober) Probe(ctx context.Context, host string) (*float64, error) {
	if !hostPattern.MatchString(host) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", "1", "-w", "1000", host)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", host)
	}

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ping timed out: %w", ctx.Err())
		}
		return nil, errors.New("ping failed")
	}

	return parseRTT(string(output)), nil
}

// parseRTT extracts the "time=12.3" value from ping output. Returns nil
// when no RTT is present (some resolvers and busybox builds omit it).
func parseRTT(output string) *float64 {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "time=")
		if idx < 0 {
			continue
		}
		field := line[idx+len("time="):]
		if sp := strings.IndexAny(field, " \t"); sp >= 0 {
			field = field[:sp]
		}
		field = strings.TrimSuffix(strings.TrimSpace(field), "ms")
		if rtt, err := strconv.ParseFloat(field, 64); err == nil {
			return &rtt
		}
	}
	return nil
}
