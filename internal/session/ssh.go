package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens SSH sessions to network devices.
type SSHDialer struct{}

// NewSSHDialer returns a dialer backed by golang.org/x/crypto/ssh.
func NewSSHDialer() *SSHDialer { return &SSHDialer{} }

// Open dials the device and authenticates. The connect timeout comes
// from Params; vendor devices rarely present stable host keys, so host
// key checking is disabled as elsewhere in this fleet's tooling.
func (*SSHDialer) Open(ctx context.Context, params Params) (Session, error) {
	conf := &ssh.ClientConfig{
		User: params.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(params.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = params.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // device fleet without managed host keys
		Timeout:         params.Timeout,
	}

	addr := net.JoinHostPort(params.Host, strconv.Itoa(params.Port))

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, conf)
		done <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, r.err)
		}
		return &sshSession{client: r.client}, nil
	}
}

type sshSession struct {
	client *ssh.Client
}

// Send runs one command over a fresh exec channel and returns stdout.
// A non-zero remote exit status is surfaced as an error carrying the
// stderr text; the underlying connection stays usable.
func (s *sshSession) Send(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new exec session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		// Closing the underlying connection is the only way to
		// interrupt a hung exec channel.
		_ = s.client.Close()
		return stdout.String(), ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), fmt.Errorf("remote command exited %d: %s",
				exitErr.ExitStatus(), bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.String(), fmt.Errorf("run command: %w", err)
	}
	return stdout.String(), nil
}

// Probe sends an OpenSSH keepalive request as a cheap liveness check.
func (s *sshSession) Probe() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
