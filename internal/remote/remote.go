package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/GlebRadaev/vpnshop/internal/domain"
)

var (
	ErrTimeout    = errors.New("remote command timed out")
	ErrConnection = errors.New("remote connection failed")
	ErrExec       = errors.New("remote command could not be executed")
)

const DefaultTimeout = 20 * time.Second

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal colour and cursor sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Combined string
}

type SSHExecutor struct {
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHExecutor verifies host keys against knownHostsPath. An empty path accepts any host key.
func NewSSHExecutor(knownHostsPath string) (*SSHExecutor, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if knownHostsPath != "" {
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		callback = cb
	}
	return &SSHExecutor{hostKeyCallback: callback}, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Run executes exactly one command on target. A non-zero exit status is returned in Result, not as an error.
func (e *SSHExecutor) Run(ctx context.Context, target domain.Target, command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.dial(ctx, target)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connect %s: %w", ErrTimeout, target.Addr(), err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, target.Addr(), err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrExec, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	combined := &lockedBuffer{}
	session.Stdout = &teeWriter{own: &stdout, shared: combined}
	session.Stderr = &teeWriter{own: &stderr, shared: combined}

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("%w: start: %w", ErrExec, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		zap.L().Warn("remote command interrupted", zap.String("target", target.ID), zap.Error(ctx.Err()))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrExec, ctx.Err())
	case err = <-done:
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: StripANSI(combined.String()),
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return result, fmt.Errorf("%w: %w", ErrExec, err)
	}

	zap.L().Debug("remote command finished", zap.String("target", target.ID), zap.Int("exitCode", result.ExitCode))
	return result, nil
}

func (e *SSHExecutor) dial(ctx context.Context, target domain.Target) (*ssh.Client, error) {
	addr := target.Addr()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: e.hostKeyCallback,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

type teeWriter struct {
	own    *bytes.Buffer
	shared *lockedBuffer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.own.Write(p)
	return w.shared.Write(p)
}
