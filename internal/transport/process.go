// File: internal/transport/process.go
package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/drover/api/protocol"
)

// Options configures a driver subprocess launch.
type Options struct {
	// Path is the driver executable.
	Path string
	// Args are passed to the executable.
	Args []string
	// Env is merged over the inherited environment.
	Env map[string]string
	// MaxFrameSize bounds individual protocol frames; <= 0 selects
	// DefaultMaxFrameSize.
	MaxFrameSize int
	// ShutdownGrace is how long Close waits for a voluntary exit after
	// closing stdin before killing the process.
	ShutdownGrace time.Duration
}

// Process supervises one driver subprocess. Its stdin and stdout carry the
// framed protocol exclusively; stderr is free-form diagnostics drained in
// the background and written through to the host's stderr so the driver
// can never stall on a full error buffer.
type Process struct {
	logger *zap.Logger
	cmd    *exec.Cmd
	pipe   *Pipe
	stderr io.ReadCloser
	grace  time.Duration

	group     *errgroup.Group
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Start spawns the driver with the given options. The environment in
// opts.Env is merged over the inherited environment. Returns a LaunchError
// if the executable is missing or cannot be started.
func Start(opts Options, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "driver_process"))

	info, err := os.Stat(opts.Path)
	if err != nil {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: err}
	}
	if info.IsDir() {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: fmt.Errorf("is a directory")}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: fmt.Errorf("not executable (mode %v)", info.Mode())}
	}

	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &protocol.LaunchError{Path: opts.Path, Err: err}
	}

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	p := &Process{
		logger: logger,
		cmd:    cmd,
		pipe:   NewPipe(stdout, stdin, opts.MaxFrameSize, logger),
		stderr: stderr,
		grace:  grace,
		group:  &errgroup.Group{},
		exited: make(chan struct{}),
	}

	// Drain stderr from the moment the child exists so it can never stall
	// on a full diagnostics buffer, even if Run is started late. Driver
	// stderr is free-form text and is written through to our own.
	p.group.Go(func() error {
		_, copyErr := io.Copy(os.Stderr, stderr)
		if copyErr != nil {
			p.logger.Debug("Driver stderr drain ended with error.", zap.Error(copyErr))
		}
		return nil
	})

	logger.Debug("Driver subprocess started.",
		zap.String("path", opts.Path),
		zap.Strings("args", opts.Args),
		zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Pipe returns the framed protocol pipe over the subprocess's stdio.
func (p *Process) Pipe() *Pipe { return p.pipe }

// Run drains the subprocess's stdout through the frame reader, handing
// each payload to onMessage in arrival order, until the stream ends. It
// blocks for the lifetime of the connection and returns the reason the
// stream ended (io.EOF when the driver exited cleanly).
func (p *Process) Run(onMessage func(payload []byte)) error {
	err := p.pipe.ReadLoop(onMessage)
	close(p.exited)
	return err
}

// Close shuts the subprocess down: closes its stdin to signal no more
// input, waits briefly for a voluntary exit, then kills it. Requires Run
// to be executing (or already returned) so end-of-stream is observed.
// Idempotent.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.pipe.CloseWriter()

		select {
		case <-p.exited:
			// Reader already saw end-of-stream; the driver is gone or
			// going.
		case <-time.After(p.grace):
			p.logger.Warn("Driver did not exit within grace period; killing.",
				zap.Duration("grace", p.grace))
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.exited
		}

		// Wait for the stderr drain, then reap the child. Both stdio
		// readers are done at this point so Wait cannot race them.
		_ = p.group.Wait()
		if err := p.cmd.Wait(); err != nil {
			p.logger.Debug("Driver exited with error.", zap.Error(err))
			p.closeErr = err
		}
	})
	return p.closeErr
}

// Kill forcibly terminates the subprocess without the graceful dance. Used
// when the connection is already known broken.
func (p *Process) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
