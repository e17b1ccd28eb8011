// File: pkg/drover/session.go
package drover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drover/api/protocol"
	"github.com/xkilldash9x/drover/internal/config"
	"github.com/xkilldash9x/drover/internal/dispatch"
	"github.com/xkilldash9x/drover/internal/transport"
)

// Version is the client's display version, stamped at build time and
// advertised to the driver through the spawn environment.
var Version = "dev"

// Session is one automation session: a driver subprocess, the protocol
// connection over its stdio, and the root of the remote-object tree.
// Sessions are independent; any number may coexist in one process.
type Session struct {
	ID string

	logger *zap.Logger
	proc   *transport.Process
	conn   *dispatch.Connection
	root   *Playwright

	closeOnce sync.Once
}

// Launch resolves the driver executable, spawns it, and performs the
// initialization handshake. The returned Session is ready for use; Close
// must be called to release the subprocess.
func Launch(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session_id", sessionID))

	driverCfg := cfg.Driver()
	path, err := ResolveDriverPath(driverCfg)
	if err != nil {
		return nil, err
	}

	// Per-session scratch space for driver artifacts (downloads, traces).
	// Removed when the session's root object is disposed.
	scratchDir, err := os.MkdirTemp("", "drover-"+sessionID[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("creating session scratch dir: %w", err)
	}

	env := map[string]string{
		envClientLang:    "go",
		envClientVersion: Version,
		envSessionID:     sessionID,
		envScratchDir:    scratchDir,
	}
	for k, v := range driverCfg.Env {
		env[k] = v
	}

	proc, err := transport.Start(transport.Options{
		Path:          path,
		Args:          driverCfg.Args,
		Env:           env,
		MaxFrameSize:  driverCfg.MaxFrameSize,
		ShutdownGrace: driverCfg.ShutdownGrace,
	}, logger)
	if err != nil {
		_ = os.RemoveAll(scratchDir)
		return nil, err
	}

	conn := dispatch.NewConnection(proc.Pipe(), cfg.Session().CallTimeout, logger)
	registerWrapperFactories(conn)
	conn.SetOnClose(func() {
		_ = proc.Close()
	})
	conn.Root().OnDispose(func() {
		_ = os.RemoveAll(scratchDir)
	})

	// The single receive loop: frames flow to the dispatcher in arrival
	// order until the stream ends, at which point every still-pending call
	// is rejected.
	go func() {
		runErr := proc.Run(conn.Dispatch)
		if errors.Is(runErr, io.EOF) {
			conn.Close("driver exited", nil)
			return
		}
		conn.Close("driver connection lost", runErr)
	}()

	s := &Session{
		ID:     sessionID,
		logger: logger.Named("session"),
		proc:   proc,
		conn:   conn,
	}

	root, err := s.initialize(ctx, driverCfg)
	if err != nil {
		conn.Close("initialization failed", err)
		return nil, err
	}
	s.root = root

	s.logger.Info("Session established.",
		zap.String("driver", path),
		zap.String("driver_version", root.Version()))
	return s, nil
}

// initialize performs the handshake: one "initialize" call on the root
// object, answered with a reference to the driver's Playwright object.
func (s *Session) initialize(ctx context.Context, driverCfg config.DriverConfig) (*Playwright, error) {
	ctx, cancel := context.WithTimeout(ctx, driverCfg.LaunchTimeout)
	defer cancel()

	raw, err := s.conn.Call(ctx, protocol.RootGUID, "initialize", map[string]any{
		"sdkLanguage": "go",
	})
	if err != nil {
		return nil, fmt.Errorf("driver initialization: %w", err)
	}
	result, err := s.conn.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("driver initialization: %w", err)
	}
	pw, err := resultObject[*Playwright](result, "playwright")
	if err != nil {
		return nil, fmt.Errorf("driver initialization: %w", err)
	}
	return pw, nil
}

// Playwright returns the session's root automation object.
func (s *Session) Playwright() *Playwright { return s.root }

// Connection exposes the underlying dispatcher. Intended for tests and
// diagnostic tooling; regular callers stay on the typed surface.
func (s *Session) Connection() *dispatch.Connection { return s.conn }

// Close tears the session down in order: the connection (rejecting every
// pending call and disposing the proxy tree) and then the subprocess.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close("session closed", nil)
		s.logger.Info("Session closed.")
	})
}
