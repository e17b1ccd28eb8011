// File: pkg/drover/driver.go

// Package drover is the public entry point: it launches the external
// automation driver, maintains the protocol connection, and exposes the
// typed remote-object surface (Playwright, Browser, Page, ...). All real
// browser automation happens inside the driver subprocess; this package
// only forwards calls.
package drover

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/xkilldash9x/drover/api/protocol"
	"github.com/xkilldash9x/drover/internal/config"
)

// EnvDriverPath names the environment variable consulted when no driver
// path is configured explicitly.
const EnvDriverPath = "DROVER_DRIVER_PATH"

// Environment variables passed to the driver at spawn time, identifying
// the client side of the session. stdin/stdout of the child are reserved
// for the framed protocol; these travel out-of-band.
const (
	envClientLang    = "DROVER_CLIENT_LANG"
	envClientVersion = "DROVER_CLIENT_VERSION"
	envSessionID     = "DROVER_SESSION_ID"
	envScratchDir    = "DROVER_SCRATCH_DIR"
)

// driverBinaryName is the platform-specific driver executable name.
func driverBinaryName() string {
	if runtime.GOOS == "windows" {
		return "drover-driver.exe"
	}
	return "drover-driver"
}

// ResolveDriverPath locates the driver executable: the explicitly
// configured path wins, then EnvDriverPath, then the per-user cache
// directory default. Returns a LaunchError naming every searched location
// when nothing is found.
func ResolveDriverPath(cfg config.DriverConfig) (string, error) {
	var searched []string

	candidates := make([]string, 0, 3)
	if cfg.Path != "" {
		candidates = append(candidates, cfg.Path)
	}
	if p := os.Getenv(EnvDriverPath); p != "" {
		candidates = append(candidates, p)
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		candidates = append(candidates, filepath.Join(cacheDir, "drover", driverBinaryName()))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		searched = append(searched, candidate)
	}

	return "", &protocol.LaunchError{
		Path: cfg.Path,
		Err:  fmt.Errorf("driver executable not found; searched %v (set %s or driver.path)", searched, EnvDriverPath),
	}
}
