// Package install checks for and installs the emulator and gateway binaries.
package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/watzon/fnrun/internal/backend"
)

var (
	ErrNoVersion       = errors.New("no gateway version available")
	ErrVersionRequired = errors.New("gateway install requires a version")
	ErrBinaryNotFound  = errors.New("gateway binary not found in archive")
)

// Runner runs an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, streaming their output to stderr.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // Command comes from config
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", name, err)
	}
	return nil
}

// Config holds installation settings.
type Config struct {
	// EmulatorCommand is the emulator executable looked up on PATH.
	EmulatorCommand string
	// EmulatorPackage is the npm package providing the emulator.
	EmulatorPackage string
	// NPMCommand is the npm executable.
	NPMCommand string
	// GatewayPath is where the gateway binary lives.
	GatewayPath string
	// ReleaseURL returns the latest gateway release as JSON.
	ReleaseURL string
	// DownloadURL is the tarball URL template with {version}, {os} and {arch}.
	DownloadURL string
}

// Manager checks for and installs backends.
type Manager struct {
	cfg      Config
	client   *http.Client
	runner   Runner
	lookPath func(string) (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for release lookups and downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.client = c
	}
}

// WithRunner sets the command runner used for npm installs.
func WithRunner(r Runner) Option {
	return func(m *Manager) {
		m.runner = r
	}
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(m *Manager) {
		m.lookPath = fn
	}
}

// NewManager creates a Manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		client:   &http.Client{},
		runner:   ExecRunner{},
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsInstalled reports whether the backend binary is available.
func (m *Manager) IsInstalled(kind backend.Kind) (bool, error) {
	switch kind {
	case backend.Emulator:
		_, err := m.lookPath(m.cfg.EmulatorCommand)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("looking up %s: %w", m.cfg.EmulatorCommand, err)
	case backend.Gateway:
		info, err := os.Stat(m.cfg.GatewayPath)
		if err == nil {
			return info.Mode().IsRegular(), nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", m.cfg.GatewayPath, err)
	default:
		return false, fmt.Errorf("unknown backend: %s", kind)
	}
}

// Install installs the backend. The gateway needs a version, see
// ResolveLatestVersion.
func (m *Manager) Install(ctx context.Context, kind backend.Kind, version string) error {
	switch kind {
	case backend.Emulator:
		log.Info().Str("package", m.cfg.EmulatorPackage).Msg("Installing emulator")
		if err := m.runner.Run(ctx, m.cfg.NPMCommand, "install", "--global", m.cfg.EmulatorPackage); err != nil {
			return fmt.Errorf("installing emulator: %w", err)
		}
		return nil
	case backend.Gateway:
		if version == "" {
			return ErrVersionRequired
		}
		log.Info().Str("version", version).Str("path", m.cfg.GatewayPath).Msg("Installing event gateway")
		if err := m.installGateway(ctx, version); err != nil {
			return fmt.Errorf("installing event gateway %s: %w", version, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", kind)
	}
}
