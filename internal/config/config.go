// Package config provides configuration management for fnrun.
package config

import (
	"net"
	"time"
)

// Config is the root configuration structure for fnrun.
type Config struct {
	Emulator EmulatorConfig `mapstructure:"emulator"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

// EmulatorConfig holds local function emulator settings.
type EmulatorConfig struct {
	// Host the emulator listens on
	Host string `mapstructure:"host"`

	// Port the emulator listens on
	Port string `mapstructure:"port"`

	// Command starts the emulator; it must be on PATH
	Command string `mapstructure:"command"`

	// npm package and executable used to install the emulator
	Package    string `mapstructure:"package"`
	NPMCommand string `mapstructure:"npm_command"`

	// HealthPath is probed to detect a running emulator
	HealthPath string `mapstructure:"health_path"`

	// DeployPath receives function deployments
	DeployPath string `mapstructure:"deploy_path"`
}

// URL returns the emulator base URL.
func (c EmulatorConfig) URL() string {
	return baseURL(c.Host, c.Port)
}

// HealthURL returns the address probed for liveness.
func (c EmulatorConfig) HealthURL() string {
	return c.URL() + c.HealthPath
}

// GatewayConfig holds local event gateway settings.
type GatewayConfig struct {
	// Host the gateway listens on
	Host string `mapstructure:"host"`

	// Ports of the events API and the configuration API
	APIPort    string `mapstructure:"api_port"`
	ConfigPort string `mapstructure:"config_port"`

	// BinaryPath is where the gateway binary is installed
	BinaryPath string `mapstructure:"binary_path"`

	// ReleaseURL returns the latest release as JSON
	ReleaseURL string `mapstructure:"release_url"`

	// DownloadURL is the tarball template with {version}, {os} and {arch}
	DownloadURL string `mapstructure:"download_url"`

	// ReadyGrace is waited after the first stderr output before the gateway
	// counts as ready
	ReadyGrace time.Duration `mapstructure:"ready_grace"`

	HealthPath string `mapstructure:"health_path"`
	ConfigPath string `mapstructure:"config_path"`
	LogLevel   string `mapstructure:"log_level"`
}

// APIURL returns the events API base URL.
func (c GatewayConfig) APIURL() string {
	return baseURL(c.Host, c.APIPort)
}

// ConfigURL returns the configuration API base URL.
func (c GatewayConfig) ConfigURL() string {
	return baseURL(c.Host, c.ConfigPort)
}

// HealthURL returns the address probed for liveness.
func (c GatewayConfig) HealthURL() string {
	return c.ConfigURL() + c.HealthPath
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Log format: console, json
	Format string `mapstructure:"format"`

	// Color enables colored console and backend output
	Color bool `mapstructure:"color"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "localhost:9464"
	Addr string `mapstructure:"addr"`
}

// WatchConfig holds service file watching settings.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Patterns []string      `mapstructure:"patterns"`
	Debounce time.Duration `mapstructure:"debounce"`
}

func baseURL(host, port string) string {
	return "http://" + net.JoinHostPort(host, port)
}
