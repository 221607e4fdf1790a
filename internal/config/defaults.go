package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values.
const (
	DefaultHost = "localhost"

	// Emulator defaults.
	DefaultEmulatorPort       = "4002"
	DefaultEmulatorCommand    = "sle"
	DefaultEmulatorPackage    = "@serverless/emulator"
	DefaultNPMCommand         = "npm"
	DefaultEmulatorHealthPath = "/v0/emulator/api/utils/heartbeat"
	DefaultEmulatorDeployPath = "/v0/emulator/api/functions"

	// Gateway defaults.
	DefaultGatewayAPIPort     = "4000"
	DefaultGatewayConfigPort  = "4001"
	DefaultGatewayReleaseURL  = "https://api.github.com/repos/serverless/event-gateway/releases/latest"
	DefaultGatewayDownloadURL = "https://github.com/serverless/event-gateway/releases/download/{version}/event-gateway_{version}_{os}_{arch}.tar.gz"
	DefaultGatewayReadyGrace  = 2 * time.Second
	DefaultGatewayHealthPath  = "/v1/status"
	DefaultGatewayConfigPath  = "/v1/configuration"
	DefaultGatewayLogLevel    = "debug"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Watch defaults.
	DefaultWatchDebounce = 200 * time.Millisecond
)

// DefaultWatchPatterns are the file names that trigger a redeploy.
var DefaultWatchPatterns = []string{"serverless.yml", "serverless.yaml"}

// DefaultGatewayBinaryPath returns the gateway install location under the
// user's home directory.
func DefaultGatewayBinaryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".serverless", "event-gateway", "event-gateway")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Emulator: EmulatorConfig{
			Host:       DefaultHost,
			Port:       DefaultEmulatorPort,
			Command:    DefaultEmulatorCommand,
			Package:    DefaultEmulatorPackage,
			NPMCommand: DefaultNPMCommand,
			HealthPath: DefaultEmulatorHealthPath,
			DeployPath: DefaultEmulatorDeployPath,
		},
		Gateway: GatewayConfig{
			Host:        DefaultHost,
			APIPort:     DefaultGatewayAPIPort,
			ConfigPort:  DefaultGatewayConfigPort,
			BinaryPath:  DefaultGatewayBinaryPath(),
			ReleaseURL:  DefaultGatewayReleaseURL,
			DownloadURL: DefaultGatewayDownloadURL,
			ReadyGrace:  DefaultGatewayReadyGrace,
			HealthPath:  DefaultGatewayHealthPath,
			ConfigPath:  DefaultGatewayConfigPath,
			LogLevel:    DefaultGatewayLogLevel,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Color:  true,
		},
		Watch: WatchConfig{
			Patterns: append([]string(nil), DefaultWatchPatterns...),
			Debounce: DefaultWatchDebounce,
		},
	}
}
