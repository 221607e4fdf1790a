package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrConfigNotFound = errors.New("config file not found")

// DefaultEnvPrefix prefixes environment overrides, e.g. FNRUN_EMULATOR_PORT.
const DefaultEnvPrefix = "FNRUN"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist.
	ConfigFile string
	// ServiceRoot is searched for .fnrun.yaml before the user config dir.
	ServiceRoot string
	EnvPrefix   string
	Defaults    *Config
	// Flags are bound by key, so a changed flag overrides every other source.
	Flags map[string]*pflag.Flag
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", flag.Name, err)
		}
	}

	path, err := ConfigFilePath(opts.ConfigFile, opts.ServiceRoot)
	switch {
	case err == nil:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	case errors.Is(err, ErrConfigNotFound) && opts.ConfigFile == "":
		// No config file; defaults, env and flags only.
	default:
		return nil, err
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("emulator.host", cfg.Emulator.Host)
	v.SetDefault("emulator.port", cfg.Emulator.Port)
	v.SetDefault("emulator.command", cfg.Emulator.Command)
	v.SetDefault("emulator.package", cfg.Emulator.Package)
	v.SetDefault("emulator.npm_command", cfg.Emulator.NPMCommand)
	v.SetDefault("emulator.health_path", cfg.Emulator.HealthPath)
	v.SetDefault("emulator.deploy_path", cfg.Emulator.DeployPath)

	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.api_port", cfg.Gateway.APIPort)
	v.SetDefault("gateway.config_port", cfg.Gateway.ConfigPort)
	v.SetDefault("gateway.binary_path", cfg.Gateway.BinaryPath)
	v.SetDefault("gateway.release_url", cfg.Gateway.ReleaseURL)
	v.SetDefault("gateway.download_url", cfg.Gateway.DownloadURL)
	v.SetDefault("gateway.ready_grace", cfg.Gateway.ReadyGrace)
	v.SetDefault("gateway.health_path", cfg.Gateway.HealthPath)
	v.SetDefault("gateway.config_path", cfg.Gateway.ConfigPath)
	v.SetDefault("gateway.log_level", cfg.Gateway.LogLevel)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.color", cfg.Logging.Color)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.patterns", cfg.Watch.Patterns)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

// ConfigFilePath returns the config file that Load would read for
// serviceRoot, or ErrConfigNotFound.
func ConfigFilePath(customPath, serviceRoot string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if !fileExists(absPath) {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, absPath)
		}
		return absPath, nil
	}

	var searchPaths []string
	if serviceRoot != "" {
		searchPaths = append(searchPaths, filepath.Join(serviceRoot, ".fnrun.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "fnrun", "fnrun.yaml"))
	}

	for _, p := range searchPaths {
		if fileExists(p) {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
