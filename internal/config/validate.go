package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateEmulator(&cfg.Emulator)...)
	errs = append(errs, validateGateway(&cfg.Gateway)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParsePort parses a numeric port string in the range 1..65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func validatePort(field, value string) ValidationErrors {
	if _, err := ParsePort(value); err != nil {
		return ValidationErrors{{
			Field:   field,
			Message: "must be a number between 1 and 65535",
		}}
	}
	return nil
}

func validateEmulator(cfg *EmulatorConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Host == "" {
		errs = append(errs, ValidationError{Field: "emulator.host", Message: "is required"})
	}
	errs = append(errs, validatePort("emulator.port", cfg.Port)...)

	if cfg.Command == "" {
		errs = append(errs, ValidationError{Field: "emulator.command", Message: "is required"})
	}

	if cfg.Package == "" || cfg.NPMCommand == "" {
		errs = append(errs, ValidationError{
			Field:   "emulator.package",
			Message: "package and npm_command are required to install the emulator",
		})
	}

	return errs
}

func validateGateway(cfg *GatewayConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Host == "" {
		errs = append(errs, ValidationError{Field: "gateway.host", Message: "is required"})
	}
	errs = append(errs, validatePort("gateway.api_port", cfg.APIPort)...)
	errs = append(errs, validatePort("gateway.config_port", cfg.ConfigPort)...)

	if cfg.APIPort != "" && strings.TrimSpace(cfg.APIPort) == strings.TrimSpace(cfg.ConfigPort) {
		errs = append(errs, ValidationError{
			Field:   "gateway.config_port",
			Message: "must differ from gateway.api_port",
		})
	}

	if cfg.BinaryPath == "" {
		errs = append(errs, ValidationError{Field: "gateway.binary_path", Message: "is required"})
	}

	if !strings.Contains(cfg.DownloadURL, "{version}") {
		errs = append(errs, ValidationError{
			Field:   "gateway.download_url",
			Message: "must contain the {version} placeholder",
		})
	}

	if cfg.ReadyGrace < 0 {
		errs = append(errs, ValidationError{
			Field:   "gateway.ready_grace",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateWatch(cfg *WatchConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Debounce < 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce",
			Message: "must be non-negative",
		})
	}

	for _, pattern := range cfg.Patterns {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   "watch.patterns",
				Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
			})
		}
	}

	if cfg.Enabled && len(cfg.Patterns) == 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.patterns",
			Message: "at least one pattern is required when watching",
		})
	}

	return errs
}
