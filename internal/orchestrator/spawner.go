package orchestrator

import (
	"context"
	"fmt"

	"github.com/watzon/fnrun/internal/backend"
	"github.com/watzon/fnrun/internal/process"
)

// Command is the executable and arguments used to start a backend.
type Command struct {
	Name string
	Args []string
}

// SupervisorSpawner starts backends through a process.Supervisor.
type SupervisorSpawner struct {
	Supervisor *process.Supervisor
	Commands   map[backend.Kind]Command
}

// Spawn starts the configured command for kind.
func (s *SupervisorSpawner) Spawn(ctx context.Context, kind backend.Kind) (Instance, error) {
	cmd, ok := s.Commands[kind]
	if !ok {
		return nil, fmt.Errorf("no command configured for %s", kind)
	}

	h, err := s.Supervisor.Spawn(ctx, kind, cmd.Name, cmd.Args)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// EmulatorCommand returns the command line that starts the emulator on port.
func EmulatorCommand(name string, port int) Command {
	return Command{Name: name, Args: []string{"--port", fmt.Sprint(port)}}
}

// GatewayCommand returns the command line that starts the gateway in dev mode
// with the given API and config ports.
func GatewayCommand(binary string, apiPort, configPort int, logLevel string) Command {
	return Command{
		Name: binary,
		Args: []string{
			"--dev",
			"--log-level", logLevel,
			"--api-port", fmt.Sprint(apiPort),
			"--config-port", fmt.Sprint(configPort),
		},
	}
}
