package orchestrator

import (
	"errors"
	"fmt"

	"github.com/watzon/fnrun/internal/backend"
)

var ErrNoService = errors.New("not inside a service root")

// Kind classifies why a run failed.
type Kind int

const (
	// KindContext means the run started outside a service root.
	KindContext Kind = iota
	// KindProjection means the descriptor could not be projected.
	KindProjection
	// KindProbe means a liveness probe failed for a reason other than a
	// refused connection.
	KindProbe
	// KindInstall means installing a binary or resolving its version failed.
	KindInstall
	// KindSpawn means a backend could not be started or exited before it
	// became ready.
	KindSpawn
	// KindDeploy means a function deployment to the emulator failed.
	KindDeploy
	// KindRegister means resetting or configuring the gateway failed.
	KindRegister
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindContext:
		return "context"
	case KindProjection:
		return "projection"
	case KindProbe:
		return "probe"
	case KindInstall:
		return "installation"
	case KindSpawn:
		return "spawn"
	case KindDeploy:
		return "deployment"
	case KindRegister:
		return "registration"
	default:
		return "unknown"
	}
}

// Error is a classified run failure.
type Error struct {
	Kind    Kind
	Backend backend.Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindContext || e.Kind == KindProjection {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, b backend.Kind, err error) *Error {
	return &Error{Kind: kind, Backend: b, Err: err}
}

// KindOf returns the kind of a run error and whether err was classified.
func KindOf(err error) (Kind, bool) {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Kind, true
	}
	return 0, false
}
