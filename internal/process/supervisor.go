// Package process spawns backend binaries, forwards their output and detects
// readiness from the output streams.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/fnrun/internal/backend"
	"github.com/watzon/fnrun/internal/logsink"
)

// readBufferSize is the largest chunk read from a stream at once.
const readBufferSize = 32 * 1024

// drainTimeout bounds how long output is drained after cancellation before
// Wait is called and closes the streams.
const drainTimeout = 2 * time.Second

var ErrExitedBeforeReady = errors.New("process exited before becoming ready")

// Readiness describes how a backend signals that it is ready. The first chunk
// on Stream flips the process to ready; WaitReady then waits Grace more.
type Readiness struct {
	Stream logsink.Stream
	Grace  time.Duration
}

// ReadinessFor returns the readiness rule for a backend. The emulator is ready
// on its first stdout chunk. The gateway is ready on its first stderr chunk
// plus gatewayGrace, because it has no dedicated ready signal.
func ReadinessFor(kind backend.Kind, gatewayGrace time.Duration) Readiness {
	if kind == backend.Gateway {
		return Readiness{Stream: logsink.Stderr, Grace: gatewayGrace}
	}
	return Readiness{Stream: logsink.Stdout}
}

// Supervisor spawns and watches backend processes.
type Supervisor struct {
	starter      Starter
	console      *logsink.Console
	gatewayGrace time.Duration
}

// NewSupervisor creates a Supervisor. A nil console discards process output.
func NewSupervisor(starter Starter, console *logsink.Console, gatewayGrace time.Duration) *Supervisor {
	return &Supervisor{
		starter:      starter,
		console:      console,
		gatewayGrace: gatewayGrace,
	}
}

// Handle tracks one spawned process.
type Handle struct {
	kind      backend.Kind
	readiness Readiness

	mu      sync.Mutex
	state   State
	exitErr error

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
}

func newHandle(kind backend.Kind, readiness Readiness) *Handle {
	return &Handle{
		kind:      kind,
		readiness: readiness,
		state:     StateIdle,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Spawn starts name with args for the given backend. If the process cannot be
// started, the returned handle is in StateFailed alongside the error.
func (s *Supervisor) Spawn(ctx context.Context, kind backend.Kind, name string, args []string) (*Handle, error) {
	h := newHandle(kind, ReadinessFor(kind, s.gatewayGrace))
	h.transition(StateSpawning)

	log.Debug().
		Str("backend", kind.String()).
		Str("command", name).
		Strs("args", args).
		Msg("Spawning backend")

	p, err := s.starter.Start(ctx, name, args)
	if err != nil {
		h.fail(err)
		return h, fmt.Errorf("spawning %s: %w", kind, err)
	}
	h.transition(StateStarting)

	var wg sync.WaitGroup
	wg.Add(2)
	go h.pump(p.Stdout(), logsink.Stdout, s.writer(kind, logsink.Stdout), &wg)
	go h.pump(p.Stderr(), logsink.Stderr, s.writer(kind, logsink.Stderr), &wg)

	go func() {
		pumped := make(chan struct{})
		go func() {
			wg.Wait()
			close(pumped)
		}()

		select {
		case <-pumped:
		case <-ctx.Done():
			// A grandchild can hold the pipes open after the process dies.
			// Drain for a while, then let Wait close the pipes; output still
			// buffered after drainTimeout is dropped.
			timer := time.NewTimer(drainTimeout)
			select {
			case <-pumped:
			case <-timer.C:
			}
			timer.Stop()
		}
		err := p.Wait()
		<-pumped
		h.exit(err)
	}()

	return h, nil
}

func (s *Supervisor) writer(kind backend.Kind, stream logsink.Stream) io.WriteCloser {
	if s.console == nil {
		return nopWriteCloser{io.Discard}
	}
	return s.console.Stream(kind, stream)
}

// pump forwards a stream to w until EOF. The first chunk on the readiness
// stream trips the latch.
func (h *Handle) pump(r io.Reader, stream logsink.Stream, w io.WriteCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if stream == h.readiness.Stream {
				h.latch()
			}
			_, _ = w.Write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("backend", h.kind.String()).Str("stream", stream.String()).Msg("Stream closed")
			}
			return
		}
	}
}

func (h *Handle) latch() {
	h.readyOnce.Do(func() {
		h.transition(StateReady)
		close(h.ready)
	})
}

func (h *Handle) transition(to State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Terminal() {
		return
	}
	h.state = to
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	h.state = StateFailed
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) exit(err error) {
	h.mu.Lock()
	h.state = StateExited
	h.exitErr = err
	h.mu.Unlock()

	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("backend", h.kind.String()).Msg("Backend process exited")

	close(h.done)
}

// WaitReady blocks until the process is ready and its grace period has
// passed. It returns ErrExitedBeforeReady if the process exits first.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
	case <-h.done:
		// The latch closes ready before done can close, so a process that
		// printed and exited at once is still seen as ready here.
		select {
		case <-h.ready:
		default:
			return h.notReadyErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.readiness.Grace <= 0 {
		return nil
	}

	timer := time.NewTimer(h.readiness.Grace)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-h.done:
		return h.notReadyErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) notReadyErr() error {
	if err := h.ExitErr(); err != nil {
		return fmt.Errorf("%w: %w", ErrExitedBeforeReady, err)
	}
	return ErrExitedBeforeReady
}

// Done is closed once the process has exited or failed to start.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the error the process exited with, if any.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Backend returns the backend this handle runs.
func (h *Handle) Backend() backend.Kind {
	return h.kind
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
