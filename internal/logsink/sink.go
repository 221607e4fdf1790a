// Package logsink forwards backend process output to the console with a
// colored backend label.
package logsink

import (
	"bytes"
	"io"
	"sync"

	"github.com/gookit/color"

	"github.com/watzon/fnrun/internal/backend"
)

// Stream identifies a process output stream.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

var labelColors = map[backend.Kind]color.Color{
	backend.Emulator: color.Cyan,
	backend.Gateway:  color.Magenta,
}

// Options configures a Console.
type Options struct {
	// Color enables colored labels.
	Color bool
}

// Console is the shared, append-only console all backends write to. Lines
// from different backends may interleave; lines from one stream keep their
// order.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// New creates a Console writing to out.
func New(out io.Writer, opts Options) *Console {
	return &Console{out: out, color: opts.Color}
}

// Stream returns a writer for one output stream of one backend. Chunks are
// split into lines; a trailing partial line is held until the next chunk or
// Close.
func (c *Console) Stream(kind backend.Kind, stream Stream) io.WriteCloser {
	label := kind.Label()
	if c.color {
		label = labelColors[kind].Sprint(label)
	}
	return &streamWriter{console: c, prefix: []byte(label + " ")}
}

func (c *Console) writeLine(prefix, line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, 0, len(prefix)+len(line)+1)
	buf = append(buf, prefix...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, _ = c.out.Write(buf)
}

type streamWriter struct {
	console *Console
	prefix  []byte
	mu      sync.Mutex
	partial []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := append(w.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		w.console.writeLine(w.prefix, bytes.TrimSuffix(data[:i], []byte("\r")))
		data = data[i+1:]
	}
	w.partial = append([]byte(nil), data...)

	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *streamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.console.writeLine(w.prefix, w.partial)
		w.partial = nil
	}
	return nil
}
