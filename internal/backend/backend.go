// Package backend identifies the two local processes fnrun manages.
package backend

// Kind identifies a local backend.
type Kind int

const (
	// Emulator is the local function emulator.
	Emulator Kind = iota
	// Gateway is the local event gateway.
	Gateway
)

// All lists every backend in start order.
var All = []Kind{Emulator, Gateway}

// String returns the lowercase identifier used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case Emulator:
		return "emulator"
	case Gateway:
		return "gateway"
	default:
		return "unknown"
	}
}

// Label returns the display label used when forwarding process output.
func (k Kind) Label() string {
	switch k {
	case Emulator:
		return "Emulator"
	case Gateway:
		return "EventGateway"
	default:
		return "Unknown"
	}
}
