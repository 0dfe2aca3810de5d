// Package can is the adapter registry and shared plumbing for this module's
// Connection back-ends: socketcan, slcan, rp1210 and simulator. Each back-end
// registers a constructor from its own init(), mirroring a plugin.
package can

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/fanout"
)

// NewConnectionFunc builds a Connection for the given channel string, e.g.
// "can0" for socketcan or "/dev/ttyUSB0" for slcan.
type NewConnectionFunc func(channel string, bitrate int) (cantp.Connection, error)

var registry = make(map[string]NewConnectionFunc)

// RegisterInterface adds a constructor under name. Called from each
// back-end's init().
func RegisterInterface(name string, fn NewConnectionFunc) {
	registry[name] = fn
}

// Implemented lists the interface names registered so far, for CLI help
// text and error messages.
func Implemented() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// NewConnection dispatches to the registered constructor for kind.
func NewConnection(kind, channel string, bitrate int) (cantp.Connection, error) {
	fn, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interface %q (have %v)", cantp.ErrAdapterOpen, kind, Implemented())
	}
	return fn(channel, bitrate)
}

// Base implements the fan-out-backed half of cantp.Connection (Iter,
// IterUntil, IterFor) so each adapter only has to provide Send and Close.
// Adapters embed Base and feed it from their own reader goroutine via
// Bus().Push.
type Base struct {
	bus    *fanout.Bus[cantp.Frame]
	logger *slog.Logger
}

// NewBase constructs a Base for an adapter named name (used in stalled
// consumer log lines).
func NewBase(name string, logger *slog.Logger) Base {
	return Base{bus: fanout.New[cantp.Frame](name, logger), logger: logger}
}

// Bus exposes the underlying fan-out bus so an adapter's reader goroutine
// can push received frames and synthesized echoes.
func (b *Base) Bus() *fanout.Bus[cantp.Frame] { return b.bus }

// Logger returns the adapter's logger, defaulting to slog.Default.
func (b *Base) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

func (b *Base) Iter() *fanout.Consumer[cantp.Frame] { return b.bus.Iter() }

func (b *Base) IterUntil(deadline time.Time) *cantp.FrameStream {
	return cantp.NewFrameStream(b.bus.Iter(), deadline)
}

func (b *Base) IterFor(duration time.Duration) *cantp.FrameStream {
	return b.IterUntil(time.Now().Add(duration))
}
