package cantp

import (
	"fmt"
	"time"

	"github.com/heavydiag/cantp/internal/fanout"
)

// DefaultEchoTimeout is the window Send waits for an adapter to report the
// frame it was just asked to transmit, per spec (50ms for vendor drivers;
// an adapter's natural write-flush horizon may differ).
const DefaultEchoTimeout = 50 * time.Millisecond

// Connection is the uniform contract every adapter back-end (vendor driver,
// SocketCAN, SLCAN, simulator) implements. Dropping a Connection must stop
// its reader goroutine before returning.
type Connection interface {
	// Send transmits frame and returns the echo the adapter round-tripped.
	// Adapters without a hardware echo synthesize one by re-inserting the
	// outgoing frame into their fan-out bus. Returns ErrEchoTimeout if no
	// echo arrives within the adapter's echo window.
	Send(frame Frame) (Frame, error)

	// Iter returns a fresh consumer over this connection's fan-out: every
	// received frame and every echo of this process's own transmits.
	Iter() *fanout.Consumer[Frame]

	// IterUntil filters out heartbeat ticks and ends the stream once the
	// monotonic clock passes deadline. The deadline is captured at call
	// time, not as a countdown, so nested iteration composes under jitter.
	IterUntil(deadline time.Time) *FrameStream

	// IterFor is IterUntil(time.Now().Add(duration)).
	IterFor(duration time.Duration) *FrameStream

	// Close stops the reader goroutine and releases the adapter handle.
	Close() error
}

// FrameStream is a time-bounded, heartbeat-filtered view over a
// fanout.Consumer[Frame]. It is the building block every higher protocol
// layer (J1939TP, ISO-TP, UDS request/response) iterates over.
type FrameStream struct {
	consumer *fanout.Consumer[Frame]
	deadline time.Time
}

// NewFrameStream wraps consumer with a deadline filter. A zero deadline
// never expires.
func NewFrameStream(consumer *fanout.Consumer[Frame], deadline time.Time) *FrameStream {
	return &FrameStream{consumer: consumer, deadline: deadline}
}

// Next returns the next non-heartbeat frame, or ok=false once the deadline
// has passed or the underlying bus closed.
func (s *FrameStream) Next() (Frame, bool) {
	for {
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			return Frame{}, false
		}
		item, ok := s.consumer.Next()
		if !ok {
			return Frame{}, false
		}
		if item != nil {
			return *item, true
		}
	}
}

// Find scans the stream for the first frame matching predicate, returning
// ok=false if the deadline passes first.
func (s *FrameStream) Find(predicate func(Frame) bool) (Frame, bool) {
	for {
		f, ok := s.Next()
		if !ok {
			return Frame{}, false
		}
		if predicate(f) {
			return f, true
		}
	}
}

// Close ends this stream's underlying consumer.
func (s *FrameStream) Close() { s.consumer.Close() }

// AwaitEcho implements the "subscribe, then send, then find my own bytes in
// the stream" echo discipline shared by adapters whose echo comes back
// through their own reader (the vendor driver's echo mode, SocketCAN
// loopback).
// It registers a consumer before calling send so the echo can't race ahead
// of the subscription.
func AwaitEcho(bus *fanout.Bus[Frame], frame Frame, timeout time.Duration, send func() error) (Frame, error) {
	consumer := bus.Iter()
	defer consumer.Close()

	if err := send(); err != nil {
		return Frame{}, err
	}

	stream := NewFrameStream(consumer, time.Now().Add(timeout))
	echo, ok := stream.Find(func(f Frame) bool { return f.Equal(frame) })
	if !ok {
		return Frame{}, fmt.Errorf("%w: id %08X", ErrEchoTimeout, frame.ID)
	}
	return echo, nil
}
