package j1939

import (
	"testing"
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/fanout"
	"github.com/stretchr/testify/require"
)

// loopConnection is a minimal Connection that echoes every Send straight
// back into its own fan-out, letting a sender and a receiver exchange
// frames entirely in-process.
type loopConnection struct {
	bus *fanout.Bus[cantp.Frame]
}

func newLoopConnection() *loopConnection {
	return &loopConnection{bus: fanout.New[cantp.Frame]("test", nil)}
}

func (c *loopConnection) Send(frame cantp.Frame) (cantp.Frame, error) {
	echo := cantp.NewRxFrame(frame.ID, frame.Payload, 0, 0)
	c.bus.Push(&echo)
	return echo, nil
}

func (c *loopConnection) Iter() *fanout.Consumer[cantp.Frame] { return c.bus.Iter() }

func (c *loopConnection) IterUntil(deadline time.Time) *cantp.FrameStream {
	return cantp.NewFrameStream(c.bus.Iter(), deadline)
}

func (c *loopConnection) IterFor(d time.Duration) *cantp.FrameStream {
	return c.IterUntil(time.Now().Add(d))
}

func (c *loopConnection) Close() error {
	c.bus.Close()
	return nil
}

func TestSendTPBamRoundTrip(t *testing.T) {
	conn := newLoopConnection()
	stream := conn.IterFor(2 * time.Second)

	payload := append([]byte{0, 0, 0, 1}, []byte("Something")...)
	errc := make(chan error, 1)
	go func() { errc <- SendTP(conn, 0xD3FF, 0xFF, 0x00, payload) }()

	receiver := NewReceiver(0xF9, false, nil)
	var reassembled cantp.Frame
	found := false
	for !found {
		f, ok := stream.Next()
		require.True(t, ok)
		for _, r := range mustFeed(t, receiver, f) {
			if r.ID&0xFFFFFF == 0xD3FF00 {
				reassembled = r
				found = true
			}
		}
	}
	require.NoError(t, <-errc)
	require.Equal(t, payload, reassembled.Payload)
}

func TestSendTPDestinationSpecificRoundTrip(t *testing.T) {
	conn := newLoopConnection()
	stream := conn.IterFor(2 * time.Second)

	payload := append([]byte{0, 0, 0, 1}, []byte("Something")...)
	const da, sa = 0xF9, 0x03

	errc := make(chan error, 1)
	go func() { errc <- SendTP(conn, 0xD3FF, da, sa, payload) }()

	responder := NewReceiver(da, false, func(f cantp.Frame) error {
		_, err := conn.Send(f)
		return err
	})
	targetID := BuildID(tpPriority, 0xD3FF, da, sa) & 0xFFFFFF

	var reassembled cantp.Frame
	found := false
	for !found {
		f, ok := stream.Next()
		require.True(t, ok)
		for _, r := range mustFeed(t, responder, f) {
			if r.ID&0xFFFFFF == targetID {
				reassembled = r
				found = true
			}
		}
	}
	require.NoError(t, <-errc)
	require.Equal(t, payload, reassembled.Payload)
}

func mustFeed(t *testing.T, r *Receiver, f cantp.Frame) []cantp.Frame {
	t.Helper()
	out, err := r.Feed(f)
	require.NoError(t, err)
	return out
}
