package isotp

import (
	"testing"
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/fanout"
	"github.com/stretchr/testify/require"
)

// loopConnection echoes every Send straight back into its own fan-out, so a
// sender and a receiver sharing one loopConnection observe each other's
// traffic exactly like two nodes on a physical bus.
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

func TestSendSingleFrame(t *testing.T) {
	conn := newLoopConnection()
	stream := conn.IterFor(time.Second)

	session := NewSession(conn, 0xDA00, time.Second, 0xF9, 0x00)
	require.NoError(t, session.Send([]byte{0x01, 0x02, 0x03}))

	f, ok := stream.Find(func(f cantp.Frame) bool { return f.ID == 0x18DA00F9 })
	require.True(t, ok)
	require.Equal(t, []byte{0x03, 0x01, 0x02, 0x03, 0xFF, 0xFF, 0xFF, 0xFF}, f.Payload)
}

func TestEchoService(t *testing.T) {
	conn := newLoopConnection()
	ready := make(chan struct{})

	// A peer at SA=0x00, DA=0xF9 that replies req[i]+3 for short requests.
	go func() {
		rx := NewSession(conn, 0xDA00, 2*time.Second, 0x00, 0xF9)
		stream := conn.IterFor(2 * time.Second)
		close(ready)
		req, err := rx.Receive(stream)
		require.NoError(t, err)
		reply := make([]byte, len(req))
		for i, b := range req {
			reply[i] = b + 3
		}
		require.NoError(t, rx.Send(reply))
	}()

	<-ready
	tx := NewSession(conn, 0xDA00, 2*time.Second, 0xF9, 0x00)
	reply, err := tx.SendReceive([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x05, 0x06}, reply)
}

func TestSend14ByteSegmentation(t *testing.T) {
	conn := newLoopConnection()
	stream := conn.IterFor(2 * time.Second)

	session := NewSession(conn, 0xDA00, 2*time.Second, 0xF9, 0x00)
	request := make([]byte, 14)
	for i := range request {
		request[i] = 0x55
	}

	errc := make(chan error, 1)
	go func() { errc <- session.Send(request) }()

	first, ok := stream.Find(func(f cantp.Frame) bool { return f.ID == 0x18DA00F9 && f.Payload[0]&0xF0 == 0x10 })
	require.True(t, ok)
	require.Equal(t, []byte{0x10, 0x0E, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55}, first.Payload)

	_, err := conn.Send(cantp.NewTxFrame(0x18DAF900, []byte{0x30, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, err)

	cf1, ok := stream.Find(func(f cantp.Frame) bool { return f.Payload[0] == 0x21 })
	require.True(t, ok)
	require.Equal(t, []byte{0x21, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55}, cf1.Payload)

	cf2, ok := stream.Find(func(f cantp.Frame) bool { return f.Payload[0] == 0x22 })
	require.True(t, ok)
	require.Equal(t, []byte{0x22, 0x55, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, cf2.Payload)

	require.NoError(t, <-errc)
}

func TestSend4000ByteReassembly(t *testing.T) {
	conn := newLoopConnection()

	request := make([]byte, 4000)
	for i := range request {
		request[i] = 0x55
	}

	rx := NewSession(conn, 0xDA00, 2*time.Second, 0x00, 0xF9)
	stream := conn.IterFor(2 * time.Second)

	errc := make(chan error, 1)
	go func() {
		tx := NewSession(conn, 0xDA00, 2*time.Second, 0xF9, 0x00)
		errc <- tx.Send(request)
	}()

	received, err := rx.Receive(stream)
	require.NoError(t, err)
	require.Equal(t, 4000, len(received))
	require.Equal(t, request, received)
	require.NoError(t, <-errc)
}

func TestConsecutiveFrameSequenceWraps(t *testing.T) {
	conn := newLoopConnection()
	stream := conn.IterFor(2 * time.Second)

	const size = 150 // forces > 15 consecutive frames
	request := make([]byte, size)
	for i := range request {
		request[i] = byte(i)
	}

	session := NewSession(conn, 0xDA00, 2*time.Second, 0xF9, 0x00)
	errc := make(chan error, 1)
	go func() { errc <- session.Send(request) }()

	_, ok := stream.Find(func(f cantp.Frame) bool { return f.Payload[0]&0xF0 == 0x10 })
	require.True(t, ok)
	_, err := conn.Send(cantp.NewTxFrame(0x18DAF900, []byte{0x30, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, err)

	frames := 1 + size/7
	expected := []byte{}
	for seq := 1; seq < frames; seq++ {
		expected = append(expected, byte(seq&0xF))
	}

	var got []byte
	for range expected {
		cf, ok := stream.Find(func(f cantp.Frame) bool { return f.ID == 0x18DA00F9 && f.Payload[0]&0xF0 == 0x20 })
		require.True(t, ok)
		got = append(got, cf.Payload[0]&0x0F)
	}
	require.Equal(t, expected, got)
	require.NoError(t, <-errc)
}
