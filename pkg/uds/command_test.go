package uds

import (
	"testing"
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/fanout"
	"github.com/heavydiag/cantp/pkg/isotp"
	"github.com/stretchr/testify/require"
)

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

func TestCommandBuilders(t *testing.T) {
	require.Equal(t, []byte{0x10, 0x03}, SessionControl(time.Second, 0x03).Bytes())
	require.Equal(t, []byte{0x22, 0xF1, 0x90}, ReadDataByIdentifier(time.Second, 0xF190).Bytes())
	require.Equal(t, []byte{0x2E, 0xF1, 0x90, 'V', 'I', 'N'}, WriteDataByIdentifier(time.Second, 0xF190, []byte("VIN")).Bytes())
	require.Equal(t, []byte{0x2F, 0x01, 0x02, 0xFF}, InputOutputControl(time.Second, 0x0102, []byte{0xFF}).Bytes())
	require.Equal(t, []byte{0x27, 0x01, 0xAA, 0xBB}, SecurityAccess(time.Second, 0x01, []byte{0xAA, 0xBB}).Bytes())
}

// vinEcu simulates an ECU at SA=0x03 answering session control and VIN
// read/write requests from a tester at SA=0xF9.
type vinEcu struct {
	vin     string
	session uint8
}

func (e *vinEcu) serve(conn cantp.Connection) {
	session := isotp.NewSession(conn, requestPGN, 2*time.Second, 0x03, 0xF9)
	// Subscribe once, before the loop starts, so a request sent the instant
	// after a prior response can never race past an unsubscribed window.
	consumer := conn.Iter()
	defer consumer.Close()
	for {
		stream := cantp.NewFrameStream(consumer, time.Now().Add(2*time.Second))
		req, err := session.Receive(stream)
		if err != nil {
			return
		}
		var response []byte
		switch req[0] {
		case 0x10:
			e.session = req[1]
			response = []byte{0x50, e.session}
		case 0x22:
			did := uint16(req[1])<<8 | uint16(req[2])
			if did == 0xF190 {
				response = append([]byte{0x62, 0xF1, 0x90}, e.vin...)
			} else {
				response = []byte{0x7F, 0x22, 0x20}
			}
		case 0x2E:
			did := uint16(req[1])<<8 | uint16(req[2])
			if did == 0xF190 && e.session == 0x03 {
				e.vin = string(req[3:])
				response = []byte{0x6E, 0xF1, 0x90}
			} else {
				nrc := byte(0x32)
				if e.session != 0x03 {
					nrc = 0x33
				}
				response = []byte{0x7F, 0x2E, nrc}
			}
		}
		if err := session.Send(response); err != nil {
			return
		}
	}
}

func TestVinReadWriteExample(t *testing.T) {
	conn := newLoopConnection()
	ecu := &vinEcu{vin: "12345678901234567", session: 0x01}
	ready := make(chan struct{})
	go func() {
		close(ready)
		ecu.serve(conn)
	}()
	<-ready
	time.Sleep(10 * time.Millisecond)

	read := func() []byte {
		resp, err := ReadDataByIdentifier(2*time.Second, 0xF190).Execute(conn, 0xF9, 0x03)
		require.NoError(t, err)
		return resp
	}

	require.Equal(t, "12345678901234567", string(read()[3:]))

	_, err := SessionControl(2*time.Second, 0x03).Execute(conn, 0xF9, 0x03)
	require.NoError(t, err)

	_, err = WriteDataByIdentifier(2*time.Second, 0xF190, []byte("TEST VIN")).Execute(conn, 0xF9, 0x03)
	require.NoError(t, err)

	_, err = SessionControl(2*time.Second, 0x01).Execute(conn, 0xF9, 0x03)
	require.NoError(t, err)

	require.Equal(t, "TEST VIN", string(read()[3:]))

	resp, err := WriteDataByIdentifier(2*time.Second, 0xF190, []byte("NOPE")).Execute(conn, 0xF9, 0x03)
	require.NoError(t, err)
	require.Equal(t, byte(0x7F), resp[0])
}
