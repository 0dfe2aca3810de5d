// Package simulator is a loopback Connection with no physical bus: it
// echoes every Send immediately and broadcasts a synthetic periodic frame,
// useful for exercising the transport and UDS layers without hardware.
package simulator

import (
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/can"
)

func init() {
	can.RegisterInterface("sim", New)
}

// broadcastPGN is the PGN the periodic heartbeat frame is sent under
// (priority 6, destination-independent, source address 0xF9).
const broadcastPGN = 0xFEF1
const broadcastPeriod = 100 * time.Millisecond
const broadcastPriority = 6
const broadcastSA = 0xF9

type Connection struct {
	can.Base
	opened  time.Time
	closing chan struct{}
}

// New ignores channel and bitrate: the simulator has no physical endpoint.
func New(channel string, bitrate int) (cantp.Connection, error) {
	c := &Connection{
		Base:    can.NewBase("sim:"+channel, nil),
		opened:  time.Now(),
		closing: make(chan struct{}),
	}
	go c.broadcastLoop()
	return c, nil
}

func (c *Connection) broadcastLoop() {
	var seq uint64
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case <-ticker.C:
			payload := []byte{
				byte(seq >> 56), byte(seq >> 48), byte(seq >> 40), byte(seq >> 32),
				byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq),
			}
			id := uint32(broadcastPriority)<<26 | uint32(broadcastPGN)<<8 | broadcastSA
			frame := cantp.NewRxFrame(id, payload, time.Since(c.opened), 0)
			c.Bus().Push(&frame)
			seq++
		}
	}
}

// Send echoes frame back immediately: a simulated bus has no transmission
// delay worth modeling.
func (c *Connection) Send(frame cantp.Frame) (cantp.Frame, error) {
	echo := cantp.NewRxFrame(frame.ID, frame.Payload, time.Since(c.opened), 0)
	c.Bus().Push(&echo)
	return echo, nil
}

func (c *Connection) Close() error {
	close(c.closing)
	c.Bus().Close()
	return nil
}
