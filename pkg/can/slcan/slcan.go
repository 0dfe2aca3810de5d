// Package slcan adapts the Lawicel SLCAN ASCII serial protocol over
// github.com/daedaluz/goserial. SLCAN adapters have no hardware echo, so
// Send synthesizes one after the write succeeds.
package slcan

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	serial "github.com/daedaluz/goserial"
	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/can"
)

func init() {
	can.RegisterInterface("slcan", New)
}

// canSpeeds are the bitrates (in kbit/s) selectable with the SLCAN "S<n>"
// command, indexed by position.
var canSpeeds = []int{10, 20, 50, 100, 125, 250, 500, 800, 1000}

// uartBaud is the fixed serial-port speed the adapter itself runs at; it is
// unrelated to the CAN bitrate negotiated with the "S<n>" command.
const uartBaud = 1_000_000

const readPoll = time.Millisecond

type Connection struct {
	can.Base
	port    *serial.Port
	opened  time.Time
	writeMu sync.Mutex
	closing chan struct{}
}

// New opens channel (e.g. "/dev/ttyUSB0") as an SLCAN adapter running at
// bitrate kbit/s. bitrate must be one of canSpeeds.
func New(channel string, bitrate int) (cantp.Connection, error) {
	idx := sort.SearchInts(canSpeeds, bitrate)
	if idx == len(canSpeeds) || canSpeeds[idx] != bitrate {
		return nil, fmt.Errorf("%w: unsupported SLCAN speed %d kbit (have %v)", cantp.ErrAdapterOpen, bitrate, canSpeeds)
	}

	port, err := serial.Open(channel, serial.NewOptions().SetReadTimeout(readPoll))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cantp.ErrAdapterOpen, channel, err)
	}
	if err := configurePort(port); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: %v", cantp.ErrAdapterOpen, channel, err)
	}

	c := &Connection{
		Base:    can.NewBase("slcan:"+channel, nil),
		port:    port,
		opened:  time.Now(),
		closing: make(chan struct{}),
	}

	for _, cmd := range []string{"C", "C", "V", fmt.Sprintf("S%d", idx), "O"} {
		if err := c.writeLine(cmd); err != nil {
			port.Close()
			return nil, fmt.Errorf("%w: %s: setup command %q: %v", cantp.ErrAdapterOpen, channel, cmd, err)
		}
	}

	go c.readLoop()
	return c, nil
}

// configurePort sets raw mode, hardware flow control, a fixed custom baud
// and asserts DTR, mirroring the open-time line discipline an adapter
// expects.
func configurePort(port *serial.Port) error {
	attrs, err := port.GetAttr2()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.Cflag |= serial.CRTSCTS
	attrs.SetCustomSpeed(uartBaud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		return err
	}
	return port.SetModemLines(serial.TIOCM_DTR)
}

func (c *Connection) writeLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.port.Write([]byte(line + "\r"))
	return err
}

func (c *Connection) readLoop() {
	buf := make([]byte, 1024)
	var pending []byte
	for {
		select {
		case <-c.closing:
			return
		default:
		}
		n, err := c.port.Read(buf)
		if err != nil || n == 0 {
			var zero *cantp.Frame
			c.Bus().Push(zero)
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			idx := indexByte(pending, '\r')
			if idx < 0 {
				break
			}
			line := string(pending[:idx])
			pending = pending[idx+1:]
			if line == "" {
				continue
			}
			frame, err := parseLine(line, time.Since(c.opened))
			if err != nil {
				c.Logger().Warn("slcan: dropping malformed line", "line", line, "err", err)
				continue
			}
			c.Bus().Push(&frame)
		}
	}
}

func indexByte(b []byte, target byte) int {
	for i, v := range b {
		if v == target {
			return i
		}
	}
	return -1
}

// parseLine decodes a "T<8 hex id><1 hex len><hex payload>" response line.
func parseLine(line string, at time.Duration) (cantp.Frame, error) {
	const headerLen = 10
	if len(line) < headerLen || line[0] != 'T' || len(line)%2 != 0 {
		return cantp.Frame{}, fmt.Errorf("%w: malformed slcan line %q", cantp.ErrParse, line)
	}
	id, err := strconv.ParseUint(line[1:9], 16, 32)
	if err != nil {
		return cantp.Frame{}, fmt.Errorf("%w: %v", cantp.ErrParse, err)
	}
	payload, err := hex.DecodeString(line[10:])
	if err != nil {
		return cantp.Frame{}, fmt.Errorf("%w: %v", cantp.ErrParse, err)
	}
	return cantp.NewRxFrame(uint32(id), payload, at, 0), nil
}

func unparse(f cantp.Frame) string {
	return fmt.Sprintf("T%08X%d%s", f.ID, len(f.Payload), hex.EncodeToString(f.Payload))
}

// Send writes the frame and synthesizes its echo: SLCAN adapters do not
// report one of their own.
func (c *Connection) Send(frame cantp.Frame) (cantp.Frame, error) {
	if err := c.writeLine(unparse(frame)); err != nil {
		return cantp.Frame{}, fmt.Errorf("%w: %v", cantp.ErrAdapterIo, err)
	}
	echo := cantp.NewRxFrame(frame.ID, frame.Payload, time.Since(c.opened), 0)
	c.Bus().Push(&echo)
	return echo, nil
}

func (c *Connection) Close() error {
	close(c.closing)
	c.Bus().Close()
	return c.port.Close()
}
