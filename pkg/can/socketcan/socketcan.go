// Package socketcan adapts github.com/brutella/can's SocketCAN binding to
// this module's Connection interface. Loopback of a transmitted frame back
// to other sockets is on by default, but delivery of that loopback to the
// *sending* socket itself requires CAN_RAW_RECV_OWN_MSGS, which brutella/can
// does not set; this package opens the raw socket itself so it can set that
// option before handing the fd to brutella/can, so Send's AwaitEcho has
// something to observe.
package socketcan

import (
	"fmt"
	"net"
	"time"

	sockcan "github.com/brutella/can"
	"golang.org/x/sys/unix"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", New)
}

// EchoTimeout bounds how long Send waits for the kernel loopback echo.
const EchoTimeout = 50 * time.Millisecond

type Connection struct {
	can.Base
	bus    *sockcan.Bus
	opened time.Time
}

// New opens channel (e.g. "can0") as a SocketCAN interface. bitrate is
// accepted for interface-uniformity but ignored: SocketCAN interfaces are
// configured by the kernel/ip-link, not by this process.
func New(channel string, bitrate int) (cantp.Connection, error) {
	bus, err := newLoopbackBus(channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cantp.ErrAdapterOpen, channel, err)
	}
	c := &Connection{
		Base:   can.NewBase("socketcan:"+channel, nil),
		bus:    bus,
		opened: time.Now(),
	}
	bus.Subscribe(c)
	go bus.ConnectAndPublish()
	return c, nil
}

// newLoopbackBus binds a raw CAN_RAW socket to channel with
// CAN_RAW_RECV_OWN_MSGS enabled, then wraps the fd in a brutella/can Bus.
// NewBusForInterfaceWithName can't be used directly since it opens the
// socket internally with no way to set this option first.
func newLoopbackBus(channel string) (*sockcan.Bus, error) {
	itf, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: itf.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return sockcan.NewBusForSocketFd(fd), nil
}

// Handle implements brutella/can's FrameListener, invoked from the bus's own
// read goroutine for every frame the kernel reports, including loopback of
// our own sends (now that CAN_RAW_RECV_OWN_MSGS is set).
func (c *Connection) Handle(frame sockcan.Frame) {
	id := frame.ID & unix.CAN_EFF_MASK
	rx := cantp.NewRxFrame(id, frame.Data[:frame.Length], time.Since(c.opened), 0)
	c.Bus().Push(&rx)
}

func (c *Connection) Send(frame cantp.Frame) (cantp.Frame, error) {
	if len(frame.Payload) > 8 {
		return cantp.Frame{}, fmt.Errorf("%w: socketcan payload %d bytes exceeds classic CAN frame", cantp.ErrAdapterIo, len(frame.Payload))
	}
	var data [8]byte
	copy(data[:], frame.Payload)
	id := frame.ID & unix.CAN_EFF_MASK
	if id > unix.CAN_SFF_MASK {
		id |= unix.CAN_EFF_FLAG
	}
	out := sockcan.Frame{ID: id, Length: uint8(len(frame.Payload)), Data: data}

	return cantp.AwaitEcho(c.Bus(), frame, EchoTimeout, func() error {
		if err := c.bus.Publish(out); err != nil {
			return fmt.Errorf("%w: %v", cantp.ErrAdapterIo, err)
		}
		return nil
	})
}

func (c *Connection) Close() error {
	c.Bus().Close()
	if err := c.bus.Disconnect(); err != nil {
		return fmt.Errorf("%w: %v", cantp.ErrAdapterIo, err)
	}
	return nil
}
