// Package rp1210 loads a TMC RP1210C vendor driver (a shared library chosen
// by name, not linked at build time) and adapts it to this module's
// Connection interface. The driver is resolved with dlopen/dlsym at Open
// time, mirroring how a Windows host would LoadLibrary/GetProcAddress it.
package rp1210

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef short (*client_connect_fn)(int, short, const char*, int, int, short);
typedef short (*send_fn)(short, const unsigned char*, short, short, short);
typedef short (*read_fn)(short, unsigned char*, short, short);
typedef short (*send_command_fn)(unsigned short, short, const unsigned char*, unsigned short);
typedef short (*get_error_fn)(short, unsigned char*);
typedef short (*client_disconnect_fn)(short);

static void *rp1210_dlopen(const char *path) { return dlopen(path, RTLD_NOW); }
static void *rp1210_dlsym(void *handle, const char *name) { return dlsym(handle, name); }

static short rp1210_connect(client_connect_fn fn, int device, short id, const char *conn, short app) {
	return fn(device, id, conn, 0, 0, app);
}
static short rp1210_send(send_fn fn, short id, const unsigned char *buf, short len) {
	return fn(id, buf, len, 0, 0);
}
static short rp1210_read(read_fn fn, short id, unsigned char *buf, short len) {
	return fn(id, buf, len, 0);
}
static short rp1210_command(send_command_fn fn, unsigned short cmd, short id, const unsigned char *buf, unsigned short len) {
	return fn(cmd, id, buf, len);
}
static short rp1210_get_error(get_error_fn fn, short code, unsigned char *buf) {
	return fn(code, buf);
}
static short rp1210_disconnect(client_disconnect_fn fn, short id) {
	return fn(id);
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/can"
	"gopkg.in/ini.v1"
)

func init() {
	can.RegisterInterface("rp1210", New)
}

const packetSize = 1600

const (
	cmdProtectJ1939Address   = 19
	cmdEchoTransmitted       = 16
	cmdSetAllFiltersToPass   = 3
	echoOn                   = 1
	claimBlockUntilDone      = 0
)

// RP1210Error wraps a driver status code together with the text the driver
// itself returns for it via RP1210_GetErrorMsg.
type RP1210Error struct {
	Code        int
	Description string
}

func (e *RP1210Error) Error() string {
	return fmt.Sprintf("rp1210: %s (%d)", e.Description, e.Code)
}

type driver struct {
	handle    unsafe.Pointer
	clientID  C.short
	connect   C.client_connect_fn
	send      C.send_fn
	read      C.read_fn
	command   C.send_command_fn
	getError  C.get_error_fn
	disconn   C.client_disconnect_fn
}

func loadDriver(dllPath string) (*driver, error) {
	cPath := C.CString(dllPath)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.rp1210_dlopen(cPath)
	if handle == nil {
		return nil, fmt.Errorf("%w: dlopen %s failed", cantp.ErrAdapterOpen, dllPath)
	}
	sym := func(name string) (unsafe.Pointer, error) {
		cName := C.CString(name)
		defer C.free(unsafe.Pointer(cName))
		p := C.rp1210_dlsym(handle, cName)
		if p == nil {
			return nil, fmt.Errorf("%w: symbol %s not found in %s", cantp.ErrAdapterOpen, name, dllPath)
		}
		return p, nil
	}

	d := &driver{handle: handle}
	var p unsafe.Pointer
	var err error
	if p, err = sym("RP1210_ClientConnect"); err != nil {
		return nil, err
	}
	d.connect = C.client_connect_fn(p)
	if p, err = sym("RP1210_SendMessage"); err != nil {
		return nil, err
	}
	d.send = C.send_fn(p)
	if p, err = sym("RP1210_ReadMessage"); err != nil {
		return nil, err
	}
	d.read = C.read_fn(p)
	if p, err = sym("RP1210_SendCommand"); err != nil {
		return nil, err
	}
	d.command = C.send_command_fn(p)
	if p, err = sym("RP1210_GetErrorMsg"); err != nil {
		return nil, err
	}
	d.getError = C.get_error_fn(p)
	if p, err = sym("RP1210_ClientDisconnect"); err != nil {
		return nil, err
	}
	d.disconn = C.client_disconnect_fn(p)
	return d, nil
}

func (d *driver) errorText(code int) string {
	buf := make([]byte, 1024)
	n := int(C.rp1210_get_error(d.getError, C.short(code), (*C.uchar)(unsafe.Pointer(&buf[0]))))
	if n <= 0 || n > len(buf) {
		return "unknown error"
	}
	return string(buf[:n])
}

func (d *driver) verify(code C.short) (int, error) {
	v := int(code)
	if v < 0 || v > 127 {
		return v, &RP1210Error{Code: v, Description: d.errorText(v)}
	}
	return v, nil
}

// Connection is a Connection backed by a loaded RP1210 vendor driver.
type Connection struct {
	can.Base
	d          *driver
	opened     time.Time
	timeWeight float64
	closing    chan struct{}
}

// New loads dllName (a vendor driver, e.g. "CIL_PE.dll" /
// "libcil_pe.so"), connects to device 0 using 0xF9 as our J1939 node
// address, and starts the background reader; bitrate is not used. timeStampWeight scales
// the driver's raw timestamp field into seconds; it is read from the
// vendor's own configuration INI, keyed "TimeStampWeight" under
// "[VendorInformation]", the same place the driver publishes it.
func New(dllName string, bitrate int) (cantp.Connection, error) {
	return newWithAddress(dllName, 0, 0xF9)
}

func newWithAddress(dllName string, deviceID int16, sourceAddress uint8) (cantp.Connection, error) {
	d, err := loadDriver(dllName)
	if err != nil {
		return nil, err
	}
	weight := timeStampWeight(dllName)

	connStr := C.CString("J1939")
	defer C.free(unsafe.Pointer(connStr))
	code := C.rp1210_connect(d.connect, C.int(deviceID), 0, connStr, 0)
	id, err := d.verify(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cantp.ErrAdapterOpen, err)
	}
	d.clientID = C.short(id)

	claim := []byte{sourceAddress, 0, 0, 0xE0, 0xFF, 0, 0x81, 0, 0, claimBlockUntilDone}
	if err := d.sendCommand(cmdProtectJ1939Address, claim); err != nil {
		return nil, fmt.Errorf("%w: claim address: %v", cantp.ErrAdapterOpen, err)
	}
	if err := d.sendCommand(cmdEchoTransmitted, []byte{echoOn}); err != nil {
		return nil, fmt.Errorf("%w: enable echo: %v", cantp.ErrAdapterOpen, err)
	}
	if err := d.sendCommand(cmdSetAllFiltersToPass, nil); err != nil {
		return nil, fmt.Errorf("%w: pass filters: %v", cantp.ErrAdapterOpen, err)
	}

	c := &Connection{
		Base:       can.NewBase("rp1210:"+dllName, nil),
		d:          d,
		opened:     time.Now(),
		timeWeight: weight,
		closing:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (d *driver) sendCommand(cmd uint16, payload []byte) error {
	var ptr *C.uchar
	if len(payload) > 0 {
		ptr = (*C.uchar)(unsafe.Pointer(&payload[0]))
	}
	code := C.rp1210_command(d.command, C.ushort(cmd), d.clientID, ptr, C.ushort(len(payload)))
	_, err := d.verify(code)
	return err
}

// timeStampWeight reads the vendor's own configuration file for the scale
// factor that converts its raw 32-bit timestamp field into seconds. It
// defaults to 1 if the file or key is absent, matching a driver that never
// published one.
func timeStampWeight(dllName string) float64 {
	cfg, err := ini.Load(dllName + ".ini")
	if err != nil {
		return 1
	}
	return cfg.Section("VendorInformation").Key("TimeStampWeight").MustFloat64(1)
}

// readLoop decodes the driver's fixed read-buffer layout:
// [4-byte BE timestamp][1-byte echo flag][3-byte LE PGN][1-byte priority]
// [1-byte source address][1-byte destination, only for PDU1][payload].
func (c *Connection) readLoop() {
	buf := make([]byte, packetSize)
	for {
		select {
		case <-c.closing:
			return
		default:
		}
		n := int(C.rp1210_read(c.d.read, c.d.clientID, (*C.uchar)(unsafe.Pointer(&buf[0])), C.short(len(buf))))
		if n <= 0 {
			if n < 0 {
				c.Logger().Warn("rp1210 read error", "code", -n, "msg", c.d.errorText(-n))
				time.Sleep(250 * time.Millisecond)
			} else {
				time.Sleep(time.Millisecond)
			}
			var zero *cantp.Frame
			c.Bus().Push(zero)
			continue
		}
		data := buf[:n]
		if len(data) < 11 {
			continue
		}
		rawTime := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		at := time.Duration(float64(rawTime) * c.timeWeight * float64(time.Second))
		pgn := uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16
		priority := data[8] & 0x07
		sa := data[9]
		payloadStart := 10
		var da uint8
		if pgn < 0xF000 {
			da = data[10]
			payloadStart = 11
		}
		id := uint32(priority)<<26 | pgn<<8 | uint32(sa)
		if pgn < 0xF000 {
			id = uint32(priority)<<26 | (pgn|uint32(da))<<8 | uint32(sa)
		}
		frame := cantp.NewRxFrame(id, append([]byte(nil), data[payloadStart:]...), at, 0)
		c.Bus().Push(&frame)
	}
}

func (c *Connection) Send(frame cantp.Frame) (cantp.Frame, error) {
	pgn := (frame.ID >> 8) & 0x3FFFF
	priority := uint8((frame.ID >> 26) & 0x7)
	sa := uint8(frame.ID)
	buf := make([]byte, 0, 6+len(frame.Payload))
	buf = append(buf, byte(pgn), byte(pgn>>8), byte(pgn>>16), priority, sa)
	if pgn < 0xF000 {
		buf = append(buf, uint8(frame.ID>>8))
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, frame.Payload...)

	return cantp.AwaitEcho(c.Bus(), frame, 50*time.Millisecond, func() error {
		code := C.rp1210_send(c.d.send, c.d.clientID, (*C.uchar)(unsafe.Pointer(&buf[0])), C.short(len(buf)))
		_, err := c.d.verify(code)
		if err != nil {
			return fmt.Errorf("%w: %v", cantp.ErrAdapterIo, err)
		}
		return nil
	})
}

func (c *Connection) Close() error {
	close(c.closing)
	c.Bus().Close()
	code := C.rp1210_disconnect(c.d.disconn, c.d.clientID)
	_, err := c.d.verify(code)
	if err != nil {
		return fmt.Errorf("%w: %v", cantp.ErrAdapterIo, err)
	}
	return nil
}
