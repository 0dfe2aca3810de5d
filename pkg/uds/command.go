// Package uds builds ISO-14229 (Unified Diagnostic Services) request bodies
// and executes them over an ISO-15765-2 session.
package uds

import (
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/isotp"
)

// requestPGN is the Parameter Group Number diagnostic requests and
// responses travel under.
const requestPGN = 0x00DA00

// Command accumulates a request body one typed field at a time and executes
// it as a single ISO-TP send/receive round trip.
type Command struct {
	raw      []byte
	pgn      uint32
	duration time.Duration
}

func build(duration time.Duration, service byte) *Command {
	c := &Command{pgn: requestPGN, duration: duration}
	return c.U8(service)
}

// U8 appends raw bytes.
func (c *Command) U8(data ...byte) *Command {
	c.raw = append(c.raw, data...)
	return c
}

// U16 appends big-endian 16-bit values.
func (c *Command) U16(data ...uint16) *Command {
	for _, d := range data {
		c.raw = append(c.raw, byte(d>>8), byte(d))
	}
	return c
}

// U24 appends big-endian 24-bit values.
func (c *Command) U24(data ...uint32) *Command {
	for _, d := range data {
		c.raw = append(c.raw, byte(d>>16), byte(d>>8), byte(d))
	}
	return c
}

// U32 appends big-endian 32-bit values.
func (c *Command) U32(data ...uint32) *Command {
	for _, d := range data {
		c.raw = append(c.raw, byte(d>>24), byte(d>>16), byte(d>>8), byte(d))
	}
	return c
}

// U64 appends big-endian 64-bit values.
func (c *Command) U64(data ...uint64) *Command {
	for _, d := range data {
		for i := 7; i >= 0; i-- {
			c.raw = append(c.raw, byte(d>>(i*8)))
		}
	}
	return c
}

// Bytes returns the accumulated request body.
func (c *Command) Bytes() []byte { return append([]byte(nil), c.raw...) }

// Execute opens an ISO-TP session between sa and da and runs this command as
// a send/receive round trip, returning the response payload.
func (c *Command) Execute(conn cantp.Connection, sa, da uint8) ([]byte, error) {
	session := isotp.NewSession(conn, c.pgn, c.duration, sa, da)
	return session.SendReceive(c.raw)
}

// SessionControl builds a 0x10 DiagnosticSessionControl request.
func SessionControl(duration time.Duration, session uint8) *Command {
	return build(duration, 0x10).U8(session)
}

// ReadDataByIdentifier builds a 0x22 ReadDataByIdentifier request.
func ReadDataByIdentifier(duration time.Duration, did uint16) *Command {
	return build(duration, 0x22).U16(did)
}

// WriteDataByIdentifier builds a 0x2E WriteDataByIdentifier request.
func WriteDataByIdentifier(duration time.Duration, did uint16, value []byte) *Command {
	return build(duration, 0x2E).U16(did).U8(value...)
}

// InputOutputControl builds a 0x2F InputOutputControlByIdentifier request.
func InputOutputControl(duration time.Duration, did uint16, value []byte) *Command {
	return build(duration, 0x2F).U16(did).U8(value...)
}

// SecurityAccess builds a 0x27 SecurityAccess request.
func SecurityAccess(duration time.Duration, id uint8, key []byte) *Command {
	return build(duration, 0x27).U8(id).U8(key...)
}
