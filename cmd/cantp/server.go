package main

import (
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/pkg/isotp"
)

// vinEcu answers DiagnosticSessionControl and VIN read/write requests like a
// minimal ECU, for exercising the client-side tooling against something real
// without hardware.
type vinEcu struct {
	vin     string
	session uint8
}

func (e *vinEcu) respond(req []byte) []byte {
	switch req[0] {
	case 0x10:
		e.session = req[1]
		return []byte{0x50, e.session}
	case 0x22:
		did := uint16(req[1])<<8 | uint16(req[2])
		if did != 0xF190 {
			return []byte{0x7F, 0x22, 0x31}
		}
		return append([]byte{0x62, 0xF1, 0x90}, e.vin...)
	case 0x2E:
		did := uint16(req[1])<<8 | uint16(req[2])
		if did != 0xF190 {
			return []byte{0x7F, 0x2E, 0x31}
		}
		if e.session != 0x03 {
			return []byte{0x7F, 0x2E, 0x33}
		}
		e.vin = string(req[3:])
		return []byte{0x6E, 0xF1, 0x90}
	default:
		return []byte{0x7F, req[0], 0x11}
	}
}

func (e *vinEcu) serve(conn cantp.Connection, sa, da uint8, duration time.Duration) error {
	session := isotp.NewSession(conn, 0xDA00, duration, sa, da)
	consumer := conn.Iter()
	defer consumer.Close()
	for {
		stream := cantp.NewFrameStream(consumer, time.Now().Add(duration))
		req, err := session.Receive(stream)
		if err != nil {
			return err
		}
		log.Debugf("server rx %X", req)
		resp := e.respond(req)
		log.Debugf("server tx %X", resp)
		if err := session.Send(resp); err != nil {
			return err
		}
	}
}

// cmdServer runs a standing VIN-responding UDS server on the connection.
func cmdServer(args []string) error {
	fs, g := newFlagSet("server")
	vin := fs.String("vin", "00000000000000000", "VIN the server reports and accepts writes for")
	fs.Parse(args)
	if *g.verbose {
		log.SetLevel(log.DebugLevel)
	}
	sa, da, err := g.addresses()
	if err != nil {
		return err
	}

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("serving UDS on sa=%#02x da=%#02x, vin=%s\n", sa, da, *vin)
	ecu := &vinEcu{vin: *vin, session: 0x01}
	return ecu.serve(conn, da, sa, g.timeout())
}
