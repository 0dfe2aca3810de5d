package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/config"
	"github.com/heavydiag/cantp/pkg/j1939"
	"github.com/heavydiag/cantp/pkg/uds"
)

func loadDefaults() config.Defaults {
	d, err := config.Load("cantp.ini")
	if err != nil {
		log.Debugf("config: %v, using built-in defaults", err)
		return config.Default()
	}
	return d
}

func newFlagSet(name string) (*flag.FlagSet, *globals) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	g := addGlobalFlags(fs, loadDefaults())
	return fs, g
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// cmdLog prints every frame observed on the connection, loosely in Vector
// .asc style, until interrupted.
func cmdLog(args []string) error {
	fs, g := newFlagSet("log")
	fs.Parse(args)
	if *g.verbose {
		log.SetLevel(log.DebugLevel)
	}

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer := conn.Iter()
	defer consumer.Close()
	for {
		item, ok := consumer.Next()
		if !ok {
			return nil
		}
		if item != nil {
			fmt.Println(item.String())
		}
	}
}

// cmdPing sends a J1939 PGN request and reports whether a response arrived
// within the timeout.
func cmdPing(args []string) error {
	fs, g := newFlagSet("ping")
	tp := fs.Bool("transport-protocol", false, "reassemble multi-frame responses")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: ping <pgn> [--transport-protocol]")
	}
	pgn, err := strconv.ParseUint(fs.Arg(0), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid pgn: %w", err)
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

	start := time.Now()
	resp, ok := j1939.Request(conn, g.timeout(), *tp, sa, da, uint32(pgn))
	if !ok {
		return fmt.Errorf("no response to PGN %06X within %s", pgn, g.timeout())
	}
	fmt.Printf("reply in %s: %s\n", time.Since(start), resp.String())
	return nil
}

// cmdBandwidth reports the frame and byte rate observed over --duration.
func cmdBandwidth(args []string) error {
	fs, g := newFlagSet("bandwidth")
	duration := fs.Duration("duration", 5*time.Second, "measurement window")
	fs.Parse(args)

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	var frames, bytes int
	stream := conn.IterFor(time.Now().Add(*duration))
	for {
		f, ok := stream.Next()
		if !ok {
			break
		}
		frames++
		bytes += len(f.Payload)
	}
	seconds := duration.Seconds()
	fmt.Printf("%d frames, %d bytes over %s (%.1f frames/s, %.1f bytes/s)\n",
		frames, bytes, duration, float64(frames)/seconds, float64(bytes)/seconds)
	return nil
}

// cmdSend transmits one raw frame and prints its echo.
func cmdSend(args []string) error {
	fs, g := newFlagSet("send")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: send <id> [payload]")
	}
	id, err := strconv.ParseUint(fs.Arg(0), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	var payload []byte
	if fs.NArg() >= 2 {
		payload, err = parseHexBytes(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	echo, err := conn.Send(cantp.NewTxFrame(uint32(id), payload))
	if err != nil {
		return err
	}
	fmt.Println(echo.String())
	return nil
}

// cmdVin reads the vehicle identification number via UDS
// ReadDataByIdentifier(0xF190).
func cmdVin(args []string) error {
	fs, g := newFlagSet("vin")
	fs.Parse(args)
	sa, da, err := g.addresses()
	if err != nil {
		return err
	}

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := uds.ReadDataByIdentifier(g.timeout(), 0xF190).Execute(conn, sa, da)
	if err != nil {
		return err
	}
	if len(resp) < 4 || resp[0] == 0x7F {
		return fmt.Errorf("negative response: %X", resp)
	}
	fmt.Println(string(resp[3:]))
	return nil
}

// cmdUDS dispatches a single ISO-14229 service request.
func cmdUDS(args []string) error {
	fs, g := newFlagSet("uds")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: uds <sessionControl|readDataByIdentifier|writeDataByIdentifier|inputOutputControl|securityAccess> <args...>")
	}
	sa, da, err := g.addresses()
	if err != nil {
		return err
	}
	rest := fs.Args()[1:]
	duration := g.timeout()

	var cmd *uds.Command
	switch fs.Arg(0) {
	case "sessionControl":
		session, err := parseUint8Arg(rest, 0)
		if err != nil {
			return err
		}
		cmd = uds.SessionControl(duration, session)
	case "readDataByIdentifier":
		did, err := parseUint16Arg(rest, 0)
		if err != nil {
			return err
		}
		cmd = uds.ReadDataByIdentifier(duration, did)
	case "writeDataByIdentifier":
		did, err := parseUint16Arg(rest, 0)
		if err != nil {
			return err
		}
		value, err := parseHexArg(rest, 1)
		if err != nil {
			return err
		}
		cmd = uds.WriteDataByIdentifier(duration, did, value)
	case "inputOutputControl":
		did, err := parseUint16Arg(rest, 0)
		if err != nil {
			return err
		}
		value, err := parseHexArg(rest, 1)
		if err != nil {
			return err
		}
		cmd = uds.InputOutputControl(duration, did, value)
	case "securityAccess":
		id, err := parseUint8Arg(rest, 0)
		if err != nil {
			return err
		}
		key, err := parseHexArg(rest, 1)
		if err != nil {
			return err
		}
		cmd = uds.SecurityAccess(duration, id, key)
	default:
		return fmt.Errorf("unknown uds service %q", fs.Arg(0))
	}

	conn, err := g.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := cmd.Execute(conn, sa, da)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(resp))
	return nil
}

// cmdJ1939 issues a J1939 PGN request, optionally reassembling a
// Transport-Protocol response.
func cmdJ1939(args []string) error {
	fs, g := newFlagSet("j1939")
	tp := fs.Bool("transport-protocol", false, "reassemble multi-frame responses")
	fs.Parse(args)
	if fs.NArg() < 2 || fs.Arg(0) != "request" {
		return fmt.Errorf("usage: j1939 request <pgn> [--transport-protocol]")
	}
	pgn, err := strconv.ParseUint(fs.Arg(1), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid pgn: %w", err)
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

	resp, ok := j1939.Request(conn, g.timeout(), *tp, sa, da, uint32(pgn))
	if !ok {
		return fmt.Errorf("no response to PGN %06X within %s", pgn, g.timeout())
	}
	fmt.Println(resp.String())
	return nil
}

func parseUint8Arg(args []string, i int) (uint8, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	v, err := strconv.ParseUint(args[i], 0, 8)
	return uint8(v), err
}

func parseUint16Arg(args []string, i int) (uint16, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	v, err := strconv.ParseUint(args[i], 0, 16)
	return uint16(v), err
}

func parseHexArg(args []string, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	return parseHexBytes(args[i])
}
