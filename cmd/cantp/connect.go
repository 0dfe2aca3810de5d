package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/heavydiag/cantp"
	"github.com/heavydiag/cantp/internal/config"
	"github.com/heavydiag/cantp/pkg/can"
	"github.com/heavydiag/cantp/pkg/can/rp1210"
)

// globals holds the flags every subcommand accepts.
type globals struct {
	sa         *string
	da         *string
	timeoutMs  *int
	verbose    *bool
	connection *string
}

func addGlobalFlags(fs *flag.FlagSet, defaults config.Defaults) *globals {
	return &globals{
		sa:         fs.String("sa", fmt.Sprintf("0x%02X", defaults.SourceAddress), "source address (hex)"),
		da:         fs.String("da", fmt.Sprintf("0x%02X", defaults.DestinationAddress), "destination address (hex)"),
		timeoutMs:  fs.Int("timeout", int(defaults.Timeout/time.Millisecond), "response timeout in milliseconds"),
		verbose:    fs.Bool("verbose", defaults.Verbose, "enable debug logging"),
		connection: fs.String("connection", defaults.Connection, `connection string, e.g. "sim", "socketcan can0", "slcan /dev/ttyUSB0 500"`),
	}
}

func parseAddress(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint8(v), nil
}

func (g *globals) addresses() (sa, da uint8, err error) {
	if sa, err = parseAddress(*g.sa); err != nil {
		return
	}
	da, err = parseAddress(*g.da)
	return
}

func (g *globals) timeout() time.Duration {
	return time.Duration(*g.timeoutMs) * time.Millisecond
}

func (g *globals) open() (cantp.Connection, error) {
	return openConnection(*g.connection)
}

// openConnection parses a quoted connection string ("sim", "socketcan can0
// [--speed N]", "slcan <port> <speed-kbaud>", "rp1210 <id> <device> ...")
// and opens the corresponding adapter.
func openConnection(connStr string) (cantp.Connection, error) {
	fields := strings.Fields(connStr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty connection string")
	}
	kind, rest := fields[0], fields[1:]

	switch kind {
	case "list":
		return nil, fmt.Errorf("available interfaces: %v", can.Implemented())
	case "sim":
		return can.NewConnection("sim", "sim0", 0)
	case "socketcan":
		if len(rest) < 1 {
			return nil, fmt.Errorf("socketcan: missing device, usage: socketcan <dev> [--speed N]")
		}
		bitrate := 500000
		if len(rest) >= 3 && rest[1] == "--speed" {
			v, err := strconv.Atoi(rest[2])
			if err != nil {
				return nil, fmt.Errorf("socketcan: invalid --speed: %w", err)
			}
			bitrate = v
		}
		return can.NewConnection("socketcan", rest[0], bitrate)
	case "slcan":
		if len(rest) < 2 {
			return nil, fmt.Errorf("slcan: usage: slcan <port> <speed-kbaud>")
		}
		speed, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, fmt.Errorf("slcan: invalid speed: %w", err)
		}
		return can.NewConnection("slcan", rest[0], speed)
	case "rp1210":
		if len(rest) < 2 {
			return nil, fmt.Errorf("rp1210: usage: rp1210 <id> <device> [--connection-string ...] [--app-packetize]")
		}
		// device, --connection-string and --app-packetize select RP1210
		// client-level options this adapter does not yet expose; only the
		// driver id is wired through.
		return rp1210.New(rest[0], 0)
	default:
		return nil, fmt.Errorf("unknown connection kind %q (have %v)", kind, can.Implemented())
	}
}
