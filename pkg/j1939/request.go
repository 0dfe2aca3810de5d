package j1939

import (
	"time"

	"github.com/heavydiag/cantp"
)

// requestPGN is the PGN of a J1939 Request message (PGN 0x00EA00).
const requestPGN = 0x00EA00

// Request sends a PGN 0x00EA00 Request for pgn from sa to da and returns the
// first matching response observed within duration. If transportProtocol is
// true, responses longer than 8 bytes are reassembled via a passive
// Receiver before matching.
func Request(conn cantp.Connection, duration time.Duration, transportProtocol bool, sa, da uint8, pgn uint32) (cantp.Frame, bool) {
	stream := conn.IterFor(duration)

	reqID := uint32(6)<<26 | requestPGN<<8 | uint32(da)<<8 | uint32(sa)
	payload := []byte{byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
	if _, err := conn.Send(cantp.NewTxFrame(reqID, payload)); err != nil {
		return cantp.Frame{}, false
	}

	responseID := pgn<<8 | uint32(da)
	if pgn < 0xF000 {
		responseID |= uint32(sa) << 8
	}
	matches := func(f cantp.Frame) bool { return f.ID&0xFFFFFF == responseID }

	if !transportProtocol {
		return stream.Find(matches)
	}

	receiver := NewReceiver(sa, true, nil)
	for {
		f, ok := stream.Next()
		if !ok {
			return cantp.Frame{}, false
		}
		if matches(f) {
			return f, true
		}
		reassembled, _ := receiver.Feed(f)
		for _, r := range reassembled {
			if matches(r) {
				return r, true
			}
		}
	}
}
