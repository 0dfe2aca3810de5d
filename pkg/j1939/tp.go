package j1939

import (
	"fmt"
	"time"

	"github.com/heavydiag/cantp"
)

// Control bytes for TP.CM (PGN 0x00EC00).
const (
	controlRTS   = 0x10
	controlCTS   = 0x11
	controlEOM   = 0x13
	controlBAM   = 0x20
	controlAbort = 0xFF
)

// tpPriority is the priority this engine uses for every TP.CM/TP.DT frame,
// matching the wire examples in the scenarios this engine was built against.
const tpPriority = 6

const tpCmPGN = 0x00EC00
const tpDtPGN = 0x00EB00

// SendTP transmits payload (9-1785 bytes) as a J1939-21 multi-frame
// message carrying Parameter Group Number pgn from source address sa. da ==
// 0xFF selects the BAM broadcast path; any other destination uses the
// RTS/CTS handshake and is subject to ErrCtsNotReceived / ErrAborted.
func SendTP(conn cantp.Connection, pgn uint32, da, sa uint8, payload []byte) error {
	if da == 0xFF {
		return sendBAM(conn, pgn, sa, payload)
	}
	return sendDS(conn, pgn, da, sa, payload)
}

// segmentCount overcounts by one when size%7==0 (a 14-byte payload claims
// count=3 and the last frame is seq-only padding); harmless since the
// receiver completes on byte count, not frame count. Matches
// original_source/src/j1939.rs:112 verbatim.
func segmentCount(size int) uint8 { return uint8(1 + size/7) }

func controlPayload(control uint8, size int, count uint8, reserved uint8, pgn uint32) []byte {
	return []byte{
		control,
		byte(size), byte(size >> 8),
		count, reserved,
		byte(pgn), byte(pgn >> 8), byte(pgn >> 16),
	}
}

func dataFrames(id uint32, payload []byte, count uint8) []cantp.Frame {
	frames := make([]cantp.Frame, 0, count)
	for seq := uint8(1); seq <= count; seq++ {
		start := int(seq-1) * 7
		end := start + 7
		if end > len(payload) {
			end = len(payload)
		}
		body := append([]byte{seq}, payload[start:end]...)
		frames = append(frames, cantp.NewTxFrame(id, body))
	}
	return frames
}

func sendBAM(conn cantp.Connection, pgn uint32, sa uint8, payload []byte) error {
	count := segmentCount(len(payload))
	bamID := uint32(tpPriority)<<26 | tpCmPGN<<8 | 0xFF00 | uint32(sa)
	bam := cantp.NewTxFrame(bamID, controlPayload(controlBAM, len(payload), count, 0xFF, pgn))
	if _, err := conn.Send(bam); err != nil {
		return err
	}

	dataID := uint32(tpPriority)<<26 | tpDtPGN<<8 | 0xFF00 | uint32(sa)
	for _, frame := range dataFrames(dataID, payload, count) {
		if _, err := conn.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func sendDS(conn cantp.Connection, pgn uint32, da, sa uint8, payload []byte) error {
	size := len(payload)
	count := segmentCount(size)

	controlID := uint32(tpPriority)<<26 | tpCmPGN<<8 | uint32(da)<<8 | uint32(sa)
	dataID := uint32(tpPriority)<<26 | tpDtPGN<<8 | uint32(da)<<8 | uint32(sa)
	ctsID := uint32(tpPriority)<<26 | tpCmPGN<<8 | uint32(sa)<<8 | uint32(da)

	// Subscribe before transmitting the RTS so a fast responder's CTS can
	// never arrive before we are listening for it.
	consumer := conn.Iter()
	defer consumer.Close()

	rts := cantp.NewTxFrame(controlID, controlPayload(controlRTS, size, count, 0xFF, pgn))
	if _, err := conn.Send(rts); err != nil {
		return err
	}

	next := uint8(1)
	for {
		stream := cantp.NewFrameStream(consumer, time.Now().Add(T3*time.Millisecond))
		cts, ok := stream.Find(func(f cantp.Frame) bool {
			return f.ID&0xFFFFFF == ctsID
		})
		if !ok {
			return fmt.Errorf("%w: pgn %06X to %02X", ErrCtsNotReceived, pgn, da)
		}
		if len(cts.Payload) < 1 {
			continue
		}
		switch cts.Payload[0] {
		case controlEOM:
			return nil
		case controlAbort:
			return fmt.Errorf("%w: pgn %06X to %02X", ErrAborted, pgn, da)
		case controlCTS:
			if len(cts.Payload) < 3 {
				continue
			}
			toSend := cts.Payload[1]
			next = cts.Payload[2]
			for seq := next; seq < next+toSend; seq++ {
				start := int(seq-1) * 7
				end := start + 7
				if end > size {
					end = size
				}
				body := append([]byte{seq}, payload[start:end]...)
				if _, err := conn.Send(cantp.NewTxFrame(dataID, body)); err != nil {
					return err
				}
			}
		}
	}
}
