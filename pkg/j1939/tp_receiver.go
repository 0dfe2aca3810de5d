package j1939

import (
	"github.com/heavydiag/cantp"
)

// tpDescriptor is a reassembly-in-progress entry, keyed by the sender's
// source address.
type tpDescriptor struct {
	size  uint16
	count uint8
	pgn   uint32
	data  []byte
}

// Receiver is an in-stream transformer: feed it every frame observed on a
// Connection and it returns any EOM it sent and any reassembled message it
// completed; CTS responses go out through emit only. The frame fed in is
// not returned, so the caller keeps passing the original stream through.
type Receiver struct {
	addr    uint8
	passive bool
	emit    func(cantp.Frame) error

	bam map[uint8]*tpDescriptor
	ds  map[uint8]*tpDescriptor
}

// NewReceiver builds a Receiver for messages destined to addr. emit is
// called to transmit CTS/EOM control responses; pass a no-op to run
// passively (never emitted, matching passive==true below for BAM regardless
// of the emit function, since broadcast traffic never gets a handshake
// reply).
func NewReceiver(addr uint8, passive bool, emit func(cantp.Frame) error) *Receiver {
	return &Receiver{
		addr:    addr,
		passive: passive,
		emit:    emit,
		bam:     make(map[uint8]*tpDescriptor),
		ds:      make(map[uint8]*tpDescriptor),
	}
}

// Feed processes one frame and returns any messages it reassembled. The
// input frame itself is not included in the returned slice; the receiver is
// a pure side-channel, leaving stream pass-through to the caller.
func (r *Receiver) Feed(f cantp.Frame) ([]cantp.Frame, error) {
	masked := f.ID & 0xFFFF00
	dsControl := tpCmPGN<<8 | uint32(r.addr)<<8
	dsData := tpDtPGN<<8 | uint32(r.addr)<<8
	bamControl := uint32(tpCmPGN)<<8 | 0xFF00
	bamData := uint32(tpDtPGN)<<8 | 0xFF00

	switch masked {
	case bamControl:
		return nil, r.control(r.bam, true, f)
	case dsControl:
		return nil, r.control(r.ds, r.passive, f)
	case bamData:
		return r.data(r.bam, true, f)
	case dsData:
		return r.data(r.ds, r.passive, f)
	}
	return nil, nil
}

func (r *Receiver) control(table map[uint8]*tpDescriptor, passive bool, f cantp.Frame) error {
	if len(f.Payload) < 8 {
		return nil
	}
	src := SourceAddress(f.ID)
	command := f.Payload[0]
	switch command {
	case controlRTS, controlBAM:
		size := uint16(f.Payload[1]) | uint16(f.Payload[2])<<8
		count := f.Payload[3]
		pgn := uint32(f.Payload[5]) | uint32(f.Payload[6])<<8 | uint32(f.Payload[7])<<16
		table[src] = &tpDescriptor{size: size, count: count, pgn: pgn}
		if passive || r.emit == nil {
			return nil
		}
		dest := Destination(f.ID)
		ctsID := uint32(tpPriority)<<26 | tpCmPGN<<8 | uint32(src)<<8 | uint32(dest)
		ctsPayload := []byte{controlCTS, count, 1, 0xFF, 0xFF, byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
		return r.emit(cantp.NewTxFrame(ctsID, ctsPayload))
	case controlAbort:
		delete(table, src)
	}
	return nil
}

func (r *Receiver) data(table map[uint8]*tpDescriptor, passive bool, f cantp.Frame) ([]cantp.Frame, error) {
	if len(f.Payload) < 1 {
		return nil, nil
	}
	src := SourceAddress(f.ID)
	d, ok := table[src]
	if !ok {
		return nil, nil
	}
	expectedSeq := uint8(1 + len(d.data)/7)
	if f.Payload[0] != expectedSeq {
		return nil, nil
	}
	d.data = append(d.data, f.Payload[1:]...)
	if len(d.data) < int(d.size) {
		return nil, nil
	}
	d.data = d.data[:d.size]

	dest := Destination(f.ID)
	msgID := BuildID(tpPriority, d.pgn, dest, src)
	reassembled := cantp.NewRxFrame(msgID, d.data, f.Time, f.Channel)

	var out []cantp.Frame
	if !passive && r.emit != nil {
		eomID := uint32(tpPriority)<<26 | tpCmPGN<<8 | uint32(src)<<8 | uint32(dest)
		eom := cantp.NewTxFrame(eomID, controlPayload(controlEOM, int(d.size), d.count, 0xFF, d.pgn))
		if err := r.emit(eom); err != nil {
			return nil, err
		}
		out = append(out, eom)
	}
	out = append(out, reassembled)
	delete(table, src)
	return out, nil
}
