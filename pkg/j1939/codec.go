// Package j1939 implements SAE J1939-21 framing: 29-bit CAN identifier
// decomposition, PGN request, and the Transport Protocol (BAM broadcast and
// RTS/CTS destination-specific) used to carry payloads over 8 bytes.
package j1939

// Timing constants from J1939-21, section 5.4 (the Transport Protocol
// timeout matrix).
const (
	Tr = 200  // ms, response time for a request
	Th = 500  // ms, time to hold a claimed address
	T1 = 750  // ms, max gap between consecutive data frames
	T2 = 1250 // ms, max time between sending a CTS and receiving data
	T3 = 1250 // ms, max time between sending an RTS or data burst and receiving a CTS
	T4 = 1050 // ms, max time between data frames
)

// Priority extracts the 3-bit priority field (bits 26-28) from a 29-bit CAN
// identifier.
func Priority(id uint32) uint8 {
	return uint8(id >> 26)
}

// SourceAddress extracts the source address (bits 0-7).
func SourceAddress(id uint32) uint8 {
	return uint8(id)
}

// Destination extracts the PDU-specific byte (bits 8-15) verbatim. For a
// PDU1 identifier this is the destination address; for PDU2 it is part of
// the group extension and Destination is meaningless on its own (use PGN).
func Destination(id uint32) uint8 {
	return uint8(id >> 8)
}

// PGN returns the canonical Parameter Group Number taken from bits 8-23 (the
// PF and PS bytes); the data-page bits are not included. For a PDU1
// identifier (PF byte < 0xF0, i.e. pgn < 0xF000) the destination address is
// cleared from the low byte so PGN equality is address-independent; callers
// needing the destination address use Destination.
func PGN(id uint32) uint32 {
	pgn := (id >> 8) & 0xFFFF
	if pgn < 0xF000 {
		pgn &^= 0xFF
	}
	return pgn
}

// BuildID composes a 29-bit extended CAN identifier from its J1939 fields.
// For PDU2 (pgn >= 0xF000) da is ignored and the identifier carries the PGN
// unmodified; for PDU1 da replaces the PGN's low byte.
func BuildID(priority uint8, pgn uint32, da, sa uint8) uint32 {
	id := uint32(priority&0x7)<<26 | (pgn << 8) | uint32(sa)
	if pgn < 0xF000 {
		id = id&^0xFF00 | uint32(da)<<8
	}
	return id
}
