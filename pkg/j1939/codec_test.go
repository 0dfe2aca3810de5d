package j1939

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderBijectionPDU2(t *testing.T) {
	for _, tc := range []struct {
		priority uint8
		pgn      uint32
		sa       uint8
	}{
		{6, 0xFEF1, 0xF9},
		{3, 0xFFFF, 0x00},
		{7, 0xF004, 0x7B},
	} {
		id := BuildID(tc.priority, tc.pgn, 0xFF, tc.sa)
		assert.Equal(t, tc.priority, Priority(id))
		assert.Equal(t, tc.pgn, PGN(id))
		assert.Equal(t, tc.sa, SourceAddress(id))
	}
}

func TestHeaderBijectionPDU1DiscardsDest(t *testing.T) {
	// PDU1: canonical PGN is stored with the destination byte cleared; the
	// destination is read back separately through Destination.
	id := BuildID(6, 0xD300, 0xF9, 0x03)
	assert.Equal(t, uint8(6), Priority(id))
	assert.Equal(t, uint32(0xD300), PGN(id))
	assert.Equal(t, uint8(0x03), SourceAddress(id))
	assert.Equal(t, uint8(0xF9), Destination(id))
}

func TestPGNClearsDestinationForPDU1(t *testing.T) {
	// Two identifiers differing only by destination collapse to the same
	// canonical PGN.
	a := BuildID(6, 0xD300, 0x01, 0x03)
	b := BuildID(6, 0xD300, 0xFE, 0x03)
	assert.Equal(t, PGN(a), PGN(b))
	assert.NotEqual(t, Destination(a), Destination(b))
}

func TestPGNKeepsLowByteForPDU2(t *testing.T) {
	id := BuildID(6, 0xFEF1, 0xFF, 0x00)
	assert.Equal(t, uint32(0xFEF1), PGN(id))
}
