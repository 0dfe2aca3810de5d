// Package isotp implements ISO-15765-2 segmentation over a J1939-style
// 29-bit CAN identifier: single/first/consecutive/flow-control framing,
// reassembly, and the send/receive/send-receive session used to carry
// UDS (ISO-14229) requests.
package isotp

import (
	"fmt"
	"time"

	"github.com/heavydiag/cantp"
)

const flowControlWait = 2 * time.Second

// Session is one direction of an ISO-TP exchange: a fixed send/receive
// header pair and a response duration, scoped to a single send, receive, or
// send-receive call.
type Session struct {
	conn          cantp.Connection
	sendHeader    uint32
	receiveHeader uint32
	duration      time.Duration
}

// NewSession builds a Session for Parameter Group Number pgn between
// source sa and destination da. Responses are awaited for up to duration.
func NewSession(conn cantp.Connection, pgn uint32, duration time.Duration, sa, da uint8) *Session {
	return &Session{
		conn:          conn,
		sendHeader:    0x18000000 | pgn<<8 | uint32(da)<<8 | uint32(sa),
		receiveHeader: pgn<<8 | uint32(sa)<<8 | uint32(da),
		duration:      duration,
	}
}

// Send transmits request, segmenting into First/Consecutive frames if it
// exceeds 7 bytes.
func (s *Session) Send(request []byte) error {
	if len(request) <= 7 {
		payload := make([]byte, 8)
		payload[0] = byte(len(request))
		copy(payload[1:], request)
		for i := 1 + len(request); i < 8; i++ {
			payload[i] = 0xFF
		}
		_, err := s.conn.Send(cantp.NewTxFrame(s.sendHeader, payload))
		return err
	}
	return s.transportSend(request)
}

// Receive scans stream for the next message addressed to this session's
// receive header, reassembling a multi-frame message if needed.
func (s *Session) Receive(stream *cantp.FrameStream) ([]byte, error) {
	first, ok := stream.Find(func(f cantp.Frame) bool {
		if f.ID&0xFFFFFF != s.receiveHeader || len(f.Payload) == 0 {
			return false
		}
		nibble := f.Payload[0] & 0xF0
		return nibble == 0x00 || nibble == 0x10
	})
	if !ok {
		return nil, ErrNoResponse
	}
	if first.Payload[0]&0xF0 == 0x00 {
		n := int(first.Payload[0])
		return append([]byte(nil), first.Payload[1:1+n]...), nil
	}
	return s.transportReceive(stream, first)
}

// SendReceive registers a receive iterator before sending request, then
// awaits the matching response -- the race-free pattern every UDS call
// uses.
func (s *Session) SendReceive(request []byte) ([]byte, error) {
	stream := s.conn.IterFor(s.duration)
	if err := s.Send(request); err != nil {
		return nil, err
	}
	return s.Receive(stream)
}

func (s *Session) transportSend(request []byte) error {
	size := len(request)
	payload := []byte{0x10 | byte(size>>8&0xF), byte(size), 0, 0, 0, 0, 0, 0}
	copy(payload[2:8], request[0:6])
	firstFrame := cantp.NewTxFrame(s.sendHeader, payload)

	consumer := s.conn.Iter()
	defer consumer.Close()
	stream := cantp.NewFrameStream(consumer, time.Now().Add(flowControlWait))

	if _, err := s.conn.Send(firstFrame); err != nil {
		return err
	}

	fc, ok := stream.Find(func(f cantp.Frame) bool { return f.ID&0xFFFFFF == s.receiveHeader })
	if !ok {
		return fmt.Errorf("%w: pgn header %06X", ErrFlowControlMissing, s.receiveHeader)
	}
	if len(fc.Payload) == 0 {
		return fmt.Errorf("%w: empty flow control", ErrUnexpectedFrame)
	}
	switch fc.Payload[0] {
	case 0x7F:
		return fmt.Errorf("%w: %X", ErrNack, fc.Payload)
	case 0x30:
	default:
		return fmt.Errorf("%w: %02X", ErrUnexpectedFrame, fc.Payload[0])
	}
	// TODO: honor block size (fc.Payload[1]) by waiting for a fresh flow
	// control frame every BS consecutive frames instead of sending all of
	// them against the first grant.
	stMin := flowControlSTmin(fc.Payload[2])

	frames := 1 + size/7
	for seq := 1; seq < frames; seq++ {
		time.Sleep(stMin)
		offset := 6 + (seq-1)*7
		end := offset + 7
		if end > size {
			end = size
		}
		body := make([]byte, 0, 8)
		body = append(body, 0x20|byte(seq&0xF))
		body = append(body, request[offset:end]...)
		for len(body) < 8 {
			body = append(body, 0xFF)
		}
		if _, err := s.conn.Send(cantp.NewTxFrame(s.sendHeader, body)); err != nil {
			return err
		}
	}
	return nil
}

func flowControlSTmin(b byte) time.Duration {
	if b >= 0xF1 && b <= 0xF9 {
		return time.Duration(b&0xF) * 100 * time.Microsecond
	}
	return time.Duration(b) * time.Millisecond
}

func (s *Session) transportReceive(stream *cantp.FrameStream, first cantp.Frame) ([]byte, error) {
	fc := cantp.NewTxFrame(s.sendHeader, []byte{0x30, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := s.conn.Send(fc); err != nil {
		return nil, err
	}

	length := int(first.Payload[0]&0x0F)<<8 | int(first.Payload[1])
	result := make([]byte, 0, length)
	result = append(result, first.Payload[2:]...)

	remaining := length - 6
	frames := (remaining + 6) / 7
	for i := 0; i < frames; i++ {
		f, ok := stream.Find(func(f cantp.Frame) bool { return f.ID&0xFFFFFF == s.receiveHeader })
		if !ok {
			return nil, ErrNoResponse
		}
		result = append(result, f.Payload[1:]...)
	}
	if len(result) > length {
		result = result[:length]
	}
	return result, nil
}
