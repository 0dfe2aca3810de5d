package isotp

import "errors"

var (
	// ErrFlowControlMissing is returned when a multi-frame send gets no flow
	// control response within the 2 s flow-control wait.
	ErrFlowControlMissing = errors.New("isotp: flow control not received")
	// ErrNack is returned when the peer responds with a 0x7F negative
	// response in place of flow control.
	ErrNack = errors.New("isotp: negative response")
	// ErrUnexpectedFrame is returned when a control response is neither flow
	// control (0x30) nor negative response (0x7F).
	ErrUnexpectedFrame = errors.New("isotp: unexpected control frame")
	// ErrNoResponse is returned when no frame matching the receive header
	// arrives within the session duration.
	ErrNoResponse = errors.New("isotp: no response")
)
