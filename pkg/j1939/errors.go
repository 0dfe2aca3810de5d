package j1939

import "errors"

var (
	// ErrCtsNotReceived means a destination-specific transport send got no
	// Clear To Send within T3 of its RTS or the previous data burst.
	ErrCtsNotReceived = errors.New("j1939: CTS not received")

	// ErrAborted means the remote end answered an RTS or CTS with a
	// Connection Abort (control byte 0xFF).
	ErrAborted = errors.New("j1939: transport connection aborted")

	// ErrNoResponse means a PGN request produced no matching reply within
	// its timeout.
	ErrNoResponse = errors.New("j1939: no response to request")
)
