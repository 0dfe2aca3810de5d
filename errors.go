package cantp

import "errors"

// Connection-level error taxonomy. Adapter implementations and Connection
// wrap these with fmt.Errorf("...: %w", err) to attach context.
var (
	// ErrAdapterOpen means a device could not be opened or configured. Fatal
	// to the affected Connection.
	ErrAdapterOpen = errors.New("adapter: could not open device")

	// ErrAdapterIo is a transient read/write error. Logged and retried with
	// back-off; it never closes the bus.
	ErrAdapterIo = errors.New("adapter: io error")

	// ErrEchoTimeout means the transmitter did not observe its own frame on
	// the bus within the echo window.
	ErrEchoTimeout = errors.New("adapter: echo not observed")

	// ErrParse marks a malformed line or frame from an adapter's wire
	// format. The offending unit is dropped; the reader continues.
	ErrParse = errors.New("adapter: parse error")
)
