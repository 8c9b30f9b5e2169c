// Package device drives a FakeLDAT peripheral over a duplex byte
// connection: it sends settings and trigger commands, polls buffered
// frames on an external tick and accumulates the decoded reports until
// the consumer drains them.
package device

import (
	"errors"
	"io"
)

// Conn is the connection contract a session needs. Implementations
// exist for real serial ports (internal/serialport) and the in-process
// simulator (internal/sim).
type Conn interface {
	io.ReadWriteCloser

	// Buffered reports how many bytes can currently be read without
	// blocking.
	Buffered() (int, error)

	// ResetInput discards every byte waiting to be read.
	ResetInput() error
}

var (
	// ErrSend marks a command write that did not complete in full.
	ErrSend = errors.New("command send")

	// ErrPort marks a connection-level fault, typically an unplugged or
	// unopenable device. Callers should reacquire the port and retry
	// rather than exit.
	ErrPort = errors.New("port failure")
)

// errShortFrame signals that fewer than a full frame's bytes are
// buffered. The bulk poller resolves it internally; it never escapes
// this package.
var errShortFrame = errors.New("short frame")
