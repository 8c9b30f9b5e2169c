// Package serialport adapts a USB CDC serial port to the device.Conn
// contract. The device enumerates as a plain serial port at 115200 8N1
// and starts streaming once DTR is asserted.
package serialport

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"go.bug.st/serial"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
)

const (
	// DefaultBaud is the rate the firmware configures its CDC UART for.
	DefaultBaud = 115200

	// readChunkSize is the scratch size used to drain the driver.
	readChunkSize = 4096

	// stagingReclaimBytes caps how much an emptied staging buffer may
	// keep allocated before it is replaced.
	stagingReclaimBytes = 16 << 10
)

// Test hooks.
var (
	openPort  = serial.Open
	listPorts = serial.GetPortsList
)

// Port is a serial connection to the device. The driver exposes no
// byte-count query, so Buffered drains whatever the descriptor holds
// into a staging buffer with zero-timeout reads and reports the staged
// length. Read serves staged bytes before touching the driver again.
type Port struct {
	p       serial.Port
	logger  *slog.Logger
	staged  bytes.Buffer
	scratch []byte
}

var _ device.Conn = (*Port)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	baud   int
	logger *slog.Logger
}

// WithBaud overrides the default baud rate.
func WithBaud(baud int) Option {
	return func(o *options) {
		if baud > 0 {
			o.baud = baud
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Open opens the port at path, switches it to non-blocking reads and
// asserts DTR so the device arms its sampler.
func Open(path string, opts ...Option) (*Port, error) {
	o := options{baud: DefaultBaud, logger: logging.L()}
	for _, opt := range opts {
		opt(&o)
	}

	mode := &serial.Mode{
		BaudRate: o.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := openPort(path, mode)
	if err != nil {
		metrics.IncError(metrics.ErrSerialOpen)
		return nil, fmt.Errorf("%w: open %s: %v", device.ErrPort, path, err)
	}
	if err := p.SetReadTimeout(0); err != nil {
		p.Close()
		metrics.IncError(metrics.ErrSerialOpen)
		return nil, fmt.Errorf("%w: set read timeout: %v", device.ErrPort, err)
	}
	if err := p.SetDTR(true); err != nil {
		p.Close()
		metrics.IncError(metrics.ErrSerialOpen)
		return nil, fmt.Errorf("%w: assert dtr: %v", device.ErrPort, err)
	}

	o.logger.Debug("serial_port_open", "path", path, "baud", o.baud)
	return &Port{
		p:       p,
		logger:  o.logger,
		scratch: make([]byte, readChunkSize),
	}, nil
}

// Buffered reports how many bytes can be read without blocking. Every
// call pulls pending driver bytes into the staging buffer first, so the
// count only grows until Read or ResetInput consumes it.
func (pt *Port) Buffered() (int, error) {
	for {
		n, err := pt.p.Read(pt.scratch)
		if n > 0 {
			pt.staged.Write(pt.scratch[:n])
		}
		if err != nil {
			metrics.IncError(metrics.ErrSerialRead)
			return pt.staged.Len(), fmt.Errorf("%w: read: %v", device.ErrPort, err)
		}
		if n < len(pt.scratch) {
			return pt.staged.Len(), nil
		}
	}
}

// Read returns staged bytes first. With nothing staged it passes
// through to the driver, which returns immediately under the zero read
// timeout and may yield no data.
func (pt *Port) Read(p []byte) (int, error) {
	if pt.staged.Len() > 0 {
		n, _ := pt.staged.Read(p)
		if pt.staged.Len() == 0 && pt.staged.Cap() > stagingReclaimBytes {
			pt.staged = bytes.Buffer{}
		}
		return n, nil
	}
	n, err := pt.p.Read(p)
	if err != nil {
		metrics.IncError(metrics.ErrSerialRead)
		return n, fmt.Errorf("%w: read: %v", device.ErrPort, err)
	}
	return n, nil
}

// Write sends p to the device.
func (pt *Port) Write(p []byte) (int, error) {
	n, err := pt.p.Write(p)
	if err != nil {
		metrics.IncError(metrics.ErrSerialWrite)
		return n, fmt.Errorf("%w: write: %v", device.ErrPort, err)
	}
	return n, nil
}

// ResetInput discards the staging buffer and whatever the driver has
// queued.
func (pt *Port) ResetInput() error {
	pt.staged.Reset()
	if err := pt.p.ResetInputBuffer(); err != nil {
		metrics.IncError(metrics.ErrSerialRead)
		return fmt.Errorf("%w: flush input: %v", device.ErrPort, err)
	}
	return nil
}

// Close releases the port.
func (pt *Port) Close() error {
	if err := pt.p.Close(); err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

// ListPorts enumerates serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
