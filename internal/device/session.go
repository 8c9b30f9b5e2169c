package device

import (
	"fmt"
	"log/slog"

	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// Session owns the connection to one device. The original host driver
// held a write handle plus a duplicated read handle over the same
// descriptor; Go serial ports cannot be split that way, so a session
// keeps the single handle and relies on sequential-call discipline
// instead: no two methods may run concurrently. There is no internal
// locking.
//
// Sending a command and observing its effect are decoupled. A Get
// request is answered by the device as an ordinary settings report on
// some later poll; there is no correlation id and no await primitive.
type Session struct {
	conn    Conn
	logger  *slog.Logger
	reports []protocol.Report // nil until a decode lands after a drain
}

// Option configures a session.
type Option func(*Session)

// WithLogger overrides the process-global logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession wraps an opened connection. Asserting the device-ready
// line is the opener's job; see serialport.Open.
func NewSession(conn Conn, opts ...Option) *Session {
	s := &Session{conn: conn, logger: logging.L()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// send writes one command frame and insists on all of it going out.
func (s *Session) send(cmd protocol.Command, f protocol.Frame) error {
	n, err := s.conn.Write(f[:])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSend, cmd, err)
	}
	if n != protocol.FrameSize {
		return fmt.Errorf("%w: %s: wrote %d of %d bytes", ErrSend, cmd, n, protocol.FrameSize)
	}
	metrics.IncCommand(cmd.String())
	return nil
}

// SetPollRate sets the device sampling rate in Hz.
func (s *Session) SetPollRate(hz uint16) error {
	return s.send(protocol.SetPollRate, protocol.EncodeUint16(protocol.SetPollRate, hz))
}

// SetReportMode selects which report kinds the device streams.
func (s *Session) SetReportMode(m protocol.ReportMode) error {
	return s.send(protocol.SetReportMode, protocol.Encode(protocol.SetReportMode, byte(m), 0))
}

// SetThreshold sets the brightness level the device measures latency
// against.
func (s *Session) SetThreshold(v int16) error {
	return s.send(protocol.SetThreshold, protocol.EncodeInt16(protocol.SetThreshold, v))
}

// SetAction sets the input event fired by a trigger.
func (s *Session) SetAction(a protocol.ActionMode) error {
	return s.send(protocol.SetAction, protocol.EncodeAction(protocol.SetAction, a))
}

// RequestPollRate asks for the current sampling rate. The answer
// arrives as a PollRateReport on a later poll.
func (s *Session) RequestPollRate() error {
	return s.send(protocol.GetPollRate, protocol.Encode(protocol.GetPollRate, 0, 0))
}

// RequestReportMode asks for the current report mode.
func (s *Session) RequestReportMode() error {
	return s.send(protocol.GetReportMode, protocol.Encode(protocol.GetReportMode, 0, 0))
}

// RequestThreshold asks for the current threshold.
func (s *Session) RequestThreshold() error {
	return s.send(protocol.GetThreshold, protocol.Encode(protocol.GetThreshold, 0, 0))
}

// RequestAction asks for the current trigger action.
func (s *Session) RequestAction() error {
	return s.send(protocol.GetAction, protocol.Encode(protocol.GetAction, 0, 0))
}

// Trigger fires the device's configured action immediately.
func (s *Session) Trigger() error {
	return s.send(protocol.ManualTrigger, protocol.Encode(protocol.ManualTrigger, 0, 0))
}
