package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// PollBulk drains every complete frame currently buffered on the
// connection. Call it on a periodic tick.
//
// It never waits for bytes that have not arrived: when fewer than a
// frame's worth remain, it returns nil and leaves them for the next
// tick. A checksum failure is handled in place by logging and flushing
// the whole pending input; the resync is crude and may discard the
// leading bytes of an already-valid next frame. Every other failure
// aborts the call and leaves any remaining buffered bytes untouched.
func (s *Session) PollBulk() error {
	for {
		err := s.pollOnce()
		if err == nil {
			continue
		}
		if errors.Is(err, errShortFrame) {
			return nil
		}
		var cerr *protocol.ChecksumError
		if errors.As(err, &cerr) {
			metrics.IncChecksumFailure()
			s.logger.Warn("checksum_mismatch",
				"command", cerr.Command.String(),
				"received", fmt.Sprintf("0x%02X", cerr.Received),
				"calculated", fmt.Sprintf("0x%02X", cerr.Calculated))
			if ferr := s.conn.ResetInput(); ferr != nil {
				return fmt.Errorf("flush input: %w", ferr)
			}
			metrics.IncInputFlush()
			continue
		}
		return err
	}
}

// pollOnce reads and decodes a single frame if one is fully buffered.
func (s *Session) pollOnce() error {
	n, err := s.conn.Buffered()
	if err != nil {
		return err
	}
	if n < protocol.FrameSize {
		return errShortFrame
	}
	var f protocol.Frame
	if _, err := io.ReadFull(s.conn, f[:]); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	rep, err := protocol.Decode(&f)
	if err != nil {
		var cerr *protocol.ChecksumError
		if !errors.As(err, &cerr) {
			metrics.IncDecodeFault()
		}
		return err
	}
	metrics.IncSerialFrame()
	metrics.IncReport(rep.Kind())
	s.reports = append(s.reports, rep)
	return nil
}

// TakeReports returns everything decoded since the previous drain and
// resets the queue to its absent state. It returns nil when no frame
// completed in between; the queue is not reallocated until the next
// successful decode.
func (s *Session) TakeReports() []protocol.Report {
	r := s.reports
	s.reports = nil
	return r
}
