// Package csvlog records measurement reports to CSV files named the
// way the stock capture tool names them, so existing plotting scripts
// pick them up unchanged.
package csvlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
	"github.com/fakeldat/go-fakeldat/internal/relay"
)

// ErrOverflow is returned by Record when the write queue is full.
var ErrOverflow = errors.New("csv queue overflow")

const queueSize = 1024

// Test hook.
var now = time.Now

// Recorder appends raw and summary reports to a CSV file. Writes go
// through an AsyncSink so a slow disk cannot stall the device poll
// loop. Settings echoes and trigger acks are not rows and are skipped.
type Recorder struct {
	path   string
	file   *os.File
	sink   *relay.AsyncSink
	logger *slog.Logger
	rows   atomic.Uint64
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Filename builds the capture filename for mode at time t:
// "raw_report 02-01-2006 15.04.05.csv" and so on.
func Filename(mode protocol.ReportMode, t time.Time) string {
	return fmt.Sprintf("%s_report %s.csv", mode, t.Format("02-01-2006 15.04.05"))
}

// New creates the capture file in dir and starts the write worker.
func New(dir string, mode protocol.ReportMode, opts ...Option) (*Recorder, error) {
	o := options{logger: logging.L()}
	for _, opt := range opts {
		opt(&o)
	}

	path := filepath.Join(dir, Filename(mode, now()))
	f, err := os.Create(path)
	if err != nil {
		metrics.IncError(metrics.ErrCSVWrite)
		return nil, fmt.Errorf("create csv: %w", err)
	}

	r := &Recorder{path: path, file: f, logger: o.logger}
	r.sink = relay.NewAsyncSink(context.Background(), queueSize, r.writeRow, relay.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrCSVWrite)
			o.logger.Error("csv_write_error", "path", path, "error", err)
		},
		OnAfter: func() {
			metrics.IncCSVRow()
			r.rows.Add(1)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCSVOverflow)
			return ErrOverflow
		},
	})
	o.logger.Info("csv_recording", "path", path, "mode", mode.String())
	return r, nil
}

// Path returns the capture file location.
func (r *Recorder) Path() string { return r.path }

// Rows returns how many rows have been written so far.
func (r *Recorder) Rows() uint64 { return r.rows.Load() }

// Record queues one report. Non-measurement reports are ignored.
func (r *Recorder) Record(rep protocol.Report) error {
	switch rep.(type) {
	case protocol.RawReport, protocol.SummaryReport:
		return r.sink.Put(rep)
	default:
		return nil
	}
}

// writeRow runs on the sink goroutine.
func (r *Recorder) writeRow(rep protocol.Report) error {
	_, err := fmt.Fprintln(r.file, rep.String())
	return err
}

// Close drains queued rows and closes the file.
func (r *Recorder) Close() error {
	r.sink.Close()
	err := r.file.Close()
	r.logger.Info("csv_closed", "path", r.path, "rows", r.rows.Load())
	if err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	return nil
}
