package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/csvlog"
	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/feed"
	"github.com/fakeldat/go-fakeldat/internal/hub"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

const ctrlQueueSize = 64

// daemon is the stream mode state. Everything device-facing runs on the
// poll loop goroutine; session calls are never concurrent.
type daemon struct {
	cfg    *streamConfig
	hub    *hub.Hub
	logger *slog.Logger
	sess   *device.Session
	rec    *csvlog.Recorder
	up     atomic.Bool
}

func runStream(args []string) int {
	cfg, err := parseStreamFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	d := &daemon{cfg: cfg, hub: h, logger: l}
	if err := d.open(); err != nil {
		l.Error("device_open_error", "error", err)
		return 1
	}

	ctrlCh := make(chan deviceOp, ctrlQueueSize)
	var feedSrv *feed.Server
	if cfg.listenAddr != "" {
		feedSrv = feed.NewServer(
			feed.WithHub(h),
			feed.WithListenAddr(cfg.listenAddr),
			feed.WithControl(controlFunc(ctrlCh)),
			feed.WithVersion(version),
			feed.WithMaxClients(cfg.maxClients),
			feed.WithReadDeadline(cfg.clientReadTO),
			feed.WithBannerTimeout(cfg.bannerTO),
			feed.WithLogger(l),
		)
		go func() {
			if err := feedSrv.Serve(ctx); err != nil {
				l.Error("feed_server_error", "error", err)
				cancel()
			}
		}()

		// Start mDNS advertisement once the listener is ready.
		go func() {
			select {
			case <-feedSrv.Ready():
			case <-ctx.Done():
				return
			}
			// Extract port from bound address (host:port or :port)
			addr := feedSrv.Addr()
			var portNum int
			if _, p, err := net.SplitHostPort(addr); err == nil {
				if pn, perr := strconv.Atoi(p); perr == nil {
					portNum = pn
				}
			}
			if portNum == 0 { // fallback attempt if format unexpected
				lastColon := strings.LastIndex(addr, ":")
				if lastColon >= 0 {
					if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
						portNum = pn
					}
				}
			}
			cleanupMDNS, err := startMDNS(cfg, portNum, l)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	// Ready when the device is open, the feed (if any) is bound and the
	// context is not cancelled.
	metrics.SetReadinessFunc(func() bool {
		if !d.up.Load() {
			return false
		}
		if feedSrv != nil {
			select {
			case <-feedSrv.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	d.requestSettings()
	d.loop(ctx, ctrlCh)

	if feedSrv != nil {
		shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = feedSrv.Shutdown(shCtx)
		shCancel()
	}
	d.close()
	wg.Wait()
	return 0
}

// controlFunc parses feed control lines with the shared command grammar,
// on the reader goroutine, and hands them to the poll loop. Subscribe
// lines never get here; the feed applies them per client. Parse failures
// surface to the feed reader, which logs them and keeps the connection;
// a full queue is reported the same way.
func controlFunc(ctrlCh chan<- deviceOp) feed.ControlFunc {
	return func(line string) error {
		op, err := parseDeviceCommand(strings.Fields(line))
		if err != nil {
			return err
		}
		select {
		case ctrlCh <- op:
			return nil
		default:
			return errors.New("control queue full")
		}
	}
}

func (d *daemon) open() error {
	conn, err := openConn(d.cfg.backend, d.cfg.device, d.cfg.baud, d.logger)
	if err != nil {
		return err
	}
	d.sess = device.NewSession(conn, device.WithLogger(d.logger))
	d.up.Store(true)
	d.logger.Info("device_open", "backend", d.cfg.backend, "device", d.cfg.device, "baud", d.cfg.baud)
	return nil
}

func (d *daemon) close() {
	if d.sess != nil {
		if err := d.sess.Close(); err != nil {
			d.logger.Warn("device_close_error", "error", err)
		}
		d.sess = nil
	}
	d.up.Store(false)
	if d.rec != nil {
		if err := d.rec.Close(); err != nil {
			d.logger.Warn("csv_close_error", "error", err)
		}
		d.rec = nil
	}
}

// requestSettings asks the device for all four settings so gauges and
// feed clients see its state right after open.
func (d *daemon) requestSettings() {
	for _, req := range []func() error{
		d.sess.RequestPollRate,
		d.sess.RequestReportMode,
		d.sess.RequestThreshold,
		d.sess.RequestAction,
	} {
		if err := req(); err != nil {
			d.logger.Warn("settings_request_error", "error", err)
			return
		}
	}
}

// loop polls the device on the tick, applies queued control lines and
// fans the decoded reports out. It returns when the context ends or a
// lost device cannot be reopened before shutdown.
func (d *daemon) loop(ctx context.Context, ctrlCh <-chan deviceOp) {
	t := time.NewTicker(d.cfg.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-ctrlCh:
			d.apply(op)
		case <-t.C:
			err := d.sess.PollBulk()
			d.dispatch(d.sess.TakeReports())
			if err == nil {
				continue
			}
			if errors.Is(err, device.ErrPort) {
				d.logger.Error("device_lost", "error", err)
				if !d.reopen(ctx) {
					return
				}
				continue
			}
			d.logger.Warn("poll_error", "error", err)
		}
	}
}

func (d *daemon) apply(op deviceOp) {
	if err := op.run(d.sess); err != nil {
		metrics.IncError(metrics.ErrControl)
		d.logger.Warn("control_apply_error", "command", op.text, "error", err)
		return
	}
	d.logger.Debug("control_applied", "command", op.text)
}

// dispatch routes one poll's worth of reports: measurements go to the
// feed (the hub applies each client's subscription) and the CSV file,
// settings echoes prime the gauges and reach the feed as comment lines.
func (d *daemon) dispatch(reports []protocol.Report) {
	for _, rep := range reports {
		switch r := rep.(type) {
		case protocol.RawReport, protocol.SummaryReport:
			d.hub.Broadcast(rep)
			d.record(rep)
		case protocol.PollRateReport:
			metrics.SetPollRate(uint16(r))
			d.hub.Broadcast(rep)
			d.logger.Info("device_pollrate", "hz", uint16(r))
		case protocol.ThresholdReport:
			metrics.SetThreshold(int16(r))
			d.hub.Broadcast(rep)
			d.logger.Info("device_threshold", "level", int16(r))
		case protocol.ModeReport:
			d.ensureRecorder(protocol.ReportMode(r))
			d.hub.Broadcast(rep)
			d.logger.Info("device_mode", "mode", rep.String())
		case protocol.ActionReport:
			d.hub.Broadcast(rep)
			d.logger.Info("device_action", "action", rep.String())
		case protocol.TriggerReport:
			d.hub.Broadcast(rep)
			d.logger.Info("device_trigger")
		}
	}
}

func (d *daemon) record(rep protocol.Report) {
	if d.rec == nil {
		return
	}
	// Overflow is already counted by the recorder; anything else here
	// means the sink is gone.
	if err := d.rec.Record(rep); err != nil && !errors.Is(err, csvlog.ErrOverflow) {
		d.logger.Warn("csv_record_error", "error", err)
	}
}

// ensureRecorder opens the capture file once the device's mode is known;
// the filename carries the mode the way the desktop capture names its
// exports.
func (d *daemon) ensureRecorder(mode protocol.ReportMode) {
	if d.rec != nil || d.cfg.csvDir == "" {
		return
	}
	rec, err := csvlog.New(d.cfg.csvDir, mode, csvlog.WithLogger(d.logger))
	if err != nil {
		d.logger.Error("csv_open_error", "dir", d.cfg.csvDir, "error", err)
		d.cfg.csvDir = "" // don't retry on every mode echo
		return
	}
	d.rec = rec
}

// reopen closes the lost device and retries the open with a doubling
// backoff until it succeeds or the context ends. Settings are requested
// again after a successful reopen.
func (d *daemon) reopen(ctx context.Context) bool {
	if d.sess != nil {
		_ = d.sess.Close()
		d.sess = nil
	}
	d.up.Store(false)
	backoff := reopenBackoffMin
	for {
		if ctx.Err() != nil {
			return false
		}
		sleepFn(backoff)
		err := d.open()
		if err == nil {
			metrics.IncReopen()
			d.requestSettings()
			return true
		}
		d.logger.Warn("device_reopen_error", "error", err, "backoff", backoff)
		backoff *= 2
		if backoff > reopenBackoffMax {
			backoff = reopenBackoffMax
		}
	}
}
