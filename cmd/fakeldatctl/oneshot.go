package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

const oneShotPollEvery = 50 * time.Millisecond

// runOneShot executes get/set/trigger: open the device, send the
// command, poll until its answer arrives or -wait expires.
func runOneShot(name string, args []string) int {
	cfg, rest, err := parseOneShotFlags(name, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}
	op, err := parseDeviceCommand(append([]string{name}, rest...))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	conn, err := openConn(cfg.backend, cfg.device, cfg.baud, l)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open device: %v\n", err)
		return 1
	}
	sess := device.NewSession(conn, device.WithLogger(l))
	defer sess.Close()

	if err := op.run(sess); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", op.text, err)
		return 1
	}
	rep, err := awaitReport(sess, op.echo, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if rep.Kind() == "trigger" {
		fmt.Println("triggered")
	} else {
		fmt.Printf("%s %s\n", rep.Kind(), rep.String())
	}
	return 0
}

// awaitReport polls until a report of the wanted kind shows up.
// Measurement traffic seen meanwhile is printed unless -quiet. Decode
// faults don't abort the wait (the next tick may recover) but the last
// one is named in the timeout error so a desynced stream is diagnosable.
func awaitReport(sess *device.Session, kind string, cfg *oneShotConfig) (protocol.Report, error) {
	deadline := time.Now().Add(cfg.wait)
	t := time.NewTicker(oneShotPollEvery)
	defer t.Stop()
	var lastErr error
	for {
		if err := sess.PollBulk(); err != nil {
			if errors.Is(err, device.ErrPort) {
				return nil, fmt.Errorf("poll device: %w", err)
			}
			lastErr = err
		}
		for _, rep := range sess.TakeReports() {
			if rep.Kind() == kind {
				return rep, nil
			}
			if cfg.quiet {
				continue
			}
			switch rep.(type) {
			case protocol.RawReport, protocol.SummaryReport:
				fmt.Println(rep.String())
			}
		}
		if time.Now().After(deadline) {
			if lastErr != nil {
				return nil, fmt.Errorf("no %s answer within %v (last decode error: %v)", kind, cfg.wait, lastErr)
			}
			return nil, fmt.Errorf("no %s answer within %v", kind, cfg.wait)
		}
		<-t.C
	}
}
