package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/serialport"
	"github.com/fakeldat/go-fakeldat/internal/sim"
)

const (
	reopenBackoffMin = 20 * time.Millisecond
	reopenBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialConn is a hook for tests (overridden in unit tests).
var openSerialConn = func(path string, baud int, l *slog.Logger) (device.Conn, error) {
	return serialport.Open(path, serialport.WithBaud(baud), serialport.WithLogger(l))
}

// openConn opens the selected device backend.
func openConn(backend, path string, baud int, l *slog.Logger) (device.Conn, error) {
	switch backend {
	case "serial":
		return openSerialConn(path, baud, l)
	case "sim":
		return sim.New(sim.WithLogger(l)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|sim)", backend)
	}
}
