// Package analyze derives button-to-photon latency from a raw report
// stream. It watches for the button edge, then for the brightness
// crossing a rolling-mean threshold, and prints the distance between
// the two timestamps.
package analyze

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Defaults match the desktop analyzer: a 150-sample rolling mean with a
// fixed offset above it.
const (
	windowSize      = 150
	thresholdOffset = 150
)

// Analyzer consumes feed lines. Raw rows ("time,brightness,button")
// drive edge detection; summary rows pass through as device-internal
// results. Comment lines and anything unparsable are skipped.
type Analyzer struct {
	out    io.Writer
	offset int

	window []int
	count  int
	idx    int
	sum    int

	lastPressed bool
	pressAt     uint64
	havePress   bool
}

type Option func(*Analyzer)

// WithWindow overrides how many brightness samples the rolling mean
// spans.
func WithWindow(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.window = make([]int, n)
		}
	}
}

// WithOffset overrides how far above the rolling mean a sample must
// rise to count as the flash.
func WithOffset(n int) Option {
	return func(a *Analyzer) { a.offset = n }
}

// New returns an Analyzer writing results to out.
func New(out io.Writer, opts ...Option) *Analyzer {
	a := &Analyzer{out: out, offset: thresholdOffset, window: make([]int, windowSize)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run feeds every line from r until EOF or context cancellation.
func (a *Analyzer) Run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.Feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Feed processes a single line.
func (a *Analyzer) Feed(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	fields := strings.Split(line, ",")
	switch len(fields) {
	case 3:
		ts, err1 := strconv.ParseUint(fields[0], 10, 64)
		brightness, err2 := strconv.Atoi(fields[1])
		button, err3 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		a.sample(ts, brightness, button == 1)
	case 2:
		// Device-computed result from a summary row.
		fmt.Fprintf(a.out, "Internal Delay: %s Threshold: %s\n", fields[0], fields[1])
	default:
		// The firmware's native text mode prints "delay threshold".
		sp := strings.Fields(line)
		if len(sp) == 2 {
			fmt.Fprintf(a.out, "Internal Delay: %s Threshold: %s\n", sp[0], sp[1])
		}
	}
}

func (a *Analyzer) sample(ts uint64, brightness int, pressed bool) {
	a.push(brightness)

	if pressed != a.lastPressed {
		if pressed {
			a.pressAt = ts
			a.havePress = true
		}
		a.lastPressed = pressed
	}

	thr := a.threshold()
	if brightness > thr && a.havePress {
		fmt.Fprintf(a.out, "Delay: %d Threshold: %d\n", ts-a.pressAt, thr)
		a.havePress = false
	}
}

func (a *Analyzer) push(v int) {
	if a.count < len(a.window) {
		a.window[a.count] = v
		a.count++
		a.sum += v
		return
	}
	a.sum -= a.window[a.idx]
	a.window[a.idx] = v
	a.sum += v
	a.idx = (a.idx + 1) % len(a.window)
}

func (a *Analyzer) threshold() int {
	return a.sum/a.count + a.offset
}
