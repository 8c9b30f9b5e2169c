// Package sim implements an in-process stand-in for the USB device. It
// honors the same command set, echoes settings, and synthesizes sensor
// samples at the configured poll rate, which makes the stream daemon
// runnable on hosts with no hardware attached.
package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

const (
	// Power-on defaults, matching the firmware.
	defaultPollRate  = 2000
	defaultThreshold = 150

	// baseLevel and flashLevel bracket the synthetic light sensor.
	baseLevel  = 400
	flashLevel = 900
	noiseSpan  = 21 // +/-10 around the level

	flashDuration = 50 * time.Millisecond

	// maxBacklog caps how many samples a long gap between reads may
	// produce at once.
	maxBacklog = 2048
)

// Device is a simulated peripheral satisfying device.Conn. Reads are
// non-blocking: samples accumulate with the passage of the configured
// clock, not in real time, so tests can drive it deterministically.
type Device struct {
	mu     sync.Mutex
	clock  func() time.Time
	start  time.Time
	last   time.Time
	rng    *rand.Rand
	logger *slog.Logger
	closed bool

	in  []byte
	out bytes.Buffer

	pollRate  uint16
	mode      protocol.ReportMode
	threshold int16
	action    protocol.ActionMode

	flashUntil     time.Time
	pendingTrigger bool
}

var _ device.Conn = (*Device)(nil)

// Option configures New.
type Option func(*Device)

// WithClock substitutes the time source.
func WithClock(fn func() time.Time) Option {
	return func(d *Device) {
		if fn != nil {
			d.clock = fn
		}
	}
}

// WithSeed fixes the noise generator.
func WithSeed(seed int64) Option {
	return func(d *Device) { d.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New returns a powered-on simulated device with firmware defaults.
func New(opts ...Option) *Device {
	d := &Device{
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(1)),
		logger:    logging.L(),
		pollRate:  defaultPollRate,
		mode:      protocol.ModeRaw,
		threshold: defaultThreshold,
		action:    protocol.MouseAction(protocol.MouseLeft),
	}
	for _, o := range opts {
		o(d)
	}
	d.start = d.clock()
	d.last = d.start
	return d
}

// Write consumes command frames. Malformed frames are dropped the way
// the firmware drops them, without failing the write.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("%w: sim closed", device.ErrPort)
	}
	d.in = append(d.in, p...)
	for len(d.in) >= protocol.FrameSize {
		var f protocol.Frame
		copy(f[:], d.in[:protocol.FrameSize])
		d.in = d.in[protocol.FrameSize:]
		d.handle(&f)
	}
	return len(p), nil
}

func (d *Device) handle(f *protocol.Frame) {
	cmd, payload, err := f.Parse()
	if err != nil {
		d.logger.Debug("sim_bad_frame", "error", err)
		return
	}
	switch cmd {
	case protocol.SetPollRate:
		v := binary.LittleEndian.Uint16(payload[0:2])
		if v == 0 {
			d.logger.Debug("sim_reject_pollrate_zero")
			return
		}
		d.pollRate = v
		d.echo(cmd, payload[0], payload[1])
	case protocol.SetReportMode:
		if payload[0] > byte(protocol.ModeCombined) {
			d.logger.Debug("sim_reject_mode", "value", payload[0])
			return
		}
		d.mode = protocol.ReportMode(payload[0])
		d.echo(cmd, payload[0], 0)
	case protocol.SetThreshold:
		d.threshold = int16(binary.LittleEndian.Uint16(payload[0:2]))
		d.echo(cmd, payload[0], payload[1])
	case protocol.SetAction:
		a, ok := actionFromWire(payload[0], payload[1])
		if !ok {
			d.logger.Debug("sim_reject_action", "selector", payload[0], "key", payload[1])
			return
		}
		d.action = a
		d.echo(cmd, payload[0], payload[1])
	case protocol.GetPollRate:
		d.echo(cmd, byte(d.pollRate), byte(d.pollRate>>8))
	case protocol.GetReportMode:
		d.echo(cmd, byte(d.mode), 0)
	case protocol.GetThreshold:
		v := uint16(d.threshold)
		d.echo(cmd, byte(v), byte(v>>8))
	case protocol.GetAction:
		af := protocol.EncodeAction(protocol.GetAction, d.action)
		d.out.Write(af[:])
	case protocol.ManualTrigger:
		d.echo(cmd, 0, 0)
		d.trigger()
	default:
		d.logger.Debug("sim_unhandled_command", "command", cmd.String())
	}
}

func actionFromWire(selector, key byte) (protocol.ActionMode, bool) {
	switch protocol.ActionKind(selector) {
	case protocol.ActionMouse:
		b := protocol.MouseButton(key)
		if b != protocol.MouseLeft && b != protocol.MouseRight && b != protocol.MouseMiddle {
			return protocol.ActionMode{}, false
		}
		return protocol.MouseAction(b), true
	case protocol.ActionKeyboard:
		if key < 'a' || key > 'z' {
			return protocol.ActionMode{}, false
		}
		return protocol.KeyboardAction(protocol.KeyboardKey(key)), true
	default:
		return protocol.ActionMode{}, false
	}
}

func (d *Device) echo(cmd protocol.Command, a0, a1 byte) {
	f := protocol.Encode(cmd, a0, a1)
	d.out.Write(f[:])
}

// trigger simulates the actuator firing: the next raw sample carries
// the trigger flag and the light flashes for a short window. Summary
// modes also get a device-computed result.
func (d *Device) trigger() {
	now := d.clock()
	d.pendingTrigger = true
	d.flashUntil = now.Add(flashDuration)
	if d.mode != protocol.ModeRaw {
		delay := uint64(15000 + d.rng.Intn(25000)) // micros
		var p [14]byte
		binary.LittleEndian.PutUint64(p[0:8], delay)
		binary.LittleEndian.PutUint16(p[8:10], uint16(d.threshold))
		f := protocol.EncodeReport(protocol.ReportSummary, p[:])
		d.out.Write(f[:])
	}
}

// generate appends raw sample frames for the virtual time elapsed since
// the last call.
func (d *Device) generate() {
	period := time.Second / time.Duration(d.pollRate)
	now := d.clock()
	n := int(now.Sub(d.last) / period)
	if n <= 0 {
		return
	}
	if n > maxBacklog {
		d.last = now.Add(-time.Duration(maxBacklog) * period)
		n = maxBacklog
	}
	if d.mode == protocol.ModeSummary {
		// No periodic rows in summary mode; just advance the clock.
		d.last = d.last.Add(time.Duration(n) * period)
		return
	}
	for i := 0; i < n; i++ {
		d.last = d.last.Add(period)
		level := baseLevel
		if d.last.Before(d.flashUntil) {
			level = flashLevel
		}
		brightness := uint16(level + d.rng.Intn(noiseSpan) - noiseSpan/2)
		ts := uint64(d.last.Sub(d.start) / time.Microsecond)

		var p [14]byte
		binary.LittleEndian.PutUint64(p[0:8], ts)
		binary.LittleEndian.PutUint16(p[8:10], brightness)
		if d.pendingTrigger {
			p[10] = 1
			d.pendingTrigger = false
		}
		f := protocol.EncodeReport(protocol.ReportRaw, p[:])
		d.out.Write(f[:])
	}
}

// Buffered reports pending bytes after synthesizing samples for the
// elapsed virtual time.
func (d *Device) Buffered() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("%w: sim closed", device.ErrPort)
	}
	d.generate()
	return d.out.Len(), nil
}

// Read drains pending frames; it never blocks.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("%w: sim closed", device.ErrPort)
	}
	d.generate()
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(p)
}

// ResetInput drops everything the device has queued for the host.
func (d *Device) ResetInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Reset()
	return nil
}

// Close powers the simulated device off.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
