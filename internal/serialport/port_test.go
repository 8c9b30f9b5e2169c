package serialport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// fakeDriver scripts the underlying serial.Port: each Read call hands
// out the next chunk, then readErr (or nothing) once the script runs dry.
type fakeDriver struct {
	reads    [][]byte
	idx      int
	readErr  error
	wrote    bytes.Buffer
	writeErr error
	dtr      bool
	dtrErr   error
	timeout  time.Duration
	flushes  int
	closed   bool
}

var _ serial.Port = (*fakeDriver)(nil)

func (f *fakeDriver) Read(p []byte) (int, error) {
	if f.idx >= len(f.reads) {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, nil
	}
	chunk := f.reads[f.idx]
	f.idx++
	return copy(p, chunk), nil
}

func (f *fakeDriver) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.wrote.Write(p)
}

func (f *fakeDriver) SetMode(*serial.Mode) error           { return nil }
func (f *fakeDriver) Drain() error                         { return nil }
func (f *fakeDriver) ResetInputBuffer() error              { f.flushes++; return nil }
func (f *fakeDriver) ResetOutputBuffer() error             { return nil }
func (f *fakeDriver) SetDTR(dtr bool) error                { f.dtr = dtr; return f.dtrErr }
func (f *fakeDriver) SetRTS(bool) error                    { return nil }
func (f *fakeDriver) SetReadTimeout(t time.Duration) error { f.timeout = t; return nil }
func (f *fakeDriver) Break(time.Duration) error            { return nil }
func (f *fakeDriver) Close() error                         { f.closed = true; return nil }

func (f *fakeDriver) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stubOpen(t *testing.T, fk *fakeDriver, wantPath string, openErr error) *serial.Mode {
	t.Helper()
	var captured serial.Mode
	openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
		if path != wantPath {
			t.Errorf("opened %q, want %q", path, wantPath)
		}
		captured = *mode
		if openErr != nil {
			return nil, openErr
		}
		return fk, nil
	}
	t.Cleanup(func() { openPort = serial.Open })
	return &captured
}

func TestOpen_ConfiguresPort(t *testing.T) {
	fk := &fakeDriver{}
	mode := stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pt.Close()

	if mode.BaudRate != DefaultBaud || mode.DataBits != 8 ||
		mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Fatalf("mode = %+v", *mode)
	}
	if !fk.dtr {
		t.Fatal("DTR not asserted")
	}
	if fk.timeout != 0 {
		t.Fatalf("read timeout = %v, want 0", fk.timeout)
	}

	f := protocol.EncodeUint16(protocol.SetPollRate, 2000)
	if _, err := pt.Write(f[:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(fk.wrote.Bytes(), f[:]) {
		t.Fatalf("wrote % X, want % X", fk.wrote.Bytes(), f[:])
	}
}

func TestOpen_Failure(t *testing.T) {
	stubOpen(t, nil, "/dev/ttyACM9", errors.New("no such device"))
	_, err := Open("/dev/ttyACM9", WithLogger(testLogger()))
	if !errors.Is(err, device.ErrPort) {
		t.Fatalf("got %v, want ErrPort", err)
	}
}

func TestOpen_DTRFailureClosesPort(t *testing.T) {
	fk := &fakeDriver{dtrErr: errors.New("ioctl")}
	stubOpen(t, fk, "/dev/ttyACM0", nil)
	_, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if !errors.Is(err, device.ErrPort) {
		t.Fatalf("got %v, want ErrPort", err)
	}
	if !fk.closed {
		t.Fatal("port left open after failed setup")
	}
}

func TestBuffered_AccumulatesAcrossCalls(t *testing.T) {
	f := protocol.EncodeUint16(protocol.SetPollRate, 500)
	fk := &fakeDriver{reads: [][]byte{f[:8], f[8:]}}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, err := pt.Buffered(); err != nil || n != 8 {
		t.Fatalf("first Buffered = %d, %v; want 8, nil", n, err)
	}
	if n, err := pt.Buffered(); err != nil || n != 16 {
		t.Fatalf("second Buffered = %d, %v; want 16, nil", n, err)
	}

	got := make([]byte, protocol.FrameSize)
	if _, err := io.ReadFull(pt, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, f[:]) {
		t.Fatalf("read % X, want % X", got, f[:])
	}
}

func TestBuffered_DrainsFullChunks(t *testing.T) {
	big := make([]byte, readChunkSize)
	tail := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	fk := &fakeDriver{reads: [][]byte{big, tail}}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := pt.Buffered()
	if err != nil {
		t.Fatalf("Buffered: %v", err)
	}
	if want := readChunkSize + len(tail); n != want {
		t.Fatalf("Buffered = %d, want %d", n, want)
	}
}

func TestRead_PassThroughWhenNothingStaged(t *testing.T) {
	fk := &fakeDriver{reads: [][]byte{{0x01, 0x02}}}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := make([]byte, 8)
	n, err := pt.Read(p)
	if err != nil || n != 2 {
		t.Fatalf("Read = %d, %v; want 2, nil", n, err)
	}
	// Script exhausted: the non-blocking driver yields nothing.
	n, err = pt.Read(p)
	if err != nil || n != 0 {
		t.Fatalf("Read = %d, %v; want 0, nil", n, err)
	}
}

func TestResetInput_DropsStagedAndDriverBytes(t *testing.T) {
	fk := &fakeDriver{reads: [][]byte{{1, 2, 3, 4, 5}}}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, _ := pt.Buffered(); n != 5 {
		t.Fatalf("Buffered = %d, want 5", n)
	}
	if err := pt.ResetInput(); err != nil {
		t.Fatalf("ResetInput: %v", err)
	}
	if fk.flushes != 1 {
		t.Fatalf("driver flushes = %d, want 1", fk.flushes)
	}
	if n, _ := pt.Buffered(); n != 0 {
		t.Fatalf("Buffered after flush = %d, want 0", n)
	}
}

func TestBuffered_ReadErrorWrapsErrPort(t *testing.T) {
	fk := &fakeDriver{readErr: errors.New("device reports readiness to read but returned no data")}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	before := metrics.Snap().Errors
	_, err = pt.Buffered()
	if !errors.Is(err, device.ErrPort) {
		t.Fatalf("got %v, want ErrPort", err)
	}
	if d := metrics.Snap().Errors - before; d != 1 {
		t.Fatalf("Errors delta = %d, want 1", d)
	}
}

func TestWrite_ErrorWrapsErrPort(t *testing.T) {
	fk := &fakeDriver{writeErr: errors.New("input/output error")}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = pt.Write([]byte{0x1F})
	if !errors.Is(err, device.ErrPort) {
		t.Fatalf("got %v, want ErrPort", err)
	}
}

func TestRead_ReclaimsOversizedStaging(t *testing.T) {
	var chunks [][]byte
	total := 0
	for total <= stagingReclaimBytes {
		chunks = append(chunks, make([]byte, readChunkSize))
		total += readChunkSize
	}
	chunks = append(chunks, []byte{0x42})
	fk := &fakeDriver{reads: chunks}
	stubOpen(t, fk, "/dev/ttyACM0", nil)

	pt, err := Open("/dev/ttyACM0", WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := pt.Buffered()
	if err != nil {
		t.Fatalf("Buffered: %v", err)
	}
	if n <= stagingReclaimBytes {
		t.Fatalf("staged %d bytes, want more than %d", n, stagingReclaimBytes)
	}
	if _, err := io.ReadFull(pt, make([]byte, n)); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if pt.staged.Cap() != 0 {
		t.Fatalf("staging buffer kept %d bytes after drain", pt.staged.Cap())
	}
}

func TestListPorts_Sorted(t *testing.T) {
	listPorts = func() ([]string, error) {
		return []string{"/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyS4"}, nil
	}
	t.Cleanup(func() { listPorts = serial.GetPortsList })

	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	want := []string{"/dev/ttyACM0", "/dev/ttyS4", "/dev/ttyUSB1"}
	if len(ports) != len(want) {
		t.Fatalf("got %d ports, want %d", len(ports), len(want))
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Fatalf("ports[%d] = %q, want %q", i, ports[i], want[i])
		}
	}
}
