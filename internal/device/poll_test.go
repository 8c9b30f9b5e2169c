package device

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

func rawFrame(ts uint64, brightness uint16, trigger bool) protocol.Frame {
	var p [14]byte
	binary.LittleEndian.PutUint64(p[0:8], ts)
	binary.LittleEndian.PutUint16(p[8:10], brightness)
	if trigger {
		p[10] = 1
	}
	return protocol.EncodeReport(protocol.ReportRaw, p[:])
}

func summaryFrame(delay uint64, threshold uint16) protocol.Frame {
	var p [14]byte
	binary.LittleEndian.PutUint64(p[0:8], delay)
	binary.LittleEndian.PutUint16(p[8:10], threshold)
	return protocol.EncodeReport(protocol.ReportSummary, p[:])
}

func feed(c *fakeConn, frames ...protocol.Frame) {
	for _, f := range frames {
		c.in.Write(f[:])
	}
}

func TestPollBulk_DrainAndReset(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))
	feed(conn,
		rawFrame(1200, 512, true),
		summaryFrame(35210, 900),
		protocol.EncodeUint16(protocol.SetPollRate, 500),
	)

	if err := s.PollBulk(); err != nil {
		t.Fatalf("PollBulk: %v", err)
	}
	reps := s.TakeReports()
	if len(reps) != 3 {
		t.Fatalf("got %d reports, want 3", len(reps))
	}
	raw, ok := reps[0].(protocol.RawReport)
	if !ok || raw.Timestamp != 1200 || raw.Brightness != 512 || !raw.Trigger {
		t.Fatalf("reports[0] = %#v", reps[0])
	}
	sum, ok := reps[1].(protocol.SummaryReport)
	if !ok || sum.Delay != 35210 || sum.Threshold != 900 {
		t.Fatalf("reports[1] = %#v", reps[1])
	}
	if pr, ok := reps[2].(protocol.PollRateReport); !ok || pr != 500 {
		t.Fatalf("reports[2] = %#v", reps[2])
	}
	if again := s.TakeReports(); again != nil {
		t.Fatalf("second take returned %d reports, want none", len(again))
	}
}

func TestPollBulk_PartialFrameUntouched(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))
	f := rawFrame(42, 7, false)
	conn.in.Write(f[:10])

	if err := s.PollBulk(); err != nil {
		t.Fatalf("PollBulk: %v", err)
	}
	if got := s.TakeReports(); got != nil {
		t.Fatalf("got %d reports from a partial frame", len(got))
	}
	if conn.in.Len() != 10 {
		t.Fatalf("partial frame consumed: %d bytes left, want 10", conn.in.Len())
	}
}

func TestPollBulk_TrailingPartialAfterFull(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))
	feed(conn, summaryFrame(10, 20))
	next := rawFrame(1, 2, false)
	conn.in.Write(next[:5])

	if err := s.PollBulk(); err != nil {
		t.Fatalf("PollBulk: %v", err)
	}
	if got := s.TakeReports(); len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if conn.in.Len() != 5 {
		t.Fatalf("trailing bytes: %d left, want 5", conn.in.Len())
	}
}

func TestPollBulk_ChecksumFlushesInput(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))

	bad := rawFrame(99, 100, false)
	bad[15]++ // corrupt the checksum
	feed(conn, bad, summaryFrame(1, 2))

	before := metrics.Snap()
	if err := s.PollBulk(); err != nil {
		t.Fatalf("PollBulk: %v", err)
	}
	after := metrics.Snap()

	// The flush discards everything buffered, the valid frame included.
	if conn.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", conn.flushes)
	}
	if conn.in.Len() != 0 {
		t.Fatalf("input not flushed: %d bytes left", conn.in.Len())
	}
	if got := s.TakeReports(); got != nil {
		t.Fatalf("got %d reports after corruption", len(got))
	}
	if d := after.ChecksumFailures - before.ChecksumFailures; d != 1 {
		t.Fatalf("ChecksumFailures delta = %d, want 1", d)
	}
	if d := after.InputFlushes - before.InputFlushes; d != 1 {
		t.Fatalf("InputFlushes delta = %d, want 1", d)
	}

	// The stream recovers once clean frames arrive.
	feed(conn, summaryFrame(3, 4))
	if err := s.PollBulk(); err != nil {
		t.Fatalf("PollBulk after resync: %v", err)
	}
	reps := s.TakeReports()
	if len(reps) != 1 {
		t.Fatalf("got %d reports after resync, want 1", len(reps))
	}
	if sum, ok := reps[0].(protocol.SummaryReport); !ok || sum.Delay != 3 || sum.Threshold != 4 {
		t.Fatalf("reports[0] = %#v", reps[0])
	}
}

func TestPollBulk_InvalidCommandStopsBatch(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))

	var junk protocol.Frame
	junk[0] = 0x99
	junk[15] = junk.Checksum()
	feed(conn, rawFrame(5, 6, false), junk, summaryFrame(7, 8))

	err := s.PollBulk()
	var ice *protocol.InvalidCommandError
	if !errors.As(err, &ice) {
		t.Fatalf("got %v, want InvalidCommandError", err)
	}
	if ice.Code != 0x99 {
		t.Fatalf("Code = 0x%02X, want 0x99", ice.Code)
	}
	// The frame before the fault was decoded, the one after stays buffered.
	if got := s.TakeReports(); len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if conn.in.Len() != protocol.FrameSize {
		t.Fatalf("%d bytes left, want %d", conn.in.Len(), protocol.FrameSize)
	}
	if conn.flushes != 0 {
		t.Fatalf("flushes = %d, want 0", conn.flushes)
	}
}

func TestPollBulk_BufferedError(t *testing.T) {
	conn := &fakeConn{buffErr: errors.New("ioctl failed")}
	s := NewSession(conn, WithLogger(testLogger()))
	if err := s.PollBulk(); err == nil {
		t.Fatal("expected error from Buffered")
	}
}

func BenchmarkPollBulk(b *testing.B) {
	conn := &fakeConn{}
	s := NewSession(conn, WithLogger(testLogger()))
	f := rawFrame(123456, 512, false)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		conn.in.Write(f[:])
		if err := s.PollBulk(); err != nil {
			b.Fatal(err)
		}
		s.reports = s.reports[:0]
	}
}
