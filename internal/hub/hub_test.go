package hub

import (
	"testing"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

func sample(ts uint64) protocol.Report {
	return protocol.RawReport{Timestamp: ts, Brightness: 512}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan protocol.Report, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Never read from cl.Out: a stalled client must not stall Broadcast.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(sample(uint64(i)))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
	select {
	case <-cl.Closed:
		t.Fatal("drop policy closed the client")
	default:
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan protocol.Report, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan protocol.Report, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill the slow client's queue.
	h.Broadcast(sample(1))

	// Bursts drop on slow but must still reach fast.
	for i := 0; i < 10; i++ {
		h.Broadcast(sample(uint64(2 + i)))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatal("fast client received nothing while slow was backpressured")
	}
}

func TestHub_Broadcast_KickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan protocol.Report, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(sample(1)) // fills the queue
	h.Broadcast(sample(2)) // overflows it

	select {
	case <-slow.Closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("kick policy did not close the slow client")
	}
}

func TestHub_SubscriptionFiltersMeasurements(t *testing.T) {
	h := New()
	rawOnly := &Client{Out: make(chan protocol.Report, 8), Closed: make(chan struct{})}
	sumOnly := &Client{Out: make(chan protocol.Report, 8), Closed: make(chan struct{})}
	all := &Client{Out: make(chan protocol.Report, 8), Closed: make(chan struct{})}
	rawOnly.Subscribe(SubRaw)
	sumOnly.Subscribe(SubSummary)
	for _, c := range []*Client{rawOnly, sumOnly, all} {
		h.Add(c)
	}
	defer func() {
		for _, c := range []*Client{rawOnly, sumOnly, all} {
			h.Remove(c)
		}
	}()

	h.Broadcast(protocol.RawReport{Timestamp: 1, Brightness: 2})
	h.Broadcast(protocol.SummaryReport{Delay: 3, Threshold: 4})
	h.Broadcast(protocol.ThresholdReport(150))

	wantKinds := func(c *Client, want []string) {
		t.Helper()
		for i, k := range want {
			select {
			case rep := <-c.Out:
				if rep.Kind() != k {
					t.Fatalf("report %d kind %s, want %s", i, rep.Kind(), k)
				}
			default:
				t.Fatalf("missing report %d (%s)", i, k)
			}
		}
		select {
		case rep := <-c.Out:
			t.Fatalf("unexpected extra %s report", rep.Kind())
		default:
		}
	}
	// Settings echoes ignore the subscription; measurements obey it.
	wantKinds(rawOnly, []string{"raw", "threshold"})
	wantKinds(sumOnly, []string{"summary", "threshold"})
	wantKinds(all, []string{"raw", "summary", "threshold"})
}

func TestParseSubscription(t *testing.T) {
	cases := []struct {
		in      string
		want    Subscription
		wantErr bool
	}{
		{"all", SubAll, false},
		{"raw", SubRaw, false},
		{"summary", SubSummary, false},
		{"everything", SubAll, true},
		{"RAW", SubAll, true},
		{"", SubAll, true},
	}
	for _, tc := range cases {
		got, err := ParseSubscription(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSubscription(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSubscription(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSubscription(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Errorf("Subscription(%q).String() = %q", tc.in, got.String())
		}
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan protocol.Report, 1), Closed: make(chan struct{})}
	h.Add(cl)
	if h.Count() != 1 {
		t.Fatalf("Count = %d, want 1", h.Count())
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}
}
