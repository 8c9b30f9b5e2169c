package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

var (
	errOverflow  = errors.New("overflow")
	errWriteFail = errors.New("write fail")
)

func report(ts uint64) protocol.Report {
	return protocol.RawReport{Timestamp: ts}
}

func TestAsyncSink_DeliversAndFiresHooks(t *testing.T) {
	var wrote atomic.Int64
	var after atomic.Int64
	s := NewAsyncSink(context.Background(), 4, func(protocol.Report) error {
		wrote.Add(1)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.Put(report(uint64(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && wrote.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if wrote.Load() != 3 || after.Load() != 3 {
		t.Fatalf("wrote=%d after=%d, want 3 and 3", wrote.Load(), after.Load())
	}
}

func TestAsyncSink_OverflowInvokesOnDrop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	block := make(chan struct{})
	s := NewAsyncSink(ctx, 1, func(protocol.Report) error {
		<-block
		return nil
	}, Hooks{OnDrop: func() error { drops.Add(1); return errOverflow }})
	defer func() { close(block); s.Close() }()

	// First report occupies the worker, second fills the queue.
	if err := s.Put(report(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// The worker may or may not have picked up the first report yet, so
	// push until the queue rejects.
	overflowed := false
	for i := 0; i < 3; i++ {
		if err := s.Put(report(2)); errors.Is(err, errOverflow) {
			overflowed = true
			break
		}
	}
	if !overflowed {
		t.Fatal("queue never overflowed")
	}
	if drops.Load() == 0 {
		t.Fatal("OnDrop not invoked")
	}
}

func TestAsyncSink_WriteErrorInvokesOnError(t *testing.T) {
	var errs atomic.Int64
	s := NewAsyncSink(context.Background(), 2, func(protocol.Report) error {
		return errWriteFail
	}, Hooks{OnError: func(error) { errs.Add(1) }})
	defer s.Close()

	_ = s.Put(report(1))
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && errs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if errs.Load() == 0 {
		t.Fatal("OnError not invoked")
	}
}

func TestAsyncSink_CloseDrainsQueue(t *testing.T) {
	var wrote atomic.Int64
	s := NewAsyncSink(context.Background(), 8, func(protocol.Report) error {
		time.Sleep(5 * time.Millisecond)
		wrote.Add(1)
		return nil
	}, Hooks{})
	for i := 0; i < 5; i++ {
		if err := s.Put(report(uint64(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	s.Close()
	if wrote.Load() != 5 {
		t.Fatalf("Close returned with %d of 5 reports written", wrote.Load())
	}
}

func TestAsyncSink_PutAfterClose(t *testing.T) {
	s := NewAsyncSink(context.Background(), 2, func(protocol.Report) error { return nil }, Hooks{})
	s.Close()
	if err := s.Put(report(1)); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("got %v, want ErrSinkClosed", err)
	}
}

func TestAsyncSink_CloseConcurrentPut(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := NewAsyncSink(context.Background(), 1, func(protocol.Report) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() {
			done <- s.Put(report(1))
		}()
		time.Sleep(time.Millisecond)
		s.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrSinkClosed) {
			t.Fatalf("iteration %d: unexpected Put error %v", i, err)
		}
	}
}
