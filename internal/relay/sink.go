// Package relay funnels decoded reports to slow consumers through a
// buffered single-goroutine worker, so the device poll loop never waits
// on disk or network I/O.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// ReportSink is a generic report delivery target.
type ReportSink interface {
	Put(protocol.Report) error
}

// ErrSinkClosed is returned by Put after Close.
var ErrSinkClosed = errors.New("report sink closed")

// Hooks customize AsyncSink behavior.
type Hooks struct {
	// OnError is called when write returns a non-nil error (report not
	// delivered).
	OnError func(error)
	// OnAfter is called after each successful write.
	OnAfter func()
	// OnDrop is called when the queue is full; its error is returned
	// from Put. If nil, the overflow is silent.
	OnDrop func() error
}

// AsyncSink applies write to queued reports from a single goroutine.
// Put never blocks: when the queue is full the report is dropped
// through the OnDrop hook. Close stops accepting reports, lets the
// worker finish the queue, and waits for it.
type AsyncSink struct {
	mu     sync.Mutex
	ch     chan protocol.Report
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	write  func(protocol.Report) error
	hooks  Hooks
	closed atomic.Bool
}

var _ ReportSink = (*AsyncSink)(nil)

// NewAsyncSink starts the worker with a queue of size buf. Cancelling
// parent stops the worker early, after it drains whatever is already
// queued.
func NewAsyncSink(parent context.Context, buf int, write func(protocol.Report) error, hooks Hooks) *AsyncSink {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncSink{
		ch:     make(chan protocol.Report, buf),
		ctx:    ctx,
		cancel: cancel,
		write:  write,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncSink) loop() {
	defer a.wg.Done()
	for {
		select {
		case r, ok := <-a.ch:
			if !ok {
				return
			}
			a.deliver(r)
		case <-a.ctx.Done():
			for {
				select {
				case r, ok := <-a.ch:
					if !ok {
						return
					}
					a.deliver(r)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncSink) deliver(r protocol.Report) {
	if err := a.write(r); err != nil {
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
		return
	}
	if a.hooks.OnAfter != nil {
		a.hooks.OnAfter()
	}
}

// Put queues a report or returns the drop error when the queue is full.
func (a *AsyncSink) Put(r protocol.Report) error {
	if a.closed.Load() {
		return ErrSinkClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrSinkClosed
	}
	select {
	case a.ch <- r:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close rejects further reports, waits for the queue to drain and the
// worker to exit.
func (a *AsyncSink) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
}
