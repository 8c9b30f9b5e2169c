package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/hub"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// startWriter launches the goroutine pushing hub reports to a single
// client connection. Reports are rendered to lines and flushed when the
// batch fills or the flush ticker fires.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]protocol.Report, 0, s.batchSize)
		var out bytes.Buffer
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			out.Reset()
			for _, r := range batch {
				out.WriteString(lineFor(r))
				out.WriteByte('\n')
			}
			batch = batch[:0]
			if _, err := conn.Write(out.Bytes()); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.AddFeedTx(n)
			return nil
		}
		for {
			select {
			case r := <-cl.Out:
				batch = append(batch, r)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
