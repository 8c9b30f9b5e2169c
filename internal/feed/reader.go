package feed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/hub"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
)

// startReader consumes control lines from a client. Blank lines and
// comments are ignored. The read deadline bounds how long a blocked
// read can outlive a cancelled context.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		br := bufio.NewReader(conn)
		var partial strings.Builder
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			chunk, err := br.ReadString('\n')
			partial.WriteString(chunk)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-ctxDone:
						return
					case <-cl.Closed:
						return
					default:
						continue
					}
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			line := strings.TrimSpace(partial.String())
			partial.Reset()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			metrics.IncFeedControl()
			s.totalControls.Add(1)
			if fields := strings.Fields(line); fields[0] == "subscribe" {
				s.applySubscribe(cl, fields, line, logger)
				continue
			}
			if s.control == nil {
				logger.Debug("control_ignored", "line", line)
				continue
			}
			if err := s.control(line); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrControl, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.totalControlErrors.Add(1)
				logger.Warn("control_error", "line", line, "error", err)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// applySubscribe handles the feed-local subscribe verb. It narrows the
// measurement stream for this client only and never reaches the device;
// the next client keeps its own selection.
func (s *Server) applySubscribe(cl *hub.Client, fields []string, line string, logger *slog.Logger) {
	var (
		sub hub.Subscription
		err error
	)
	if len(fields) != 2 {
		err = errors.New("usage: subscribe raw|summary|all")
	} else {
		sub, err = hub.ParseSubscription(fields[1])
	}
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrControl, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.totalControlErrors.Add(1)
		logger.Warn("control_error", "line", line, "error", err)
		return
	}
	cl.Subscribe(sub)
	logger.Info("feed_subscription", "reports", sub.String())
}
