// Package feed serves decoded reports to TCP clients as newline-framed
// text and accepts control lines back. Measurement reports are CSV rows
// in the device's native column order; settings echoes arrive as "#"
// comment lines, which is also how the greeting banner is sent.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/hub"
	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// ControlFunc handles one control line received from a client. Lines
// use the CLI grammar ("set pollrate 500", "trigger", ...). Results
// come back through the broadcast path when the device echoes the
// setting, so ControlFunc has nothing to return but an error.
type ControlFunc func(line string) error

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	mu      sync.RWMutex
	addr    string
	Hub     *hub.Hub
	control ControlFunc

	version       string
	flushInterval time.Duration
	batchSize     int
	readDeadline  time.Duration
	bannerTimeout time.Duration
	maxClients    int
	readyOnce     sync.Once
	readyCh       chan struct{}
	lastErrMu     sync.Mutex
	lastErr       error
	errCh         chan error
	listener      net.Listener
	clientsMu     sync.RWMutex
	clients       map[*hub.Client]net.Conn
	wg            sync.WaitGroup
	logger        *slog.Logger
	nextConnID    uint64

	totalAccepted      atomic.Uint64
	totalConnected     atomic.Uint64
	totalDisconnected  atomic.Uint64
	totalRejected      atomic.Uint64
	totalControls      atomic.Uint64
	totalControlErrors atomic.Uint64
}

const (
	defaultFlushInterval = 5 * time.Millisecond
	defaultBatchSize     = 64
	defaultReadDeadline  = 60 * time.Second
	defaultBannerTimeout = 3 * time.Second
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		version:       "dev",
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		readDeadline:  defaultReadDeadline,
		bannerTimeout: defaultBannerTimeout,
		readyCh:       make(chan struct{}),
		errCh:         make(chan error, 1),
		clients:       make(map[*hub.Client]net.Conn),
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption    { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption        { return func(s *Server) { s.Hub = hb } }
func WithControl(fn ControlFunc) ServerOption { return func(s *Server) { s.control = fn } }
func WithVersion(v string) ServerOption       { return func(s *Server) { s.version = v } }

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithBannerTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.bannerTimeout = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients and spawns reader/writer goroutines.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("feed_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, sends the banner, registers
// the client and spawns IO goroutines. Returns nil on success; a
// wrapped error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	if err := s.sendBanner(conn); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrBanner, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		connLogger.Warn("banner_failed", "error", wrap)
		_ = conn.Close()
		return nil
	}
	client := s.newClient()
	s.clientsMu.Lock()
	s.clients[client] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected")
	s.startWriter(ctx.Done(), conn, client, connLogger)
	s.startReader(ctx.Done(), conn, client, connLogger)
	return nil
}

// sendBanner greets the client with a comment line so stream parsers
// can skip it.
func (s *Server) sendBanner(conn net.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.bannerTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	_, err := fmt.Fprintf(conn, "# fakeldat-feed %s\n", s.version)
	return err
}

// newClient allocates a hub client with buffer size derived from hub config.
func (s *Server) newClient() *hub.Client {
	bufSize := 512
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	cl := &hub.Client{Out: make(chan protocol.Report, bufSize), Closed: make(chan struct{})}
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	return cl
}

// Shutdown gracefully closes all resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		if s.Hub != nil {
			s.Hub.Remove(cl)
		}
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"rejected", s.totalRejected.Load(),
			"controls", s.totalControls.Load(),
			"control_errors", s.totalControlErrors.Load())
		return nil
	}
}
