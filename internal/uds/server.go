package uds

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
)

const (
	defaultConnTimeout = 30 * time.Second
	codeOK             = "OK"
)

// HandlerFunc serves one command. ctx is cancelled when the server stops or
// the connection deadline passes.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Server answers control commands from the dialer CLI, one request and one
// response per connection.
type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	mu          sync.RWMutex
	connTimeout atomic.Int64
	log         *logging.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewServer(socketPath string, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		log:        log.For("uds"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.connTimeout.Store(int64(defaultConnTimeout))
	return s
}

// SetConnTimeout bounds how long one connection may take from accept to
// response. It applies to connections accepted after the call.
func (s *Server) SetConnTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultConnTimeout
	}
	s.connTimeout.Store(int64(d))
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Commands lists the registered command names in order.
func (s *Server) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Server) Start() error {
	// stale socket from a crashed daemon; the file lock already proved we are alone
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening on %s commands=%s", s.socketPath, strings.Join(s.Commands(), ","))
	return nil
}

func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(time.Duration(s.connTimeout.Load()))
	_ = conn.SetDeadline(deadline)

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.log.Debug("read request: %v", err)
		return
	}

	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()

	start := time.Now()
	resp := s.dispatch(ctx, &req)
	s.record(&req, resp, time.Since(start))

	if err := WriteFrame(conn, resp); err != nil {
		s.log.Warn("write %s response: %v", req.Command, err)
	}
}

// dispatch runs the handler for req. A panicking handler answers with
// INTERNAL_ERROR instead of dropping the connection.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(
			ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q (known: %s)", req.Command, strings.Join(s.Commands(), ", ")),
		)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in %s handler: %v\n%s", req.Command, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("%s handler failed", req.Command))
		}
	}()
	resp = handler(ctx, req)
	if resp == nil {
		resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("%s handler returned no response", req.Command))
	}
	return resp
}

func (s *Server) record(req *Request, resp *Response, took time.Duration) {
	code := codeOK
	if !resp.Success && resp.Error != nil {
		code = resp.Error.Code
	}
	// Unknown names are folded so a misbehaving client cannot grow the label set.
	label := req.Command
	if code == ErrCodeUnknownCommand || code == ErrCodeProtocolMismatch {
		label = "invalid"
	}
	metrics.ControlCommands.WithLabelValues(label, code).Inc()
	metrics.ControlCommandSeconds.WithLabelValues(label).Observe(took.Seconds())

	if code == codeOK {
		s.log.Debug("command=%s ok took=%s", req.Command, took)
		return
	}
	s.log.Info("command=%s code=%s took=%s: %s", req.Command, code, took, resp.Error.Message)
}
