// Package server implements an in-memory grid node that speaks the thin client
// protocol. It backs the client's tests and the gridnode binary.
//
// Request processing pipeline:
//
//	Accept conn → handshake → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Middleware Chain → dispatch (opcode handler table) → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gridclient/codec"
	"gridclient/message"
	"gridclient/middleware"
	"gridclient/protocol"
	"gridclient/registry"
)

// Server is an in-memory grid node.
type Server struct {
	opts        options
	store       *store
	listener    net.Listener
	wg          sync.WaitGroup // in-flight requests, waited for on shutdown
	shutdown    atomic.Bool    // set before the listener closes so Accept errors read as intentional
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

type options struct {
	username      string
	password      string
	maxFrameSize  int
	logger        *zap.Logger
	registry      registry.Registry
	cluster       string
	advertiseAddr string
	ttl           int64
}

type Option func(*options)

// WithCredentials makes the node reject handshakes that do not carry exactly these
// credentials.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithRegistry publishes the node under cluster once it listens. advertiseAddr is the
// address clients should dial; it differs from the listen address when that is a
// wildcard such as ":10800". When empty the listener's address is used.
func WithRegistry(reg registry.Registry, cluster, advertiseAddr string, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.cluster = cluster
		o.advertiseAddr = advertiseAddr
		o.ttl = ttl
	}
}

func NewServer(opts ...Option) *Server {
	o := options{maxFrameSize: protocol.DefaultMaxFrameSize, ttl: 10}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Server{
		opts:  o,
		store: newStore(),
		conns: make(map[net.Conn]struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are added
// and must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// ListenAndServe listens on address and serves until Shutdown.
func (svr *Server) ListenAndServe(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(listener)
}

// Serve registers the node if a registry is configured, then accepts connections on
// listener until Shutdown. It returns nil after a Shutdown.
func (svr *Server) Serve(listener net.Listener) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()

	// Build the chain once at startup, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	if svr.opts.registry != nil {
		if svr.opts.advertiseAddr == "" {
			svr.opts.advertiseAddr = listener.Addr().String()
		}
		inst := registry.NodeInstance{Addr: svr.opts.advertiseAddr, Weight: 1, Version: protocol.CurrentVersion.String()}
		if err := svr.opts.registry.Register(context.Background(), svr.opts.cluster, inst, svr.opts.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", inst.Addr, err)
		}
	}
	svr.opts.logger.Info("grid node listening", zap.Stringer("addr", listener.Addr()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn performs the handshake, then reads frames sequentially and processes
// each request in its own goroutine. Responses share a per-connection write lock so
// frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	logger := svr.opts.logger.With(zap.Stringer("remote", conn.RemoteAddr()))

	if !svr.trackConn(conn) {
		return
	}
	defer svr.untrackConn(conn)

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := svr.handshake(conn); err != nil {
		logger.Info("handshake failed", zap.Error(err))
		return
	}
	conn.SetDeadline(time.Time{})

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.DecodeRequest(conn, svr.opts.maxFrameSize)
		if err != nil {
			if !svr.shutdown.Load() {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		if !svr.beginRequest() {
			return
		}
		// Without `go` a slow request would block every later one on this connection.
		go svr.handleRequest(header, body, conn, writeMu, logger)
	}
}

// beginRequest counts a request as in flight unless shutdown has started. The flag
// is read under mu, which Shutdown holds while setting it, so no Add can race the
// Wait that follows.
func (svr *Server) beginRequest() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) handshake(conn net.Conn) error {
	hs, err := protocol.ReadHandshake(conn)
	if err != nil {
		return err
	}
	var rejection *protocol.HandshakeError
	switch {
	case hs.Version.Less(protocol.MinVersion) || protocol.CurrentVersion.Less(hs.Version):
		rejection = &protocol.HandshakeError{
			ServerVersion: protocol.CurrentVersion,
			Message:       fmt.Sprintf("unsupported version %s", hs.Version),
		}
	case svr.opts.username != "" && (hs.Username != svr.opts.username || hs.Password != svr.opts.password):
		rejection = &protocol.HandshakeError{
			ServerVersion: protocol.CurrentVersion,
			Message:       "authentication failed",
		}
	}
	if err := protocol.WriteHandshakeResult(conn, rejection); err != nil {
		return err
	}
	if rejection != nil {
		return rejection
	}
	return nil
}

func (svr *Server) handleRequest(header protocol.RequestHeader, body []byte, conn net.Conn, writeMu *sync.Mutex, logger *zap.Logger) {
	defer svr.wg.Done()

	req := &message.Request{Opcode: header.Opcode, RequestID: header.RequestID, Payload: body}
	resp, err := svr.handler(context.Background(), req)
	if err != nil {
		resp = failure(req, err)
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.EncodeResponse(conn, protocol.ResponseHeader{RequestID: resp.RequestID, Status: resp.Status}, resp.Payload); err != nil {
		logger.Warn("write response", zap.Stringer("op", header.Opcode), zap.Error(err))
	}
}

// dispatch runs the opcode's handler. Every failure becomes a non-zero status; the
// connection stays usable.
func (svr *Server) dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	h, ok := handlers[req.Opcode]
	if !ok {
		return failure(req, &statusError{status: protocol.StatusInvalidOpcode, msg: fmt.Sprintf("invalid operation code %d", int16(req.Opcode))}), nil
	}
	w := codec.NewWriter(64)
	if err := h(svr, codec.NewReader(req.Payload), w); err != nil {
		return failure(req, err), nil
	}
	return &message.Response{RequestID: req.RequestID, Payload: w.Bytes()}, nil
}

func failure(req *message.Request, err error) *message.Response {
	status := protocol.StatusFailed
	var se *statusError
	if errors.As(err, &se) {
		status = se.status
	}
	return &message.Response{RequestID: req.RequestID, Status: status, Payload: message.ErrorPayload(err.Error())}
}

func (svr *Server) trackConn(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrackConn(conn net.Conn) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	delete(svr.conns, conn)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry, so clients stop picking this node
//  2. Set the shutdown flag, so the Accept error is recognized as intentional
//  3. Close the listener
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining client connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.opts.registry != nil && svr.opts.advertiseAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := svr.opts.registry.Deregister(ctx, svr.opts.cluster, svr.opts.advertiseAddr); err != nil {
			svr.opts.logger.Warn("deregister", zap.Error(err))
		}
		cancel()
	}

	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
