// Package transport implements the client side of a grid connection with request
// multiplexing.
//
// ClientTransport lets many concurrent cache operations share one TCP connection.
// Each request gets a unique request id, and a background goroutine (recvLoop) reads
// responses and routes them to the waiting caller via pending channels.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single TCP conn ──→ grid node
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gridclient/message"
	"gridclient/protocol"
)

var (
	// ErrClosed is returned by Send when the transport was already closed. The
	// request was not written, so it is safe to retry on a new connection.
	ErrClosed = errors.New("transport: connection closed")
	// ErrConnectionLost is delivered to requests that were in flight when the
	// connection broke. Whether the node applied them is unknown.
	ErrConnectionLost = errors.New("transport: connection lost")
)

// Options configures a ClientTransport.
type Options struct {
	Username     string
	Password     string
	DialTimeout  time.Duration
	MaxFrameSize int
	Logger       *zap.Logger
	// OnDisconnect is called once, from the receive loop, when the connection
	// breaks. It is not called for Close.
	OnDisconnect func(error)
}

type result struct {
	resp *message.Response
	err  error
}

// ClientTransport manages a single multiplexed TCP connection to a grid node.
type ClientTransport struct {
	conn    net.Conn
	opts    Options
	logger  *zap.Logger
	nextID  atomic.Int64
	pending sync.Map   // map[int64]chan result
	sending sync.Mutex // frames from different goroutines must not interleave
	closed  atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// Dial connects to addr, performs the handshake and starts the receive loop.
func Dial(ctx context.Context, addr string, opts Options) (*ClientTransport, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	t, err := NewClientTransport(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// NewClientTransport performs the handshake over conn and starts the receive loop.
// The handshake honours the deadline of ctx.
func NewClientTransport(ctx context.Context, conn net.Conn, opts Options) (*ClientTransport, error) {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	hs := &protocol.Handshake{
		Version:  protocol.CurrentVersion,
		Username: opts.Username,
		Password: opts.Password,
	}
	if err := protocol.WriteHandshake(conn, hs); err != nil {
		return nil, fmt.Errorf("transport: send handshake: %w", err)
	}
	if err := protocol.ReadHandshakeResult(conn); err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	t := &ClientTransport{
		conn:   conn,
		opts:   opts,
		logger: logger.With(zap.String("node", conn.RemoteAddr().String())),
		done:   make(chan struct{}),
	}
	go t.recvLoop()
	return t, nil
}

// Send writes one request and waits for the matching response, the context to end,
// or the connection to break. A response that arrives after ctx ended is discarded.
func (t *ClientTransport) Send(ctx context.Context, op protocol.Opcode, payload []byte) (*message.Response, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	id := t.nextID.Add(1)

	// Register the response channel BEFORE writing, the response may beat us back.
	ch := make(chan result, 1)
	t.pending.Store(id, ch)
	if t.closed.Load() {
		if _, ok := t.pending.LoadAndDelete(id); ok {
			return nil, ErrClosed
		}
		// shutdown already claimed the channel and will deliver to it
	} else {
		t.sending.Lock()
		err := protocol.EncodeRequest(t.conn, protocol.RequestHeader{Opcode: op, RequestID: id}, payload)
		t.sending.Unlock()
		if err != nil {
			t.pending.Delete(id)
			t.shutdown(err, true)
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		t.pending.Delete(id)
		return nil, ctx.Err()
	}
}

// recvLoop is the only reader of the connection: TCP is a byte stream and frame
// boundaries are only known to whoever reads sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.DecodeResponse(t.conn, t.opts.MaxFrameSize)
		if err != nil {
			t.shutdown(err, true)
			return
		}
		resp := &message.Response{RequestID: header.RequestID, Status: header.Status, Payload: body}
		if ch, ok := t.pending.LoadAndDelete(header.RequestID); ok {
			ch.(chan result) <- result{resp: resp}
			continue
		}
		t.logger.Debug("discarding response with no waiting request", zap.Int64("request_id", header.RequestID))
	}
}

// shutdown closes the transport once and fails every pending request.
func (t *ClientTransport) shutdown(cause error, unexpected bool) {
	t.once.Do(func() {
		t.closed.Store(true)
		t.conn.Close()
		lost := fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		t.pending.Range(func(key, _ any) bool {
			if ch, ok := t.pending.LoadAndDelete(key); ok {
				ch.(chan result) <- result{err: lost}
			}
			return true
		})
		close(t.done)
		if unexpected {
			t.logger.Warn("connection lost", zap.Error(cause))
			if t.opts.OnDisconnect != nil {
				t.opts.OnDisconnect(cause)
			}
		}
	})
}

// Close closes the connection. Requests still in flight fail with ErrConnectionLost.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed, false)
	return nil
}

// Closed reports whether the transport can no longer send.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Done is closed once the transport has shut down.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// RemoteAddr returns the address of the node.
func (t *ClientTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
