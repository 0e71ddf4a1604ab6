package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gridclient/binarytype"
	"gridclient/message"
	"gridclient/protocol"
	"gridclient/transport"
)

// echoHandler answers every request immediately.
func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{RequestID: 1, Payload: []byte("ok")}, nil
}

// slowHandler honours its context but otherwise takes 200ms.
func slowHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return &message.Response{Payload: []byte("ok")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failingHandler fails the first n calls with err.
func failingHandler(n int32, err error, calls *atomic.Int32) HandlerFunc {
	return func(ctx context.Context, req *message.Request) (*message.Response, error) {
		if calls.Add(1) <= n {
			return nil, err
		}
		return &message.Response{Payload: []byte("ok")}, nil
	}
}

var getReq = &message.Request{Opcode: protocol.OpCacheGet}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), getReq)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", resp.Payload)
	}
	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 || entries[0].ContextMap()["op"] != "get" {
		t.Fatalf("unexpected log entries %+v", logs.All())
	}

	failing := LoggingMiddleware(zap.New(core))(failingHandler(1, transport.ErrClosed, new(atomic.Int32)))
	if _, err := failing(context.Background(), getReq); err == nil {
		t.Fatal("expect error")
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatal("failure was not logged")
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)
	if _, err := handler(context.Background(), getReq); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)
	_, err := handler(context.Background(), getReq)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// 1 token per second, burst 2: two pass immediately, the third waits ~1s
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), getReq); err != nil {
			t.Fatalf("request %d should pass, got %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := handler(ctx, getReq); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got %v", err)
	}

	start := time.Now()
	if _, err := handler(context.Background(), getReq); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 500*time.Millisecond {
		t.Fatalf("request 4 waited only %s", waited)
	}
}

func TestRetryOnlyOnClosed(t *testing.T) {
	var calls atomic.Int32
	handler := RetryMiddleware(3, time.Millisecond, nil)(failingHandler(2, fmt.Errorf("send: %w", transport.ErrClosed), &calls))
	resp, err := handler(context.Background(), getReq)
	if err != nil || string(resp.Payload) != "ok" {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expect 3 calls, got %d", calls.Load())
	}

	notRetried := []error{
		transport.ErrConnectionLost,
		&binarytype.TypeMismatchError{Observed: binarytype.Null, Declared: binarytype.Integer},
		&binarytype.InternalError{Op: "lookup", Code: 99},
		&message.ServerError{Status: 1, Message: "boom"},
	}
	for _, cause := range notRetried {
		calls.Store(0)
		handler := RetryMiddleware(3, time.Millisecond, nil)(failingHandler(5, cause, &calls))
		if _, err := handler(context.Background(), getReq); !errors.Is(err, cause) {
			t.Fatalf("expect %v, got %v", cause, err)
		}
		if calls.Load() != 1 {
			t.Fatalf("%T retried: %d calls", cause, calls.Load())
		}
	}
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	handler := RetryMiddleware(2, time.Millisecond, nil)(failingHandler(10, transport.ErrClosed, &calls))
	if _, err := handler(context.Background(), getReq); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expect 1 call + 2 retries, got %d", calls.Load())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	handler := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	if _, err := handler(context.Background(), getReq); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order %v", order)
	}
}
