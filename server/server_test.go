package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"gridclient/binarytype"
	"gridclient/codec"
	"gridclient/message"
	"gridclient/protocol"
	"gridclient/registry"
)

// startServer runs svr on a loopback port and shuts it down when the test ends.
func startServer(t *testing.T, svr *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

// dial connects and performs a handshake with the given credentials and version.
func dial(t *testing.T, addr string, hs *protocol.Handshake) (net.Conn, error) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteHandshake(conn, hs); err != nil {
		t.Fatal(err)
	}
	return conn, protocol.ReadHandshakeResult(conn)
}

// call sends one request and returns the node's response.
func call(t *testing.T, conn net.Conn, id int64, op protocol.Opcode, payload []byte) *message.Response {
	t.Helper()
	if err := protocol.EncodeRequest(conn, protocol.RequestHeader{Opcode: op, RequestID: id}, payload); err != nil {
		t.Fatal(err)
	}
	h, body, err := protocol.DecodeResponse(conn, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h.RequestID != id {
		t.Fatalf("response for request %d, want %d", h.RequestID, id)
	}
	return &message.Response{RequestID: h.RequestID, Status: h.Status, Payload: body}
}

func cachePayload(name string, objects ...any) []byte {
	w := codec.NewWriter(64)
	w.WriteInt32(protocol.CacheID(name))
	w.WriteInt8(0)
	for _, o := range objects {
		if err := w.WriteObject(o, binarytype.Any); err != nil {
			panic(err)
		}
	}
	return w.Bytes()
}

func TestServerPutGet(t *testing.T) {
	addr := startServer(t, NewServer())
	conn, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}

	w := codec.NewWriter(16)
	w.WriteStringObject("people")
	if resp := call(t, conn, 1, protocol.OpCacheCreateWithName, w.Bytes()); resp.Status != protocol.StatusSuccess {
		t.Fatalf("create: %v", resp.Err(protocol.OpCacheCreateWithName))
	}
	if resp := call(t, conn, 2, protocol.OpCachePut, cachePayload("people", int32(7), "seven")); resp.Status != protocol.StatusSuccess {
		t.Fatalf("put: %v", resp.Err(protocol.OpCachePut))
	}

	resp := call(t, conn, 3, protocol.OpCacheGet, cachePayload("people", int32(7)))
	v, err := codec.NewReader(resp.Payload).ReadObject(binarytype.Declare(binarytype.String))
	if err != nil || v != "seven" {
		t.Fatalf("get: %v %v", v, err)
	}

	// a LONG 7 is a different key than an INTEGER 7
	resp = call(t, conn, 4, protocol.OpCacheGet, cachePayload("people", int64(7)))
	if len(resp.Payload) != 1 || resp.Payload[0] != byte(binarytype.Null) {
		t.Fatalf("expect NULL, got % x", resp.Payload)
	}
}

func TestServerErrors(t *testing.T) {
	addr := startServer(t, NewServer())
	conn, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		op      protocol.Opcode
		payload []byte
		status  int32
	}{
		{"unknown opcode", protocol.Opcode(999), nil, protocol.StatusInvalidOpcode},
		{"missing cache", protocol.OpCacheGet, cachePayload("missing", int32(1)), protocol.StatusCacheDoesNotExist},
		{"short payload", protocol.OpCacheGet, []byte{1}, protocol.StatusFailed},
	}
	for i, tc := range cases {
		resp := call(t, conn, int64(i+1), tc.op, tc.payload)
		if resp.Status != tc.status {
			t.Fatalf("%s: status %d, want %d", tc.name, resp.Status, tc.status)
		}
		var srvErr *message.ServerError
		if !errors.As(resp.Err(tc.op), &srvErr) || srvErr.Message == "" {
			t.Fatalf("%s: no error message", tc.name)
		}
	}

	// the connection survives failed requests
	if resp := call(t, conn, 10, protocol.OpCacheGetNames, nil); resp.Status != protocol.StatusSuccess {
		t.Fatalf("getNames after errors: status %d", resp.Status)
	}
}

func TestServerNullValueRejected(t *testing.T) {
	addr := startServer(t, NewServer())
	conn, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}
	w := codec.NewWriter(16)
	w.WriteStringObject("c")
	call(t, conn, 1, protocol.OpCacheCreateWithName, w.Bytes())
	if resp := call(t, conn, 2, protocol.OpCachePut, cachePayload("c", int32(1), nil)); resp.Status != protocol.StatusFailed {
		t.Fatalf("expect failure for NULL value, got status %d", resp.Status)
	}
}

func TestServerHandshake(t *testing.T) {
	addr := startServer(t, NewServer(WithCredentials("ignite", "ignite")))

	if _, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion, Username: "ignite", Password: "ignite"}); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}

	var hsErr *protocol.HandshakeError
	_, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion, Username: "ignite", Password: "wrong"})
	if !errors.As(err, &hsErr) || hsErr.Message != "authentication failed" {
		t.Fatalf("expect authentication failure, got %v", err)
	}

	_, err = dial(t, addr, &protocol.Handshake{Version: protocol.Version{Major: 2}})
	if !errors.As(err, &hsErr) || hsErr.ServerVersion != protocol.CurrentVersion {
		t.Fatalf("expect version rejection, got %v", err)
	}
}

func TestServerRegistersAndShutsDown(t *testing.T) {
	reg := registry.NewStaticRegistry()
	svr := NewServer(WithRegistry(reg, "grid", "", 10))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.Serve(ln) }()

	deadline := time.Now().Add(time.Second)
	for {
		nodes, _ := reg.Discover(context.Background(), "grid")
		if len(nodes) == 1 && nodes[0].Addr == ln.Addr().String() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("node not registered: %+v", nodes)
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := dial(t, ln.Addr().String(), &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-served; err != nil {
		t.Fatalf("Serve returned %v after Shutdown", err)
	}
	if nodes, _ := reg.Discover(context.Background(), "grid"); len(nodes) != 0 {
		t.Fatalf("node still registered: %+v", nodes)
	}
	// open connections are closed
	if _, _, err := protocol.DecodeResponse(conn, 0); err == nil {
		t.Fatal("expect closed connection")
	}
}

// A key nested past the codec's depth bound fails the request; the node and the
// connection keep serving.
func TestServerRejectsDeeplyNestedKey(t *testing.T) {
	addr := startServer(t, NewServer())
	conn, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}
	w := codec.NewWriter(16)
	w.WriteStringObject("c")
	call(t, conn, 1, protocol.OpCacheCreateWithName, w.Bytes())

	const levels = 1 << 20
	payload := cachePayload("c")
	for i := 0; i < levels; i++ {
		payload = append(payload, byte(binarytype.Map), 1, 0, 0, 0, 1, byte(binarytype.Null))
	}
	payload = append(payload, byte(binarytype.Null))
	payload = append(payload, cachePayload("c", "value")[5:]...)

	resp := call(t, conn, 2, protocol.OpCachePut, payload)
	if resp.Status != protocol.StatusFailed {
		t.Fatalf("expect failure for nested key, got status %d", resp.Status)
	}
	if err := resp.Err(protocol.OpCachePut); err == nil || !strings.Contains(err.Error(), "nested") {
		t.Fatalf("unexpected error %v", err)
	}
	if resp := call(t, conn, 3, protocol.OpCacheGetSize, cachePayload("c")); resp.Status != protocol.StatusSuccess {
		t.Fatalf("getSize after rejected put: status %d", resp.Status)
	}
}

func TestShutdownStopsCountingRequests(t *testing.T) {
	svr := NewServer()
	if !svr.beginRequest() {
		t.Fatal("request refused before shutdown")
	}
	svr.wg.Done()

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if svr.beginRequest() {
		t.Fatal("request counted after shutdown started")
	}
}

func TestShutdownUnderLoad(t *testing.T) {
	svr := NewServer()
	addr := startServer(t, svr)
	conn, err := dial(t, addr, &protocol.Handshake{Version: protocol.CurrentVersion})
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Time{})

	go func() {
		for {
			if _, _, err := protocol.DecodeResponse(conn, 0); err != nil {
				return
			}
		}
	}()
	sent := make(chan struct{})
	go func() {
		for id := int64(1); ; id++ {
			if err := protocol.EncodeRequest(conn, protocol.RequestHeader{Opcode: protocol.OpCacheGetNames, RequestID: id}, nil); err != nil {
				return
			}
			if id == 100 {
				close(sent)
			}
		}
	}()

	<-sent
	if err := svr.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
