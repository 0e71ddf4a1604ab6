// Package message defines the envelopes exchanged between a client and a grid node.
//
// A Request is what the caller hands to the middleware chain; a Response is what comes
// back once the transport matched a frame to it by request id. Payloads are raw
// codec bytes: the client builds them, the node interprets them.
package message

import (
	"fmt"

	"gridclient/codec"
	"gridclient/protocol"
)

// Request carries a single cache operation.
//
//   - Opcode selects the operation and is placed in the frame header.
//   - RequestID is assigned by the transport when the frame is written; it is zero
//     until then.
//   - Payload starts with the cache id and flags for cache operations.
type Request struct {
	Opcode    protocol.Opcode
	RequestID int64
	Payload   []byte
}

// Response carries the node's answer to a Request.
type Response struct {
	RequestID int64
	Status    int32
	Payload   []byte // operation result, or the error message object if Status != 0
}

// ServerError is a request the node processed and refused. The connection stays usable.
type ServerError struct {
	Opcode  protocol.Opcode
	Status  int32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("grid node: %s failed with status %d: %s", e.Opcode, e.Status, e.Message)
}

// Err converts a failed response into a *ServerError. It returns nil for a success.
func (r *Response) Err(op protocol.Opcode) error {
	if r.Status == protocol.StatusSuccess {
		return nil
	}
	msg, err := codec.NewReader(r.Payload).ReadStringObject()
	if err != nil {
		msg = fmt.Sprintf("unreadable error message: %v", err)
	}
	return &ServerError{Opcode: op, Status: r.Status, Message: msg}
}

// ErrorPayload encodes msg the way a node reports a failed request.
func ErrorPayload(msg string) []byte {
	w := codec.NewWriter(len(msg) + 5)
	w.WriteStringObject(msg)
	return w.Bytes()
}
