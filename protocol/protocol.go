// Package protocol implements the framing of the grid's thin client protocol.
//
// A connection starts with a handshake, after which every frame is length-prefixed
// so the receiver can read exactly one message at a time off the TCP stream. All
// integers are little-endian.
//
// Handshake request / response:
//
//	┌─────────┬──┬─────┬─────┬─────┬──┬──────────┬──────────┐
//	│ len i32 │01│major│minor│patch│02│ username │ password │
//	└─────────┴──┴─────┴─────┴─────┴──┴──────────┴──────────┘
//	┌─────────┬──┐                 ┌─────────┬──┬─────┬─────┬─────┬─────────┐
//	│ len i32 │01│  accepted       │ len i32 │00│major│minor│patch│ message │  rejected
//	└─────────┴──┘                 └─────────┴──┴─────┴─────┴─────┴─────────┘
//
// Request and response frames:
//
//	┌─────────┬────────┬────────────┬──────────────┐
//	│ len i32 │ op i16 │ reqID i64  │ payload ...  │
//	└─────────┴────────┴────────────┴──────────────┘
//	┌─────────┬────────────┬────────────┬──────────────────────────────┐
//	│ len i32 │ reqID i64  │ status i32 │ payload, or message if != 0  │
//	└─────────┴────────────┴────────────┴──────────────────────────────┘
//
// len counts the bytes that follow it. The request id is what lets many requests
// share one connection: the node echoes it in the matching response.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gridclient/codec"
)

const (
	handshakeCode   int8 = 1
	thinClientCode  int8 = 2
	lengthSize           = 4
	requestHdrSize       = 2 + 8 // opcode + request id
	responseHdrSize      = 8 + 4 // request id + status

	// DefaultMaxFrameSize bounds a single frame body unless the caller picks another limit.
	DefaultMaxFrameSize = 64 << 20
)

// Response status codes. Anything but StatusSuccess carries an error message.
const (
	StatusSuccess           int32 = 0
	StatusFailed            int32 = 1
	StatusInvalidOpcode     int32 = 2
	StatusCacheDoesNotExist int32 = 1000
	StatusCacheExists       int32 = 1001
	StatusAuthFailed        int32 = 2000
)

var ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

// Version is a protocol version triple.
type Version struct {
	Major, Minor, Patch int16
}

var (
	// CurrentVersion is the version this client speaks; 1.1.0 added credentials
	// to the handshake.
	CurrentVersion = Version{1, 1, 0}
	// MinVersion is the oldest version a node in this module accepts.
	MinVersion = Version{1, 0, 0}
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less orders versions by major, minor, then patch.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Handshake is the first message a client sends on a new connection.
type Handshake struct {
	Version  Version
	Username string
	Password string
}

// HandshakeError is returned when a node rejects the handshake.
type HandshakeError struct {
	ServerVersion Version
	Message       string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("protocol: handshake rejected by node %s: %s", e.ServerVersion, e.Message)
}

// writeFrame back-patches the length prefix and writes the whole frame in one call.
func writeFrame(w io.Writer, fw *codec.Writer) error {
	fw.PutInt32At(0, int32(fw.Len()-lengthSize))
	_, err := w.Write(fw.Bytes())
	return err
}

// readFrame reads one length-prefixed frame body, using io.ReadFull so a frame split
// across TCP segments is still read whole.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var lenBuf [lengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if n < 0 {
		return nil, fmt.Errorf("protocol: negative frame length %d", n)
	}
	if maxSize > 0 && int(n) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteHandshake sends the client handshake. Credentials are only sent for
// versions that carry them.
func WriteHandshake(w io.Writer, h *Handshake) error {
	fw := codec.NewWriter(32)
	fw.WriteInt32(0)
	fw.WriteInt8(handshakeCode)
	fw.WriteInt16(h.Version.Major)
	fw.WriteInt16(h.Version.Minor)
	fw.WriteInt16(h.Version.Patch)
	fw.WriteInt8(thinClientCode)
	if !h.Version.Less(Version{1, 1, 0}) {
		fw.WriteNullableString(h.Username)
		fw.WriteNullableString(h.Password)
	}
	return writeFrame(w, fw)
}

// ReadHandshake reads a client handshake on the node side.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	body, err := readFrame(r, 1<<16)
	if err != nil {
		return nil, err
	}
	br := codec.NewReader(body)
	code, err := br.ReadInt8()
	if err != nil {
		return nil, err
	}
	if code != handshakeCode {
		return nil, fmt.Errorf("protocol: unexpected handshake code %d", code)
	}
	h := &Handshake{}
	if h.Version.Major, err = br.ReadInt16(); err != nil {
		return nil, err
	}
	if h.Version.Minor, err = br.ReadInt16(); err != nil {
		return nil, err
	}
	if h.Version.Patch, err = br.ReadInt16(); err != nil {
		return nil, err
	}
	client, err := br.ReadInt8()
	if err != nil {
		return nil, err
	}
	if client != thinClientCode {
		return nil, fmt.Errorf("protocol: unsupported client code %d", client)
	}
	if br.Remaining() > 0 {
		if h.Username, err = br.ReadStringObject(); err != nil {
			return nil, err
		}
		if h.Password, err = br.ReadStringObject(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// WriteHandshakeResult answers a handshake: accepted when rejection is nil.
func WriteHandshakeResult(w io.Writer, rejection *HandshakeError) error {
	fw := codec.NewWriter(16)
	fw.WriteInt32(0)
	if rejection == nil {
		fw.WriteBool(true)
		return writeFrame(w, fw)
	}
	fw.WriteBool(false)
	fw.WriteInt16(rejection.ServerVersion.Major)
	fw.WriteInt16(rejection.ServerVersion.Minor)
	fw.WriteInt16(rejection.ServerVersion.Patch)
	fw.WriteStringObject(rejection.Message)
	return writeFrame(w, fw)
}

// ReadHandshakeResult reads the node's answer. A rejection is a *HandshakeError.
func ReadHandshakeResult(r io.Reader) error {
	body, err := readFrame(r, 1<<16)
	if err != nil {
		return err
	}
	br := codec.NewReader(body)
	ok, err := br.ReadBool()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	rejection := &HandshakeError{}
	if rejection.ServerVersion.Major, err = br.ReadInt16(); err != nil {
		return err
	}
	if rejection.ServerVersion.Minor, err = br.ReadInt16(); err != nil {
		return err
	}
	if rejection.ServerVersion.Patch, err = br.ReadInt16(); err != nil {
		return err
	}
	if rejection.Message, err = br.ReadStringObject(); err != nil {
		return err
	}
	return rejection
}

// RequestHeader is the fixed part of a request frame.
type RequestHeader struct {
	Opcode    Opcode
	RequestID int64
}

// ResponseHeader is the fixed part of a response frame.
type ResponseHeader struct {
	RequestID int64
	Status    int32
}

// EncodeRequest writes a complete request frame to w. Callers sharing w between
// goroutines must serialize calls, otherwise frames interleave on the stream.
func EncodeRequest(w io.Writer, h RequestHeader, payload []byte) error {
	fw := codec.NewWriter(lengthSize + requestHdrSize + len(payload))
	fw.WriteInt32(0)
	fw.WriteInt16(int16(h.Opcode))
	fw.WriteInt64(h.RequestID)
	fw.WriteRaw(payload)
	return writeFrame(w, fw)
}

// DecodeRequest reads one request frame. maxSize <= 0 disables the size check.
func DecodeRequest(r io.Reader, maxSize int) (RequestHeader, []byte, error) {
	body, err := readFrame(r, maxSize)
	if err != nil {
		return RequestHeader{}, nil, err
	}
	br := codec.NewReader(body)
	op, err := br.ReadInt16()
	if err != nil {
		return RequestHeader{}, nil, err
	}
	id, err := br.ReadInt64()
	if err != nil {
		return RequestHeader{}, nil, err
	}
	return RequestHeader{Opcode: Opcode(op), RequestID: id}, body[requestHdrSize:], nil
}

// EncodeResponse writes a complete response frame. For a non-zero status body holds
// the error message object.
func EncodeResponse(w io.Writer, h ResponseHeader, body []byte) error {
	fw := codec.NewWriter(lengthSize + responseHdrSize + len(body))
	fw.WriteInt32(0)
	fw.WriteInt64(h.RequestID)
	fw.WriteInt32(h.Status)
	fw.WriteRaw(body)
	return writeFrame(w, fw)
}

// DecodeResponse reads one response frame. maxSize <= 0 disables the size check.
func DecodeResponse(r io.Reader, maxSize int) (ResponseHeader, []byte, error) {
	body, err := readFrame(r, maxSize)
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	br := codec.NewReader(body)
	id, err := br.ReadInt64()
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	status, err := br.ReadInt32()
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	return ResponseHeader{RequestID: id, Status: status}, body[responseHdrSize:], nil
}
