// Package codec is the byte-level reader and writer of the grid's binary object format.
//
// Every object on the wire is a one-byte type code followed by a body whose shape is
// dictated by the binarytype tables:
//
//	fixed scalar     code | value (Size bytes)
//	string           code | int32 len | UTF-8 bytes
//	primitive array  code | int32 count | count * element Size bytes
//	tagged array     code | int32 count | count * (element code | element body)
//	map              code | int32 count | byte kind | count * (key object | value object)
//	null             code
//
// All integers are little-endian.
package codec

import (
	"encoding/binary"
	"math"
	"time"

	"gridclient/binarytype"
)

// Writer appends encoded values to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for capacity bytes.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteInt16(v int16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteRaw appends b verbatim.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteString writes the body of a string: int32 byte length then UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.WriteInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteDate writes the body of a date: milliseconds since the Unix epoch.
func (w *Writer) WriteDate(t time.Time) {
	w.WriteInt64(t.UnixMilli())
}

func (w *Writer) WriteTypeCode(c binarytype.TypeCode) {
	w.WriteInt8(int8(c))
}

func (w *Writer) WriteNull() {
	w.WriteTypeCode(binarytype.Null)
}

// PutInt32At overwrites four bytes at off, used to back-patch length prefixes.
func (w *Writer) PutInt32At(off int, v int32) {
	binary.LittleEndian.PutUint32(w.buf[off:off+4], uint32(v))
}

// WriteObject checks v against t and writes it as a tagged object. With Any the type
// code is inferred from the Go type of v. On error nothing is written.
func (w *Writer) WriteObject(v any, t binarytype.DeclaredType) error {
	if err := binarytype.CheckValue(v, t); err != nil {
		return err
	}
	start := len(w.buf)
	if err := w.writeObject(v, t, 0); err != nil {
		w.buf = w.buf[:start]
		return err
	}
	return nil
}

// WriteStringObject writes s as a tagged string, used for names and messages.
func (w *Writer) WriteStringObject(s string) {
	w.WriteTypeCode(binarytype.String)
	w.WriteString(s)
}

// WriteNullableString writes s as a tagged string, or NULL when s is empty.
func (w *Writer) WriteNullableString(s string) {
	if s == "" {
		w.WriteNull()
		return
	}
	w.WriteStringObject(s)
}
