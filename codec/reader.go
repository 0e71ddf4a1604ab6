package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"gridclient/binarytype"
)

var (
	ErrShortBuffer    = errors.New("codec: unexpected end of buffer")
	ErrInvalidLength  = errors.New("codec: invalid length")
	ErrNestingTooDeep = errors.New("codec: objects nested too deeply")
)

// MaxNestingDepth bounds how many maps and arrays may enclose an object, on both the
// read and the write side.
const MaxNestingDepth = 64

func checkDepth(depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("%w: more than %d levels", ErrNestingTooDeep, MaxNestingDepth)
	}
	return nil
}

// Reader decodes values from a byte slice. Every read is bounds-checked.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadRaw returns the next n bytes. The slice aliases the Reader's buffer.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.next(n)
}

// ReadString reads a string body: int32 byte length then UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadDate() (time.Time, error) {
	ms, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *Reader) ReadTypeCode() (binarytype.TypeCode, error) {
	c, err := r.ReadInt8()
	return binarytype.TypeCode(c), err
}

// ReadStringObject reads a tagged string or NULL. NULL reads as "".
func (r *Reader) ReadStringObject() (string, error) {
	v, err := r.ReadObject(binarytype.Declare(binarytype.String))
	if err != nil || v == nil {
		return "", err
	}
	return v.(string), nil
}

// ReadObject reads one tagged object and checks its code against t. NULL decodes
// to nil.
func (r *Reader) ReadObject(t binarytype.DeclaredType) (any, error) {
	return r.readObject(t, 0)
}

func (r *Reader) readObject(t binarytype.DeclaredType, depth int) (any, error) {
	if err := checkDepth(depth); err != nil {
		return nil, err
	}
	code, err := r.ReadTypeCode()
	if err != nil {
		return nil, err
	}
	if err := binarytype.CheckWireType(t, code); err != nil {
		return nil, err
	}
	if code == binarytype.Null {
		return nil, nil
	}
	return r.readBody(code, depth)
}

func (r *Reader) readBody(code binarytype.TypeCode, depth int) (any, error) {
	d, err := binarytype.Lookup(code)
	if err != nil {
		return nil, err
	}
	switch code {
	case binarytype.Byte:
		return r.ReadInt8()
	case binarytype.Short:
		return r.ReadInt16()
	case binarytype.Integer:
		return r.ReadInt32()
	case binarytype.Long:
		return r.ReadInt64()
	case binarytype.Float:
		return r.ReadFloat32()
	case binarytype.Double:
		return r.ReadFloat64()
	case binarytype.Char:
		return r.ReadUint16()
	case binarytype.Boolean:
		return r.ReadBool()
	case binarytype.String:
		return r.ReadString()
	case binarytype.Date:
		return r.ReadDate()
	case binarytype.Map:
		return r.readMap(depth)
	}
	if d.SelfTagging {
		return r.readTaggedArray(code, depth)
	}
	return r.readPrimitiveArray(code, d)
}

func (r *Reader) readCount(elemSize int) (int, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: array count %d", ErrInvalidLength, n)
	}
	if int(n)*elemSize > r.Remaining() {
		return 0, fmt.Errorf("%w: %d elements of %d bytes, have %d", ErrShortBuffer, n, elemSize, r.Remaining())
	}
	return int(n), nil
}

func (r *Reader) readPrimitiveArray(code binarytype.TypeCode, d binarytype.Descriptor) (any, error) {
	elemSize, err := binarytype.Size(d.Element)
	if err != nil {
		return nil, err
	}
	n, err := r.readCount(elemSize)
	if err != nil {
		return nil, err
	}
	raw, _ := r.next(n * elemSize)
	switch code {
	case binarytype.ByteArray:
		out := make([]byte, n)
		copy(out, raw)
		return out, nil
	case binarytype.ShortArray:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, nil
	case binarytype.IntegerArray:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case binarytype.LongArray:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case binarytype.FloatArray:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case binarytype.DoubleArray:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case binarytype.CharArray:
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return out, nil
	case binarytype.BooleanArray:
		out := make([]bool, n)
		for i := range out {
			out[i] = raw[i] != 0
		}
		return out, nil
	}
	return nil, &binarytype.InternalError{Op: "read array", Code: code}
}

// readTaggedArray decodes string and date arrays. NULL elements decode to "" and
// the zero time.
func (r *Reader) readTaggedArray(code binarytype.TypeCode, depth int) (any, error) {
	elem, err := binarytype.ElementTypeFor(code)
	if err != nil {
		return nil, err
	}
	n, err := r.readCount(1)
	if err != nil {
		return nil, err
	}
	switch elem.TypeCode() {
	case binarytype.String:
		out := make([]string, n)
		for i := range out {
			v, err := r.readObject(elem, depth+1)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[i] = v.(string)
			}
		}
		return out, nil
	case binarytype.Date:
		out := make([]time.Time, n)
		for i := range out {
			v, err := r.readObject(elem, depth+1)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[i] = v.(time.Time)
			}
		}
		return out, nil
	}
	return nil, &binarytype.InternalError{Op: "read tagged array", Code: code}
}

func (r *Reader) readMap(depth int) (any, error) {
	n, err := r.readCount(2)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadInt8(); err != nil {
		return nil, err
	}
	out := make(map[any]any, n)
	for i := 0; i < n; i++ {
		k, err := r.readObject(binarytype.Any, depth+1)
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, fmt.Errorf("%w: map key of type %T", ErrUnsupportedType, k)
		}
		v, err := r.readObject(binarytype.Any, depth+1)
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		out[k] = v
	}
	return out, nil
}

// SkipObject advances past one tagged object and returns its raw bytes, type code
// included. The slice aliases the Reader's buffer. On error the Reader is left
// where it was.
func (r *Reader) SkipObject() ([]byte, error) {
	start := r.off
	if err := r.skip(binarytype.Any, 0); err != nil {
		r.off = start
		return nil, err
	}
	return r.buf[start:r.off], nil
}

func (r *Reader) skip(expect binarytype.DeclaredType, depth int) error {
	if err := checkDepth(depth); err != nil {
		return err
	}
	code, err := r.ReadTypeCode()
	if err != nil {
		return err
	}
	if err := binarytype.CheckWireType(expect, code); err != nil {
		return err
	}
	d, err := binarytype.Lookup(code)
	if err != nil {
		return err
	}
	switch {
	case code == binarytype.Null:
		return nil
	case code == binarytype.String:
		_, err = r.ReadString()
		return err
	case code == binarytype.Map:
		n, err := r.readCount(2)
		if err != nil {
			return err
		}
		if _, err := r.ReadInt8(); err != nil {
			return err
		}
		for i := 0; i < 2*n; i++ {
			if err := r.skip(binarytype.Any, depth+1); err != nil {
				return err
			}
		}
		return nil
	case d.SelfTagging:
		elem, err := binarytype.ElementTypeFor(code)
		if err != nil {
			return err
		}
		n, err := r.readCount(1)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.skip(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case d.IsArray():
		elemSize, err := binarytype.Size(d.Element)
		if err != nil {
			return err
		}
		n, err := r.readCount(elemSize)
		if err != nil {
			return err
		}
		_, err = r.next(n * elemSize)
		return err
	default:
		_, err = r.next(d.Size)
		return err
	}
}
