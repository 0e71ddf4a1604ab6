package codec

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"gridclient/binarytype"
)

var (
	ErrUnsupportedType = errors.New("codec: unsupported Go type")
	ErrValueOutOfRange = errors.New("codec: value out of range for declared type")
)

// mapKindHash is the only map flavor this client writes.
const mapKindHash int8 = 1

// InferTypeCode returns the type code a value is written with when no type is declared.
func InferTypeCode(v any) (binarytype.TypeCode, error) {
	if binarytype.IsNil(v) {
		return binarytype.Null, nil
	}
	switch v.(type) {
	case int8, uint8:
		return binarytype.Byte, nil
	case int16:
		return binarytype.Short, nil
	case int32:
		return binarytype.Integer, nil
	case int, int64, uint, uint32, uint64:
		return binarytype.Long, nil
	case float32:
		return binarytype.Float, nil
	case float64:
		return binarytype.Double, nil
	case uint16:
		return binarytype.Char, nil
	case bool:
		return binarytype.Boolean, nil
	case string:
		return binarytype.String, nil
	case time.Time:
		return binarytype.Date, nil
	case []byte, []int8:
		return binarytype.ByteArray, nil
	case []int16:
		return binarytype.ShortArray, nil
	case []int32:
		return binarytype.IntegerArray, nil
	case []int64:
		return binarytype.LongArray, nil
	case []float32:
		return binarytype.FloatArray, nil
	case []float64:
		return binarytype.DoubleArray, nil
	case []uint16:
		return binarytype.CharArray, nil
	case []bool:
		return binarytype.BooleanArray, nil
	case []string, []*string:
		return binarytype.StringArray, nil
	case []time.Time, []*time.Time:
		return binarytype.DateArray, nil
	}
	if reflect.TypeOf(v).Kind() == reflect.Map {
		return binarytype.Map, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (w *Writer) writeObject(v any, t binarytype.DeclaredType, depth int) error {
	if err := checkDepth(depth); err != nil {
		return err
	}
	if binarytype.IsNil(v) {
		w.WriteNull()
		return nil
	}
	code := t.TypeCode()
	if !t.Declared() {
		var err error
		if code, err = InferTypeCode(v); err != nil {
			return err
		}
	}
	w.WriteTypeCode(code)
	return w.writeBody(v, code, depth)
}

func (w *Writer) writeBody(v any, code binarytype.TypeCode, depth int) error {
	switch code {
	case binarytype.Byte:
		n, err := toInt(v, code, math.MinInt8, math.MaxUint8)
		if err != nil {
			return err
		}
		w.WriteInt8(int8(n))
	case binarytype.Short:
		n, err := toInt(v, code, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		w.WriteInt16(int16(n))
	case binarytype.Integer:
		n, err := toInt(v, code, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		w.WriteInt32(int32(n))
	case binarytype.Long:
		n, err := toInt(v, code, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		w.WriteInt64(n)
	case binarytype.Char:
		n, err := toInt(v, code, 0, math.MaxUint16)
		if err != nil {
			return err
		}
		w.WriteUint16(uint16(n))
	case binarytype.Float:
		f, err := toFloat(v, code)
		if err != nil {
			return err
		}
		w.WriteFloat32(float32(f))
	case binarytype.Double:
		f, err := toFloat(v, code)
		if err != nil {
			return err
		}
		w.WriteFloat64(f)
	case binarytype.Boolean:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, code)
		}
		w.WriteBool(b)
	case binarytype.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, code)
		}
		w.WriteString(s)
	case binarytype.Date:
		d, ok := v.(time.Time)
		if !ok {
			return mismatch(v, code)
		}
		w.WriteDate(d)
	case binarytype.Map:
		return w.writeMap(v, depth)
	case binarytype.Null:
		// CheckValue already rejected non-nil values declared as Null.
		return &binarytype.TypeMismatchError{NonNull: true, Declared: binarytype.Null}
	default:
		if binarytype.UsesSelfTaggingElements(code) {
			return w.writeTaggedArray(v, code)
		}
		return w.writePrimitiveArray(v, code)
	}
	return nil
}

func (w *Writer) writePrimitiveArray(v any, code binarytype.TypeCode) error {
	if _, err := binarytype.ElementTypeFor(code); err != nil {
		return err
	}
	switch a := v.(type) {
	case []byte:
		if code != binarytype.ByteArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		w.WriteRaw(a)
	case []int8:
		if code != binarytype.ByteArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteInt8(e)
		}
	case []int16:
		if code != binarytype.ShortArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteInt16(e)
		}
	case []int32:
		if code != binarytype.IntegerArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteInt32(e)
		}
	case []int64:
		if code != binarytype.LongArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteInt64(e)
		}
	case []float32:
		if code != binarytype.FloatArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteFloat32(e)
		}
	case []float64:
		if code != binarytype.DoubleArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteFloat64(e)
		}
	case []uint16:
		if code != binarytype.CharArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteUint16(e)
		}
	case []bool:
		if code != binarytype.BooleanArray {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteBool(e)
		}
	default:
		return mismatch(v, code)
	}
	return nil
}

func (w *Writer) writeTaggedArray(v any, code binarytype.TypeCode) error {
	elem, err := binarytype.ElementTypeFor(code)
	if err != nil {
		return err
	}
	switch a := v.(type) {
	case []string:
		if elem.TypeCode() != binarytype.String {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteStringObject(e)
		}
	case []*string:
		if elem.TypeCode() != binarytype.String {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			if e == nil {
				w.WriteNull()
				continue
			}
			w.WriteStringObject(*e)
		}
	case []time.Time:
		if elem.TypeCode() != binarytype.Date {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			w.WriteTypeCode(binarytype.Date)
			w.WriteDate(e)
		}
	case []*time.Time:
		if elem.TypeCode() != binarytype.Date {
			return mismatch(v, code)
		}
		w.WriteInt32(int32(len(a)))
		for _, e := range a {
			if e == nil {
				w.WriteNull()
				continue
			}
			w.WriteTypeCode(binarytype.Date)
			w.WriteDate(*e)
		}
	default:
		return mismatch(v, code)
	}
	return nil
}

func (w *Writer) writeMap(v any, depth int) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return mismatch(v, binarytype.Map)
	}
	w.WriteInt32(int32(rv.Len()))
	w.WriteInt8(mapKindHash)
	iter := rv.MapRange()
	for iter.Next() {
		if err := w.writeObject(iter.Key().Interface(), binarytype.Any, depth+1); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		if err := w.writeObject(iter.Value().Interface(), binarytype.Any, depth+1); err != nil {
			return fmt.Errorf("map value: %w", err)
		}
	}
	return nil
}

// mismatch reports a Go value whose inferred code differs from the declared one.
func mismatch(v any, declared binarytype.TypeCode) error {
	observed, err := InferTypeCode(v)
	if err != nil {
		return err
	}
	return &binarytype.TypeMismatchError{Observed: observed, Declared: declared}
}

func toInt(v any, code binarytype.TypeCode, lo, hi int64) (int64, error) {
	rv := reflect.ValueOf(v)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d as %s", ErrValueOutOfRange, u, code)
		}
		n = int64(u)
	default:
		return 0, mismatch(v, code)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d as %s", ErrValueOutOfRange, n, code)
	}
	return n, nil
}

func toFloat(v any, code binarytype.TypeCode) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, mismatch(v, code)
}
