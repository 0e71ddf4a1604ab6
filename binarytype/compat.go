package binarytype

import "reflect"

// CheckValue runs before a value is serialized. With no declared type there is
// nothing to enforce. A nil value needs a nullable type, and a type declared as
// Null accepts nothing but nil.
func CheckValue(value any, t DeclaredType) error {
	if !t.Declared() {
		return nil
	}
	if IsNil(value) {
		nullable, err := IsNullable(t)
		if err != nil {
			return err
		}
		if !nullable {
			return &TypeMismatchError{Observed: Null, Declared: t.TypeCode()}
		}
		return nil
	}
	if t.TypeCode() == Null {
		return &TypeMismatchError{NonNull: true, Declared: Null}
	}
	return nil
}

// CheckWireType runs after a type code is read off the wire. The observed code must
// equal the declared one exactly, or be Null when the declared type is nullable.
func CheckWireType(t DeclaredType, observed TypeCode) error {
	if !t.Declared() {
		return nil
	}
	if observed == Null {
		nullable, err := IsNullable(t)
		if err != nil {
			return err
		}
		if !nullable {
			return &TypeMismatchError{Observed: Null, Declared: t.TypeCode()}
		}
		return nil
	}
	if observed != t.TypeCode() {
		return &TypeMismatchError{Observed: observed, Declared: t.TypeCode()}
	}
	return nil
}

// IsNil reports whether v is an untyped nil or a nil pointer, slice, map or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
