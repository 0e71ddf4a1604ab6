package binarytype

// ArrayCodeFor maps a scalar code to the code of an array of it.
func ArrayCodeFor(scalar TypeCode) (TypeCode, error) {
	switch scalar {
	case Byte:
		return ByteArray, nil
	case Short:
		return ShortArray, nil
	case Integer:
		return IntegerArray, nil
	case Long:
		return LongArray, nil
	case Float:
		return FloatArray, nil
	case Double:
		return DoubleArray, nil
	case Char:
		return CharArray, nil
	case Boolean:
		return BooleanArray, nil
	case String:
		return StringArray, nil
	case Date:
		return DateArray, nil
	default:
		return 0, &InternalError{Op: "array code", Code: scalar}
	}
}

// ElementTypeFor returns the declared element type of an array code.
func ElementTypeFor(array TypeCode) (DeclaredType, error) {
	d, err := Lookup(array)
	if err != nil {
		return Any, err
	}
	if !d.IsArray() {
		return Any, &InternalError{Op: "element type", Code: array}
	}
	return Declare(d.Element), nil
}

// UsesSelfTaggingElements reports whether each element of an array code is written
// with its own type code. Only string and date arrays do; primitive arrays rely on
// the element type alone. Undefined codes report false.
func UsesSelfTaggingElements(array TypeCode) bool {
	d, err := Lookup(array)
	return err == nil && d.SelfTagging
}
