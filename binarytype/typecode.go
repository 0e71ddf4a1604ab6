// Package binarytype is the type system of the grid's binary object format.
//
// Every request encoder and response decoder consults this package for the wire
// identity of a value: its one-byte type code, fixed width, nullability, and for
// arrays the element type and whether each element carries its own type code.
//
//	scalar  ──ArrayCodeFor──►  array
//	  ▲                          │
//	  └──────ElementTypeFor──────┘
//
// The tables are immutable and the package holds no mutable state, so every
// function here is safe for concurrent use.
package binarytype

import "fmt"

// TypeCode identifies one wire type. It is the first byte of every serialized object.
type TypeCode int8

const (
	Byte         TypeCode = 1
	Short        TypeCode = 2
	Integer      TypeCode = 3
	Long         TypeCode = 4
	Float        TypeCode = 5
	Double       TypeCode = 6
	Char         TypeCode = 7
	Boolean      TypeCode = 8
	String       TypeCode = 9
	Date         TypeCode = 11
	ByteArray    TypeCode = 12
	ShortArray   TypeCode = 13
	IntegerArray TypeCode = 14
	LongArray    TypeCode = 15
	FloatArray   TypeCode = 16
	DoubleArray  TypeCode = 17
	CharArray    TypeCode = 18
	BooleanArray TypeCode = 19
	StringArray  TypeCode = 20
	DateArray    TypeCode = 22
	Map          TypeCode = 25
	Null         TypeCode = 101
)

// Descriptor is the metadata of one TypeCode.
type Descriptor struct {
	Name     string
	Size     int  // fixed width in bytes, 0 if variable-length
	Nullable bool // NULL may stand in for a value of this type

	// Array codes only.
	Element     TypeCode
	SelfTagging bool // every element is preceded by its own type code
}

// IsArray reports whether the descriptor belongs to an array code.
func (d Descriptor) IsArray() bool {
	return d.Element != 0
}

// descriptors is indexed by TypeCode. Gaps (10, 21, 23, 24, ...) are codes of the
// format this client does not speak; their zero Descriptor has an empty Name.
var descriptors = [...]Descriptor{
	Byte:    {Name: "byte", Size: 1},
	Short:   {Name: "short", Size: 2},
	Integer: {Name: "integer", Size: 4},
	Long:    {Name: "long", Size: 8},
	Float:   {Name: "float", Size: 4},
	Double:  {Name: "double", Size: 8},
	Char:    {Name: "char", Size: 2},
	Boolean: {Name: "boolean", Size: 1},
	String:  {Name: "string", Nullable: true},
	Date:    {Name: "date", Size: 8, Nullable: true},

	ByteArray:    {Name: "byte array", Nullable: true, Element: Byte},
	ShortArray:   {Name: "short array", Nullable: true, Element: Short},
	IntegerArray: {Name: "integer array", Nullable: true, Element: Integer},
	LongArray:    {Name: "long array", Nullable: true, Element: Long},
	FloatArray:   {Name: "float array", Nullable: true, Element: Float},
	DoubleArray:  {Name: "double array", Nullable: true, Element: Double},
	CharArray:    {Name: "char array", Nullable: true, Element: Char},
	BooleanArray: {Name: "boolean array", Nullable: true, Element: Boolean},
	StringArray:  {Name: "string array", Nullable: true, Element: String, SelfTagging: true},
	DateArray:    {Name: "date array", Nullable: true, Element: Date, SelfTagging: true},

	Map:  {Name: "map", Nullable: true},
	Null: {Name: "null", Nullable: true},
}

// Codes lists every defined TypeCode in ascending order.
func Codes() []TypeCode {
	codes := make([]TypeCode, 0, 24)
	for i, d := range descriptors {
		if d.Name != "" {
			codes = append(codes, TypeCode(i))
		}
	}
	return codes
}

// Lookup returns the descriptor of c. An undefined code yields an *InternalError.
func Lookup(c TypeCode) (Descriptor, error) {
	if c < 0 || int(c) >= len(descriptors) || descriptors[c].Name == "" {
		return Descriptor{}, &InternalError{Op: "lookup", Code: c}
	}
	return descriptors[c], nil
}

// Defined reports whether c has a descriptor.
func (c TypeCode) Defined() bool {
	_, err := Lookup(c)
	return err == nil
}

// TypeCode lets a bare code be passed wherever a TypeRef is accepted.
func (c TypeCode) TypeCode() TypeCode {
	return c
}

func (c TypeCode) String() string {
	if d, err := Lookup(c); err == nil {
		return d.Name
	}
	return fmt.Sprintf("typecode(%d)", int8(c))
}

// Size returns the fixed wire width of c in bytes, or 0 for variable-length types.
func Size(c TypeCode) (int, error) {
	d, err := Lookup(c)
	if err != nil {
		return 0, err
	}
	return d.Size, nil
}

// TypeRef is satisfied by both TypeCode and DeclaredType.
type TypeRef interface {
	TypeCode() TypeCode
}

// Normalize unwraps a DeclaredType to its code. A bare code is returned as is.
// Any normalizes to the zero TypeCode, which is never defined.
func Normalize(t TypeRef) TypeCode {
	if t == nil {
		return 0
	}
	return t.TypeCode()
}

// Name returns a human-readable name for diagnostics.
func Name(t TypeRef) string {
	if d, ok := t.(DeclaredType); ok && !d.Declared() {
		return "any"
	}
	return Normalize(t).String()
}

// IsNullable reports whether the type behind t admits NULL.
func IsNullable(t TypeRef) (bool, error) {
	d, err := Lookup(Normalize(t))
	if err != nil {
		return false, err
	}
	return d.Nullable, nil
}
