package binarytype

// DeclaredType is the static contract a caller attaches to a key or value: either
// "no contract" (Any, infer from the runtime value) or exactly one TypeCode.
type DeclaredType struct {
	code     TypeCode
	declared bool
}

// Any is the DeclaredType that enforces nothing.
var Any = DeclaredType{}

// Declare returns a DeclaredType over c.
func Declare(c TypeCode) DeclaredType {
	return DeclaredType{code: c, declared: true}
}

// Wrap is idempotent: a DeclaredType (Any included) comes back unchanged and a bare
// code is declared. A nil TypeRef wraps to Any.
func Wrap(t TypeRef) DeclaredType {
	switch v := t.(type) {
	case nil:
		return Any
	case DeclaredType:
		return v
	default:
		return Declare(v.TypeCode())
	}
}

// Declared reports whether t carries a type code.
func (t DeclaredType) Declared() bool {
	return t.declared
}

// TypeCode returns the declared code, or 0 for Any.
func (t DeclaredType) TypeCode() TypeCode {
	return t.code
}

func (t DeclaredType) String() string {
	return Name(t)
}
