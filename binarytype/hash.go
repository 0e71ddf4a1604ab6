package binarytype

import "unicode/utf16"

// HashCode is the 32-bit string hash the grid uses to derive type, field and cache
// identifiers from names: h = 31*h + u over the UTF-16 code units u of s, with
// int32 wraparound at every step. It must equal the value the node computes for
// the same name, so s is hashed exactly as given.
func HashCode(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			h = 31*h + int32(c)
			continue
		}
		// Slow path for the rest of the string once a non-ASCII byte shows up.
		for _, u := range utf16.Encode([]rune(s[i:])) {
			h = 31*h + int32(u)
		}
		break
	}
	return h
}
