package core

// Secret wraps a credential so it cannot leak through logging or serialization.
// String, GoString, JSON and text marshaling all print a placeholder.
//
//	tok := NewSecret("eyJhbGciOi...")
//	fmt.Println(tok)   // [REDACTED]
//	tok.Expose()       // eyJhbGciOi...
type Secret struct {
	value string
}

// NewSecret creates a Secret from a raw credential.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s.value == "" {
		return "[EMPTY]"
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string {
	return "core.Secret{" + s.String() + "}"
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Expose returns the raw credential. Only use it to build auth headers or to
// hand the value to a TokenStore.
func (s Secret) Expose() string {
	return s.value
}

// IsEmpty reports whether no credential is held.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}
