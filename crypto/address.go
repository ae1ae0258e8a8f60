package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 encoded address.
type AddressPrefix string

const (
	// AccountPrefix marks user and collaborator accounts.
	AccountPrefix AddressPrefix = "stb"
	// ModulePrefix marks protocol-owned module accounts (pools, treasuries).
	ModulePrefix AddressPrefix = "stbm"
)

// Address is a 20-byte account identifier with a bech32 prefix. The zero
// value is the null address and compares unequal to every real account.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress wraps a raw 20-byte payload with the supplied prefix.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}
}

// MustParse decodes a bech32 address string and panics on failure. Intended
// for static configuration values validated elsewhere.
func MustParse(addr string) Address {
	decoded, err := Parse(addr)
	if err != nil {
		panic(err)
	}
	return decoded
}

// Parse decodes a bech32 address string.
func Parse(addr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address payload must be 20 bytes, got %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns the raw 20-byte payload. Nil for the zero address.
func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all-zero.
func (a Address) IsZero() bool {
	if len(a.bytes) == 0 {
		return true
	}
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports byte equality of two addresses regardless of prefix casing.
func (a Address) Equal(other Address) bool {
	return a.prefix == other.prefix && bytes.Equal(a.bytes, other.bytes)
}

// Key returns a stable map key for the address.
func (a Address) Key() string {
	return string(a.prefix) + "/" + string(a.bytes)
}
