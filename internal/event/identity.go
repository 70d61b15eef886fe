package event

import (
	"fmt"
	"strings"
)

// Identity is an opaque participant or operator address.
// Hex addresses are case-folded so "0xAb.." and "0xab.." name the same holder.
type Identity string

func NewIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty identity")
	}
	if strings.ContainsAny(s, ": \t\r\n") {
		return "", fmt.Errorf("identity %q contains a reserved character", s)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = strings.ToLower(s)
	}
	return Identity(s), nil
}

func (id Identity) String() string {
	return string(id)
}
