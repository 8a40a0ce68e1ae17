package models

import (
	"fmt"
	"strings"
)

// NormalizeAddress canonicalizes a binary address for use as a key:
// lowercase hex, no 0x prefix, left-padded with zeros to 8 digits.
// Addresses longer than 8 digits are kept as-is after lowercasing.
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(strings.ToLower(addr))
	a = strings.TrimPrefix(a, "0x")
	if len(a) < 8 {
		a = strings.Repeat("0", 8-len(a)) + a
	}
	return a
}

// FormatAddress renders a normalized address for display.
func FormatAddress(addr string) string {
	return "0x" + NormalizeAddress(addr)
}

// ValidAddress reports whether addr parses as a hex address.
func ValidAddress(addr string) bool {
	a := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(addr)), "0x")
	if a == "" {
		return false
	}
	for _, c := range a {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// HookEntry is one row of the project's exported hook table: an address
// bound to a class and function name.
type HookEntry struct {
	Address  string
	Class    string
	Function string
}

// Key returns the hook's function identity.
func (h HookEntry) Key() FunctionKey {
	return FunctionKey{Address: h.Address, Class: h.Class, Function: h.Function}
}

func (h HookEntry) String() string {
	return fmt.Sprintf("%s %s", FormatAddress(h.Address), h.Key().QualifiedName())
}
