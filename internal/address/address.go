// Package address validates XOR content addresses and the optional path that
// may follow them.
package address

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid is returned when a candidate address fails validation.
var ErrInvalid = errors.New("invalid address format")

// pattern accepts a 64 character hex XOR name followed by zero or more path
// segments and an optional trailing slash.
var pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}(/[\w\-._~:@!$&'()*+,;=]+)*/?$`)

// Valid reports whether s is a structurally valid address.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// ValidChannel is Valid plus a traversal guard. Addresses submitted over the
// channel must never contain "..".
func ValidChannel(s string) bool {
	return !strings.Contains(s, "..") && Valid(s)
}

// Check returns ErrInvalid when s is not a valid channel address.
func Check(s string) error {
	if !ValidChannel(s) {
		return ErrInvalid
	}
	return nil
}
