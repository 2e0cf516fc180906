// Package id generates the identifier flavors used by the relay.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const hexUpper = "0123456789ABCDEF"

// Venue returns a 21-character nanoid using an alphanumeric alphabet.
func Venue() string {
	id, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 21)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// Command returns a UUIDv4 used to correlate a dispatched command
// with its command_result.
func Command() string {
	return uuid.NewString()
}

// Alert returns a UUIDv4 alert id. The first 8 characters double as
// the /ack_XXXXXXXX acknowledgement token.
func Alert() string {
	return uuid.NewString()
}

// RegistrationCode returns a 6-character uppercase hex code that TDs
// type into /register.
func RegistrationCode() string {
	code, err := gonanoid.Generate(hexUpper, 6)
	if err != nil {
		panic(fmt.Sprintf("generate registration code: %v", err))
	}
	return code
}

// GuestToken returns a token of the form GUEST-xxxxxxxx.
func GuestToken() string {
	suffix, err := gonanoid.Generate("0123456789abcdef", 8)
	if err != nil {
		panic(fmt.Sprintf("generate guest token: %v", err))
	}
	return "GUEST-" + suffix
}

// SwapKey returns a 16-character hex key identifying a pending
// on-call swap request.
func SwapKey() string {
	key, err := gonanoid.Generate("0123456789abcdef", 16)
	if err != nil {
		panic(fmt.Sprintf("generate swap key: %v", err))
	}
	return key
}
