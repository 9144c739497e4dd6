package session

import (
	"math/rand"
)

// codeAlphabet deliberately drops 0/O and 1/I so codes read unambiguously
// when shared out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength is the length of a session code.
const CodeLength = 3

// GenerateCode returns a random session code. Uniqueness is the caller's
// problem; CreateSession checks for an existing session and retries.
func GenerateCode() string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
