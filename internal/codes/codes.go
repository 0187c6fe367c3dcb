// Package codes generates the one-time handshake codes recited at pickup and return.
package codes

import "math/rand"

const Length = 6

// Generate returns a random code in 100000-999999. The code deters fraud; it is not a secret
// with cryptographic strength.
func Generate() string {
	n := 100000 + rand.Intn(900000)
	return itoa6(n)
}

// Valid reports whether s is exactly six ASCII digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func itoa6(n int) string {
	var b [Length]byte
	for i := Length - 1; i >= 0; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[:])
}
