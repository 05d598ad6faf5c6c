package utils

import (
	"math/rand"
	"os"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// ContainsString returns true iff the provided string slice hay contains
// string needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// StringIntersects returns true iff the two slices share at least one element.
func StringIntersects(a []string, b []string) bool {
	for _, s := range a {
		if ContainsString(b, s) {
			return true
		}
	}
	return false
}

// RandomAlphabetString generates a random lowercase string of length n.
func RandomAlphabetString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// IsProdEnv returns true iff the current process runs with the production
// environment config.
func IsProdEnv() bool {
	return os.Getenv("DIGESTMUX_ENV") == "prod"
}
