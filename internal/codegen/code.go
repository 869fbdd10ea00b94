// Package codegen generates the one-shot session code used to authenticate
// a local-mode receiver to a sender.
package codegen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/arjunv/filepipe/pkg/models"
)

// Generate draws 3 bytes from a cryptographic RNG and renders them as
// XXX-XXX, six uppercase hex characters with a dash after the third.
func Generate() (string, error) {
	var raw [3]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", models.NewError(models.ErrRNGUnavailable, err)
	}
	hex := fmt.Sprintf("%02X%02X%02X", raw[0], raw[1], raw[2])
	return hex[:3] + "-" + hex[3:], nil
}

// Normalize upper-cases a user-supplied code for case-insensitive input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
