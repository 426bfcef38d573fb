package storedvalue

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// codeAlphabet excludes visually confusable characters (0/O, 1/I/L) so codes
// survive being read over the phone or typed from a printed card.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength = 16
	pinLength  = 6

	pinSaltBytes  = 16
	pinHashBytes  = 32
	pinIterations = 10000
)

// GenerateCode draws a fixed-length redemption code from the unambiguous
// alphabet using a cryptographically secure source.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var b strings.Builder
	b.Grow(codeLength)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// GeneratePIN produces a numeric PIN of the standard length.
func GeneratePIN() (string, error) {
	buf := make([]byte, pinLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	digits := make([]byte, pinLength)
	for i, c := range buf {
		digits[i] = '0' + c%10
	}
	return string(digits), nil
}

// ValidatePIN enforces the accepted shape for caller-supplied PINs.
func ValidatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return ErrPINFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: numeric only", ErrPINFormat)
		}
	}
	return nil
}

// HashPIN derives a salted PBKDF2-SHA256 digest, encoded as salt:hash hex.
// The plaintext PIN is never persisted.
func HashPIN(pin string) (string, error) {
	salt := make([]byte, pinSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	digest := pbkdf2.Key([]byte(pin), salt, pinIterations, pinHashBytes, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest), nil
}

// VerifyPIN re-derives the digest for the candidate PIN and compares it in
// constant time.
func VerifyPIN(pin, stored string) bool {
	salt, digest, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(pin), saltBytes, pinIterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
