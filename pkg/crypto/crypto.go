package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// HashPIN returns a bcrypt hash of the supplied staff PIN.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPIN compares the hashed PIN with the plaintext candidate.
func VerifyPIN(hashedPIN, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPIN), []byte(pin)) == nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

const pinDigits = "0123456789"

// GeneratePIN produces a random numeric PIN of the requested length, used when a
// manager override issues a temporary credential.
func GeneratePIN(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}

	out := make([]byte, length)
	for i, b := range buffer {
		out[i] = pinDigits[int(b)%len(pinDigits)]
	}
	return string(out), nil
}
