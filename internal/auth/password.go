package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const totpIssuer = "certinv"

// HashPassword returns the bcrypt hash stored in the settings file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("certinv-unknown-user"), bcrypt.DefaultCost)
	return hash
})

// rejectUnknown spends one bcrypt comparison so an unknown email costs as
// much as a wrong password.
var rejectUnknown = func(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}

// checkPassword accepts a bcrypt hash or, for local development, a plain value.
func checkPassword(stored, password string) bool {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// GenerateTOTP creates a TOTP secret for email and its otpauth:// URL.
func GenerateTOTP(email string) (secret string, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: totpIssuer, AccountName: email})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func validTOTP(secret, code string) bool {
	if secret == "" {
		return true
	}
	return totp.Validate(strings.TrimSpace(code), secret)
}
