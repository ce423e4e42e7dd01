// Package hash wraps bcrypt for the operator login. The stored hash comes
// from OPERATOR_PASSWORD_HASH; HashPassword exists so a deployment can mint
// one without external tooling.
package hash

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a bcrypt hash suitable for OPERATOR_PASSWORD_HASH.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPassword reports whether a login attempt matches the stored hash.
func CheckPassword(hashed, attempt string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(attempt)) == nil
}
