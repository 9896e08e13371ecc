// Password hashing and the password policy.
//
// HASH FORMAT:
// The string stored in users.password is the full bcrypt output. It carries
// its own version, cost and salt, so a later cost change does not
// invalidate existing rows:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost
//	 version
//
// Registration and password reset check MeetsPasswordPolicy through the
// validator before calling Hash. Sign-in only calls Verify, so accounts
// created under an older policy can still log in.
package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordMismatch is returned by Verify when the password is wrong.
	// Any other Verify error means the stored hash itself is unusable.
	ErrPasswordMismatch = errors.New("auth: invalid password")

	// ErrPasswordTooLong is returned by Hash for input bcrypt would truncate.
	ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
)

const (
	// MinPasswordLength is the shortest password MeetsPasswordPolicy accepts.
	MinPasswordLength = 8

	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72

	// defaultCost takes roughly 250ms per hash on current server hardware.
	defaultCost = 12
)

// PasswordService hashes and checks credential-account passwords.
type PasswordService struct {
	cost int
}

// NewPasswordService uses the production cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest uses a custom cost. Tests pass bcrypt.MinCost
// so a registration round trip stays in the low milliseconds.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt encoding of plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares plaintext with a stored hash in constant time.
//
//	err == nil                          → match
//	errors.Is(err, ErrPasswordMismatch) → wrong password
//	anything else                       → corrupt or foreign hash
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
}

// MeetsPasswordPolicy reports whether plaintext is acceptable for a new
// password: at least MinPasswordLength characters, with an uppercase
// letter, a lowercase letter, a digit and a special character, and no
// whitespace anywhere.
func MeetsPasswordPolicy(plaintext string) bool {
	var n int
	var upper, lower, digit, special bool
	for _, r := range plaintext {
		n++
		switch {
		case unicode.IsSpace(r):
			return false
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	return n >= MinPasswordLength && upper && lower && digit && special
}
