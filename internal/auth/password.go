package auth

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NewSalt returns a fresh per-user salt.
func NewSalt() string {
	return uuid.NewString()
}

// HashPassword hashes plaintext password concatenated with salt using bcrypt.
func HashPassword(password, salt string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password+salt), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password and salt with the stored hash.
func VerifyPassword(hash, password, salt string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password+salt))
}

// CheckPassword verifies a user's password and reports Incorrect(password) on mismatch.
func CheckPassword(u *User, password string) error {
	if u == nil || VerifyPassword(u.Password, password, u.Salt) != nil {
		return Incorrect("password")
	}
	return nil
}
