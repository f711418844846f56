package auth

import (
	"regexp"
	"strings"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	passwordPattern = regexp.MustCompile(`^[A-Za-z0-9@#$%^&+=]{8,20}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@#$%^&+=_]{5,20}$`)
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)
	codePattern     = regexp.MustCompile(`^[0-9]{5}$`)
)

// DefaultPageLimit is used when a list request carries no limit.
const DefaultPageLimit = 100

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(field, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", Invalid(field, field+" is required")
	}
	if !emailPattern.MatchString(email) {
		return "", Invalid(field, "value is not a valid email address")
	}
	return email, nil
}

// ValidatePassword checks password shape.
func ValidatePassword(field, password string) error {
	if password == "" {
		return Invalid(field, field+" is required")
	}
	if !passwordPattern.MatchString(password) {
		return Invalid(field, field+" must be 8 to 20 characters of letters, digits or @#$%^&+=")
	}
	return nil
}

// NormalizeUsername trims and checks username shape.
func NormalizeUsername(field, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", Invalid(field, field+" is required")
	}
	if !usernamePattern.MatchString(username) {
		return "", Invalid(field, field+" must be 5 to 20 characters of letters, digits or @#$%^&+=_")
	}
	return username, nil
}

// NormalizeName trims and checks a permission or group name.
func NormalizeName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Invalid(field, field+" is required")
	}
	if !namePattern.MatchString(name) {
		return "", Invalid(field, field+" must be 3 to 30 characters of letters, digits or _")
	}
	return name, nil
}

// ValidateCode checks a challenge code.
func ValidateCode(field, code string) error {
	if !codePattern.MatchString(code) {
		return Invalid(field, field+" must be 5 digits")
	}
	return nil
}

// RequireID checks that an identifier is present.
func RequireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", Invalid(field, field+" is required")
	}
	return id, nil
}

// Page validates list pagination. A zero limit selects DefaultPageLimit.
func Page(skip, limit int) (int, int, error) {
	if skip < 0 {
		return 0, 0, Invalid("skip", "skip must be greater than or equal to 0")
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 1 {
		return 0, 0, Invalid("limit", "limit must be greater than or equal to 1")
	}
	return skip, limit, nil
}
