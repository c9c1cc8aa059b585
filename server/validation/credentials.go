package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ponyo877/lobby/server/domain"
)

const (
	minPasswordLength = 12
	maxPasswordLength = 128
)

// ValidateUsername trims raw and checks it against the username rules.
func ValidateUsername(raw string) (string, error) {
	name := strings.TrimSpace(SanitizeText(raw))
	if name == "" {
		return "", domain.ValidationFailed("username is required", "username")
	}
	if !usernamePattern.MatchString(name) {
		return "", domain.ValidationFailed(fmt.Sprintf(errorMessageTemplates["username"], "username"), "username")
	}
	return name, nil
}

// ValidatePassword checks only the length policy. The error never includes
// the candidate password.
func ValidatePassword(raw string) error {
	n := utf8.RuneCountInString(raw)
	if n < minPasswordLength || n > maxPasswordLength {
		return domain.ValidationFailed("password must be between 12 and 128 characters", "password")
	}
	return nil
}
