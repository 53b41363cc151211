package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"minidrive/models"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateNodeName checks a file or folder name. Names become archive path
// segments, so separators are rejected.
func ValidateNodeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", models.ErrValidation)
	}

	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255 characters)", models.ErrValidation)
	}

	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name contains invalid UTF-8 characters", models.ErrValidation)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("%w: name cannot be %q", models.ErrValidation, name)
	}

	invalidChars := []string{"<", ">", ":", "\"", "|", "?", "*", "\x00", "/", "\\"}
	for _, char := range invalidChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("%w: name contains invalid character: %q", models.ErrValidation, char)
		}
	}

	return nil
}

func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email cannot be empty", models.ErrValidation)
	}

	if !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", models.ErrValidation)
	}

	return nil
}
