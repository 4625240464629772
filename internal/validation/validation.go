// Package validation checks user input before it reaches the remote service.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"bulletin/internal/models"
)

const (
	MaxTitleLen       = 300
	MaxContentLen     = 50000
	MaxCommentLen     = 10000
	MaxDisplayNameLen = 64
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_-]{1,30})[A-Za-z0-9]$`)

// ValidateUsername accepts 3 to 32 letters, digits, '_' or '-', starting and
// ending with a letter or digit.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return models.NewValidationError("Username must be 3-32 characters of letters, digits, '_' or '-' and start and end with a letter or digit")
	}
	return nil
}

func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.NewValidationError("Display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return models.NewValidationError(fmt.Sprintf("Display name too long (max %d characters)", MaxDisplayNameLen))
	}
	return nil
}

func ValidateProfile(in models.UserProfileInput) error {
	if err := ValidateUsername(in.Username); err != nil {
		return err
	}
	return ValidateDisplayName(in.DisplayName)
}

func ValidatePost(title, content string) error {
	if strings.TrimSpace(title) == "" {
		return models.NewValidationError("Title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return models.NewValidationError("Title too long (max 300 characters)")
	}
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return models.NewValidationError("Content too long (max 50000 characters)")
	}
	return nil
}

func ValidateComment(text string) error {
	if strings.TrimSpace(text) == "" {
		return models.NewValidationError("Comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLen {
		return models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return nil
}
