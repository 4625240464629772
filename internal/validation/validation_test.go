package validation

import (
	"strings"
	"testing"

	"bulletin/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"Valid", "test_user123", false},
		{"Short Valid", "bob", false},
		{"Too Short", "tu", true},
		{"Too Long", strings.Repeat("a", 33), true},
		{"Illegal Chars", "user@123", true},
		{"Starts Dash", "-user", true},
		{"Ends Underscore", "user_", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.True(t, models.IsCode(err, models.CodeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		title   string
		content string
		wantErr bool
	}{
		{"Valid", "T", "C", false},
		{"Blank Title", "   ", "C", true},
		{"Title At Limit", strings.Repeat("é", MaxTitleLen), "C", false},
		{"Title Too Long", strings.Repeat("a", MaxTitleLen+1), "C", true},
		{"Empty Content", "T", "", true},
		{"Content Too Long", "T", strings.Repeat("a", MaxContentLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePost(tt.title, tt.content)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateComment(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateComment("nice"))
	assert.Error(t, ValidateComment(" \n"))
	assert.Error(t, ValidateComment(strings.Repeat("x", MaxCommentLen+1)))
}

func TestValidateProfile(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateProfile(models.UserProfileInput{Username: "alice", DisplayName: "Alice A."}))

	err := ValidateProfile(models.UserProfileInput{Username: "al", DisplayName: "Alice"})
	assert.ErrorContains(t, err, "Username")

	err = ValidateProfile(models.UserProfileInput{Username: "alice", DisplayName: "  "})
	assert.ErrorContains(t, err, "Display name is required")

	err = ValidateProfile(models.UserProfileInput{Username: "alice", DisplayName: strings.Repeat("ü", MaxDisplayNameLen+1)})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}
