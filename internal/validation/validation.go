// Package validation holds request-boundary checks for the gateway:
// product URLs and task identifiers, plus a string sanitizer.
package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/worthit/pipeline/internal/errors"
)

var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProductURL validates the `url` field of a POST /analyze body.
func ValidateProductURL(urlStr string) error {
	if urlStr == "" {
		return errors.New(errors.Validation, "url is required")
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return errors.NewWithDetails(errors.Validation, "invalid URL format", map[string]string{"error": err.Error()})
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New(errors.Validation, "URL must use http or https protocol")
	}

	if parsed.Host == "" {
		return errors.New(errors.Validation, "URL must include a valid host")
	}

	return nil
}

// ValidateTaskID checks a task id's shape before a store lookup.
func ValidateTaskID(id string) error {
	if id == "" || !taskIDPattern.MatchString(id) {
		return errors.New(errors.Validation, "task id must contain only alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// SanitizeString strips control characters from user-supplied text
// before it is persisted or echoed back to a chat channel.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, input)
}
