package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxMessageSize = 4 * 1024 * 1024 // 4MB - largest inbound WebSocket frame
	MaxFileSize    = 2 * 1024 * 1024 // 2MB - largest file accepted from an editor save
	MaxCommandSize = 16 * 1024       // 16KB - single command line
)

// String length limits
const (
	MaxIDLength       = 128
	MaxPathLength     = 1024
	MaxLanguageLength = 32
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// LanguagePattern allows lowercase editor language identifiers
	LanguagePattern = regexp.MustCompile(`^[a-z0-9+#._-]*$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Null bytes break both SQL drivers and host paths
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an identifier such as a session ID
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidatePath validates a client supplied file path
func ValidatePath(p, fieldName string) error {
	if err := ValidateString(p, fieldName, 1, MaxPathLength, true); err != nil {
		return err
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("%s must not contain '..'", fieldName)
		}
	}
	return nil
}

// ValidateLanguage validates an optional editor language hint
func ValidateLanguage(language string) error {
	if err := ValidateString(language, "language", 0, MaxLanguageLength, false); err != nil {
		return err
	}
	if !LanguagePattern.MatchString(language) {
		return fmt.Errorf("language contains invalid characters")
	}
	return nil
}

// ValidateContent checks an editor payload against the file size limit
func ValidateContent(content string) error {
	if len(content) > MaxFileSize {
		return fmt.Errorf("content size %d bytes exceeds maximum %d bytes", len(content), MaxFileSize)
	}
	return nil
}

// ValidateCommand validates a raw command line before it reaches the router
func ValidateCommand(command string) error {
	if len(command) > MaxCommandSize {
		return fmt.Errorf("command size %d bytes exceeds maximum %d bytes", len(command), MaxCommandSize)
	}
	if strings.Contains(command, "\x00") {
		return fmt.Errorf("command contains invalid characters")
	}
	return nil
}
