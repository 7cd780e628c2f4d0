// File path: internal/extract/validate.go
package extract

import (
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`\D`)

// IsPhonePath reports whether a field path should be phone-validated.
func IsPhonePath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "phone") || strings.Contains(lower, "telephone")
}

// ValidPhone checks the country-code format rule: the value must start with
// "+" and carry at least 10 digits once every non-digit is stripped.
func ValidPhone(value string) bool {
	if !strings.HasPrefix(value, "+") {
		return false
	}
	return len(nonDigit.ReplaceAllString(value, "")) >= 10
}
