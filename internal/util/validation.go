package util

import (
	"strings"

	"github.com/openclaw/pairing-relay-go/internal/model"
)

// NormalizeCode trims and upper-cases user-entered codes so that a code
// typed on a phone keyboard matches the stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code is already in normalized form and drawn
// from the pairing alphabet.
func IsValidCode(code string) bool {
	if len(code) != model.CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(model.CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// MaskCode hides the tail of a code for log lines about rejected claims.
func MaskCode(code string) string {
	if len(code) <= 2 {
		return "******"
	}
	return code[:2] + "****"
}

// OptionalString maps empty input to nil for nullable columns.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
