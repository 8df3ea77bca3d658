package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "AB12CD", NormalizeCode("  ab12cd\n"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{"letters and digits", "AB12CD", true},
		{"all digits", "000000", true},
		{"lower case is not normalized", "ab12cd", false},
		{"too short", "AB12C", false},
		{"too long", "AB12CDE", false},
		{"dash", "AB-2CD", false},
		{"empty", "", false},
		{"non ascii", "AB12CÉ", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidCode(tc.code))
		})
	}
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "AB****", MaskCode("AB12CD"))
	assert.Equal(t, "******", MaskCode("A"))
}

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString(""))
	assert.Nil(t, OptionalString("  "))

	got := OptionalString(" phone ")
	if assert.NotNil(t, got) {
		assert.Equal(t, "phone", *got)
	}
}
