package service

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/pairing-relay-go/internal/model"
	"github.com/openclaw/pairing-relay-go/internal/util"
)

func TestCodeGenerator(t *testing.T) {
	t.Run("generates fixed length codes from the alphabet", func(t *testing.T) {
		gen := NewCodeGenerator(nil)
		for i := 0; i < 500; i++ {
			code, err := gen.Generate()
			require.NoError(t, err)
			assert.Len(t, code, model.CodeLength)
			assert.True(t, util.IsValidCode(code), "unexpected code %q", code)
		}
	})

	t.Run("generates unique codes", func(t *testing.T) {
		gen := NewCodeGenerator(nil)
		codes := make(map[string]bool)
		for i := 0; i < 100; i++ {
			code, err := gen.Generate()
			require.NoError(t, err)
			assert.False(t, codes[code], "duplicate code generated: %s", code)
			codes[code] = true
		}
	})

	t.Run("maps bytes onto the alphabet", func(t *testing.T) {
		gen := NewCodeGenerator(bytes.NewReader([]byte{0, 1, 25, 26, 35, 36}))
		code, err := gen.Generate()
		require.NoError(t, err)
		assert.Equal(t, "ABZ09A", code)
	})

	t.Run("rejects biased bytes", func(t *testing.T) {
		// 252..255 would favour the first symbols and must be skipped.
		src := append([]byte{252, 253, 254, 255, 0, 0}, []byte{1, 2, 3, 4, 5, 6}...)
		gen := NewCodeGenerator(bytes.NewReader(src))
		code, err := gen.Generate()
		require.NoError(t, err)
		assert.Equal(t, "AABCDE", code)
	})

	t.Run("covers every symbol uniformly", func(t *testing.T) {
		var src []byte
		for i := 0; i < 252; i++ {
			src = append(src, byte(i))
		}
		gen := NewCodeGenerator(bytes.NewReader(src))

		counts := make(map[rune]int)
		for i := 0; i < 42; i++ {
			code, err := gen.Generate()
			require.NoError(t, err)
			for _, c := range code {
				counts[c]++
			}
		}

		assert.Len(t, counts, len(model.CodeAlphabet))
		for _, c := range model.CodeAlphabet {
			assert.Equal(t, 7, counts[c], "symbol %c", c)
		}
	})

	t.Run("propagates randomness failure", func(t *testing.T) {
		gen := NewCodeGenerator(failingReader{})
		_, err := gen.Generate()
		assert.Error(t, err)
	})
}

func TestCodeAlphabet(t *testing.T) {
	assert.Len(t, model.CodeAlphabet, 36)
	assert.Equal(t, strings.ToUpper(model.CodeAlphabet), model.CodeAlphabet)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy unavailable")
}
