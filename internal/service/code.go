package service

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/openclaw/pairing-relay-go/internal/model"
)

// CodeSource produces candidate pairing codes. Uniqueness is the store's job.
type CodeSource interface {
	Generate() (string, error)
}

// CodeGenerator draws fixed-length codes uniformly from model.CodeAlphabet.
type CodeGenerator struct {
	random io.Reader
}

// NewCodeGenerator reads randomness from random, or crypto/rand when nil.
func NewCodeGenerator(random io.Reader) *CodeGenerator {
	if random == nil {
		random = rand.Reader
	}
	return &CodeGenerator{random: random}
}

// Bytes at or above this bound are rejected so every symbol is equally likely.
var codeByteBound = 256 - 256%len(model.CodeAlphabet)

func (g *CodeGenerator) Generate() (string, error) {
	code := make([]byte, 0, model.CodeLength)
	buf := make([]byte, model.CodeLength)

	for len(code) < model.CodeLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("read randomness: %w", err)
		}
		for _, b := range buf {
			if int(b) >= codeByteBound {
				continue
			}
			code = append(code, model.CodeAlphabet[int(b)%len(model.CodeAlphabet)])
			if len(code) == model.CodeLength {
				break
			}
		}
	}

	return string(code), nil
}
