package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "pairing:session:AB12CD", PairingSessionKey("AB12CD"))
	assert.Equal(t, "ratelimit:claim:10.0.0.1", RateLimitKey("claim", "10.0.0.1"))
}

func TestNewClient(t *testing.T) {
	t.Run("rejects malformed url", func(t *testing.T) {
		_, err := NewClient("not a url")
		assert.Error(t, err)
	})
}
