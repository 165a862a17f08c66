package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"on_create"}`)
	secret := "my-secret-key"

	t.Run("should accept a matching sha256 signature", func(t *testing.T) {
		assert.True(t, verifySignature(body, Sign(body, secret), secret, "sha256"))
	})

	t.Run("should accept a matching sha1 signature", func(t *testing.T) {
		assert.True(t, verifySignature(body, computeHMACSHA1(body, secret), secret, "sha1"))
	})

	t.Run("should reject tampered input", func(t *testing.T) {
		valid := Sign(body, secret)
		assert.False(t, verifySignature(body, "sha256=invalid", secret, "sha256"))
		assert.False(t, verifySignature(body, valid, "wrong-secret", "sha256"))
		assert.False(t, verifySignature([]byte("different"), valid, secret, "sha256"))
	})

	t.Run("should reject unknown algorithms", func(t *testing.T) {
		assert.False(t, verifySignature(body, Sign(body, secret), secret, "md5"))
	})

	t.Run("should prefix the algorithm", func(t *testing.T) {
		sig := Sign([]byte("test body"), "secret")
		assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	})
}
