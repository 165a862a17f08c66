package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// verifySignature checks an "<algo>=<hex>" HMAC of body
func verifySignature(body []byte, signature string, secret string, algorithm string) bool {
	var expected string

	switch algorithm {
	case "sha256":
		expected = computeHMACSHA256(body, secret)
	case "sha1":
		expected = computeHMACSHA1(body, secret)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

func computeHMACSHA256(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(h.Sum(nil)))
}

func computeHMACSHA1(body []byte, secret string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write(body)
	return fmt.Sprintf("sha1=%s", hex.EncodeToString(h.Sum(nil)))
}

// Sign returns the signature header value a sender should attach to body
func Sign(body []byte, secret string) string {
	return computeHMACSHA256(body, secret)
}
