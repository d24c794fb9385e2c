package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 signature over the raw body.
// Gateways disagree on encoding, so both hex and base64 digests are
// accepted, with or without the "sha256=" prefix.
//
// An empty secret passes only when allowUnsigned is set; production
// wiring never sets it.
func VerifySignature(secret string, body []byte, header string, allowUnsigned bool) bool {
	if secret == "" {
		return allowUnsigned
	}
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil && hmac.Equal(decoded, sum) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil && hmac.Equal(decoded, sum) {
		return true
	}
	return false
}
