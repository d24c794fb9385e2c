package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestVerifySignatureHex(t *testing.T) {
	body := []byte(`{"event_id":"evt-1"}`)
	sum := hex.EncodeToString(sign("s3cret", body))

	assert.True(t, VerifySignature("s3cret", body, sum, false))
	assert.True(t, VerifySignature("s3cret", body, "sha256="+sum, false))
	assert.False(t, VerifySignature("other", body, sum, false))
	assert.False(t, VerifySignature("s3cret", []byte(`tampered`), sum, false))
}

func TestVerifySignatureBase64(t *testing.T) {
	body := []byte(`{"event_id":"evt-2"}`)
	sum := base64.StdEncoding.EncodeToString(sign("s3cret", body))
	assert.True(t, VerifySignature("s3cret", body, sum, false))
}

func TestVerifySignatureUnsigned(t *testing.T) {
	body := []byte(`{}`)
	assert.True(t, VerifySignature("", body, "", true))
	assert.False(t, VerifySignature("", body, "", false))
	assert.False(t, VerifySignature("s3cret", body, "", true))
}
