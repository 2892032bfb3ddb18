package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a keyed HMAC signature header of the form
// "sha256=<hex>" against the raw request body. Sources without a configured
// secret always verify. The comparison is constant time.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if secret == "" {
		return true
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computedSignatureHex := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(computedSignatureHex), []byte(parts[1]))
}
