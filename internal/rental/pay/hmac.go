package pay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func mac(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(mac(body, secret))
}

// VerifyHMAC reports whether signature is the hex HMAC-SHA256 of body.
func VerifyHMAC(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(body, secret), got)
}
