package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"investpay/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Signature"

func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature fails closed: a missing secret or signature never verifies.
func VerifySignature(secret, body []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if len(secret) == 0 || signature == "" {
		return errors.ErrUnverifiedCallback
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return errors.ErrUnverifiedCallback
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return errors.ErrUnverifiedCallback
	}
	return nil
}
