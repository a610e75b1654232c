package login

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const cookieSeparator = "."

// CookieCodec signs session tokens for transport in a cookie.
//
// The encoded value is token.base64url(HMAC-SHA256(secret, token)). A valid
// signature only proves the gateway issued the token; the session store still
// decides whether it is live.
type CookieCodec struct {
	secret []byte
}

// NewCookieCodec creates a codec keyed with secret.
func NewCookieCodec(secret []byte) *CookieCodec {
	return &CookieCodec{secret: secret}
}

// Encode returns the signed cookie value for token.
func (c *CookieCodec) Encode(token string) string {
	return token + cookieSeparator + base64.RawURLEncoding.EncodeToString(c.sign(token))
}

// Decode verifies value and returns the token it carries.
// Unsigned, mis-signed and malformed values are all reported as not ok.
func (c *CookieCodec) Decode(value string) (string, bool) {
	idx := strings.LastIndex(value, cookieSeparator)
	if idx <= 0 {
		return "", false
	}

	token, encodedSig := value[:idx], value[idx+1:]

	// Strict rejects non-zero trailing bits, so every character of the signature matters
	receivedSig, err := base64.RawURLEncoding.Strict().DecodeString(encodedSig)
	if err != nil {
		return "", false
	}

	// Verify HMAC signature using constant-time comparison
	if !hmac.Equal(receivedSig, c.sign(token)) {
		return "", false
	}

	return token, true
}

func (c *CookieCodec) sign(token string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}
