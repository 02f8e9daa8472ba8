package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Sign computes the hex-encoded HMAC-SHA256 signature over the canonical
// query encoding of params. url.Values.Encode sorts keys alphabetically,
// which is the canonical form the exchange verifies against.
func Sign(secret string, params url.Values) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
