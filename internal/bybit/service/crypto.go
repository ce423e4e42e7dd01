package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Signer computes Bybit v5 request signatures.
type Signer struct {
	APIKey    string
	SecretKey string
}

// Sign returns the hex HMAC-SHA256 of timestamp + apiKey + recvWindow + payload.
// For GET requests the payload is the canonical query string; for POST requests
// it must be the exact JSON body bytes sent on the wire, never a
// re-serialization.
func (s Signer) Sign(timestamp, recvWindow, payload string) string {
	message := timestamp + s.APIKey + recvWindow + payload
	h := hmac.New(sha256.New, []byte(s.SecretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalQuery builds the sorted, URL-encoded query string that GET
// signatures cover. url.Values.Encode sorts by key.
func CanonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		values.Add(k, v)
	}
	return values.Encode()
}
