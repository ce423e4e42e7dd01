package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner_SignQueryString(t *testing.T) {
	s := Signer{APIKey: "test-api-key", SecretKey: "test-secret-key"}

	sig := s.Sign("1700000000000", "5000", "category=linear&symbol=BTCUSDT")

	assert.Equal(t, "1148adb74ee2e9ab6cfe708c54fe35093d86bd2ccef6504a1d3a4078000cc3dd", sig)
}

func TestSigner_SignLiteralBody(t *testing.T) {
	s := Signer{APIKey: "test-api-key", SecretKey: "test-secret-key"}

	// POST signatures cover the exact body bytes, not a re-serialization.
	body := `{"category":"linear","symbol":"BTCUSDT","side":"Buy","orderType":"Market","qty":"0.5"}`
	sig := s.Sign("1700000000000", "5000", body)

	assert.Equal(t, "ce279f2a46bceb00ce5c50e7607c325cc76a07ef1a6e2c837ac23d73822f06e4", sig)
}

func TestSigner_SignEmptyPayload(t *testing.T) {
	s := Signer{APIKey: "test-api-key", SecretKey: "test-secret-key"}

	sig := s.Sign("1700000000000", "5000", "")

	assert.Equal(t, "fe7ee2e237a881bf242e7622c62e219454d348368a9c1e89407ccecc3670dcdf", sig)
}

func TestCanonicalQuery_Sorted(t *testing.T) {
	q := CanonicalQuery(map[string]string{
		"symbol":   "BTCUSDT",
		"category": "linear",
		"limit":    "50",
	})

	// Keys must come out sorted regardless of map iteration order.
	assert.Equal(t, "category=linear&limit=50&symbol=BTCUSDT", q)
}

func TestCanonicalQuery_Empty(t *testing.T) {
	assert.Equal(t, "", CanonicalQuery(nil))
	assert.Equal(t, "", CanonicalQuery(map[string]string{}))
}
