package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_Format(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte("1700000000\n"))
	mac.Write(body)
	want := "t=1700000000,v1=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign("whsec", body, now))
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("payload")
	header := Sign("secret", body, now)

	require.NoError(t, Verify("secret", header, body, now.Add(time.Minute), DefaultTolerance))

	tests := []struct {
		name   string
		secret string
		header string
		body   []byte
		at     time.Time
		reason error
	}{
		{"wrong secret", "other", header, body, now, ErrMismatch},
		{"tampered body", "secret", header, []byte("payload!"), now, ErrMismatch},
		{"stale", "secret", header, body, now.Add(10 * time.Minute), ErrStale},
		{"missing timestamp", "secret", "v1=abc", body, now, ErrMalformed},
		{"missing digest", "secret", "t=1700000000", body, now, ErrMalformed},
		{"bad timestamp", "secret", "t=abc,v1=def", body, now, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.header, tt.body, tt.at, DefaultTolerance)
			var verr *VerificationError
			assert.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestVerify_AnyDigestMatches(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("x")
	header := "t=1700000000,v1=deadbeef,v1=" + Compute("new", now.Unix(), body)

	assert.NoError(t, Verify("new", header, body, now, 0))
}
