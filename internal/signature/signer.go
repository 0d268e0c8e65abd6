package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Header carries the delivery signature.
const Header = "X-Webhook-Signature"

// DefaultTolerance is the accepted clock skew for Verify.
const DefaultTolerance = 5 * time.Minute

// Compute returns the hex HMAC-SHA256 of timestamp and body.
func Compute(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the header value for body signed at now.
func Sign(secret string, body []byte, now time.Time) string {
	ts := now.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + Compute(secret, ts, body)
}

// Parse splits a header value into its timestamp and v1 signatures.
func Parse(value string) (int64, []string, error) {
	var (
		ts      int64
		haveTS  bool
		digests []string
	)
	for _, part := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, reject(ErrMalformed, "invalid timestamp "+strconv.Quote(val))
			}
			ts, haveTS = parsed, true
		case "v1":
			digests = append(digests, val)
		}
	}
	if !haveTS {
		return 0, nil, reject(ErrMalformed, "missing timestamp")
	}
	if len(digests) == 0 {
		return 0, nil, reject(ErrMalformed, "missing v1 signature")
	}
	return ts, digests, nil
}

// Verify checks a header value against body. Any v1 entry may match, which
// lets receivers accept signatures across a secret rotation.
func Verify(secret, value string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, digests, err := Parse(value)
	if err != nil {
		return err
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < -tolerance || skew > tolerance {
			return reject(ErrStale, "")
		}
	}

	expected := []byte(Compute(secret, ts, body))
	for _, digest := range digests {
		if hmac.Equal(expected, []byte(digest)) {
			return nil
		}
	}
	return reject(ErrMismatch, "")
}
