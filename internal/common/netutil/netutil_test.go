package netutil

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefixes(t *testing.T) {
	prefixes, err := ParsePrefixes([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "2001:db8::/32", "10.1.2.3/16"})
	require.NoError(t, err)
	require.Len(t, prefixes, 4)
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())
	assert.Equal(t, "10.1.0.0/16", prefixes[3].String())

	_, err = ParsePrefixes([]string{"10.0.0.0/99"})
	assert.Error(t, err)
	_, err = ParsePrefixes([]string{"nope"})
	assert.Error(t, err)
}

func TestAllowed(t *testing.T) {
	prefixes, err := ParsePrefixes([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	assert.True(t, Allowed(prefixes, netip.MustParseAddr("10.9.8.7")))
	assert.True(t, Allowed(prefixes, netip.MustParseAddr("::ffff:10.9.8.7")))
	assert.False(t, Allowed(prefixes, netip.MustParseAddr("11.0.0.1")))
	assert.False(t, Allowed(prefixes, netip.Addr{}))
	assert.True(t, Allowed(nil, netip.MustParseAddr("11.0.0.1")))
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/ingest/x", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", ClientAddr(r, false).String())
	assert.Equal(t, "198.51.100.1", ClientAddr(r, true).String())

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientAddr(r, true).String())

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "198.51.100.2", ClientAddr(r, true).String())

	r.RemoteAddr = "bad"
	assert.False(t, ClientAddr(r, false).IsValid())
}
