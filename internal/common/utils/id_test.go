package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	a := NewID(PrefixSource)
	b := NewID(PrefixSource)
	assert.True(t, strings.HasPrefix(a, "src_"))
	assert.NotEqual(t, a, b)
}

func TestNewEventID_IsV7(t *testing.T) {
	id, err := uuid.Parse(NewEventID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestNewToken(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, TokenBytes)

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestGenerateRequestID(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req-"))
}
