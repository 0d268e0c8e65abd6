package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "webhook-relay/internal/common/errors"
	"webhook-relay/internal/config"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsRegistered("fake"))

	sentinel := errors.New("opened")
	r.Register("fake", func(cfg *config.Config) (Storage, error) { return nil, sentinel })
	r.Register("alpha", func(cfg *config.Config) (Storage, error) { return nil, nil })

	assert.True(t, r.IsRegistered("fake"))
	assert.Equal(t, []string{"alpha", "fake"}, r.GetAvailableTypes())

	_, err := r.Create("fake", &config.Config{})
	assert.ErrorIs(t, err, sentinel)

	_, err = r.Create("missing", &config.Config{})
	assert.Error(t, err)
}

func TestNewStorage_Unsupported(t *testing.T) {
	_, err := NewStorage(&config.Config{DatabaseType: "mongo"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultEventLimit, ClampLimit(0))
	assert.Equal(t, DefaultEventLimit, ClampLimit(-5))
	assert.Equal(t, 50, ClampLimit(50))
	assert.Equal(t, MaxEventLimit, ClampLimit(5000))
}
