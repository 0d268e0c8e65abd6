package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/crypto"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage/memory"
)

func newService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, opts...), store
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func mustDestination(t *testing.T, svc *Service, name string) string {
	t.Helper()
	d, err := svc.CreateDestination(context.Background(), DestinationInput{
		Name: strPtr(name),
		URL:  strPtr("https://example.com/hooks"),
	})
	require.NoError(t, err)
	return d.ID
}

func TestCreateSource_Defaults(t *testing.T) {
	svc, _ := newService(t)

	source, err := svc.CreateSource(context.Background(), SourceInput{Name: " github "})
	require.NoError(t, err)

	assert.Equal(t, "github", source.Name)
	assert.Contains(t, source.ID, utils.PrefixSource)
	assert.NotEmpty(t, source.Token)
	assert.True(t, source.Enabled)
	assert.Equal(t, int64(1<<20), source.MaxBodyBytes)
	assert.Empty(t, source.IPAllowCIDRs)
}

func TestCreateSource_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateSource(ctx, SourceInput{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = svc.CreateSource(ctx, SourceInput{Name: "x", IPAllowCIDRs: []string{"not-a-cidr"}})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = svc.CreateSource(ctx, SourceInput{Name: "dup"})
	require.NoError(t, err)
	_, err = svc.CreateSource(ctx, SourceInput{Name: "dup"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "duplicate names are a validation error")
}

func TestCreateSource_NormalizesCIDRs(t *testing.T) {
	svc, _ := newService(t)

	source, err := svc.CreateSource(context.Background(), SourceInput{
		Name:         "partner",
		IPAllowCIDRs: []string{"10.1.2.3/8", "192.0.2.7"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7/32"}, source.IPAllowCIDRs)
}

func TestUpdateSource(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "a", IPAllowCIDRs: []string{"10.0.0.0/8"}})
	require.NoError(t, err)
	_, err = svc.CreateSource(ctx, SourceInput{Name: "b"})
	require.NoError(t, err)

	updated, err := svc.UpdateSource(ctx, source.ID, SourceUpdate{Enabled: boolPtr(false), IPAllowCIDRs: []string{}})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Empty(t, updated.IPAllowCIDRs)
	assert.Equal(t, source.Token, updated.Token)

	_, err = svc.UpdateSource(ctx, source.ID, SourceUpdate{Name: strPtr("b")})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = svc.UpdateSource(ctx, "src_missing", SourceUpdate{})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRotateSourceToken(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "rotating"})
	require.NoError(t, err)
	oldToken := source.Token

	rotated, err := svc.RotateSourceToken(ctx, source.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, rotated.Token)

	retired, err := store.IsTokenRetired(ctx, utils.HashToken(oldToken))
	require.NoError(t, err)
	assert.True(t, retired)

	_, err = svc.ResolveToken(ctx, oldToken)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnauthorized))

	resolved, err := svc.ResolveToken(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, source.ID, resolved.ID)
}

// failingUpdates rejects every source update.
type failingUpdates struct {
	*memory.Store
}

func (f failingUpdates) UpdateSource(ctx context.Context, source *models.Source) error {
	return errors.UnavailableError("store unavailable", nil)
}

func TestRotateSourceToken_UpdateFailureKeepsToken(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	source, err := New(store).CreateSource(ctx, SourceInput{Name: "stuck"})
	require.NoError(t, err)

	svc := New(failingUpdates{Store: store})
	_, err = svc.RotateSourceToken(ctx, source.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))

	retired, err := store.IsTokenRetired(ctx, utils.HashToken(source.Token))
	require.NoError(t, err)
	assert.False(t, retired, "the active token is only retired after the update")

	resolved, err := svc.ResolveToken(ctx, source.Token)
	require.NoError(t, err)
	assert.Equal(t, source.ID, resolved.ID)
}

func TestResolveToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	enabled, err := svc.CreateSource(ctx, SourceInput{Name: "on"})
	require.NoError(t, err)
	disabled, err := svc.CreateSource(ctx, SourceInput{Name: "off", Enabled: boolPtr(false)})
	require.NoError(t, err)

	got, err := svc.ResolveToken(ctx, enabled.Token)
	require.NoError(t, err)
	assert.Equal(t, enabled.ID, got.ID)

	for _, token := range []string{"", "bogus", disabled.Token} {
		_, err := svc.ResolveToken(ctx, token)
		assert.True(t, errors.IsType(err, errors.ErrTypeUnauthorized), "token %q", token)
	}
}

func TestDeleteSource_ReferencedByRoute(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "src"})
	require.NoError(t, err)
	dstID := mustDestination(t, svc, "dst")

	route, err := svc.CreateRoute(ctx, RouteInput{SourceID: source.ID, DestinationID: dstID})
	require.NoError(t, err)

	var deleted []string
	svc.OnDestinationDeleted(func(id string) { deleted = append(deleted, id) })

	err = svc.DeleteSource(ctx, source.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
	err = svc.DeleteDestination(ctx, dstID)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))

	require.NoError(t, svc.DeleteRoute(ctx, route.ID))
	require.NoError(t, svc.DeleteSource(ctx, source.ID))
	require.NoError(t, svc.DeleteDestination(ctx, dstID))
	assert.Equal(t, []string{dstID}, deleted, "hooks run only when the delete lands")

	err = svc.DeleteSource(ctx, source.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestCreateDestination_Defaults(t *testing.T) {
	svc, _ := newService(t)

	d, err := svc.CreateDestination(context.Background(), DestinationInput{
		Name:        strPtr("billing"),
		URL:         strPtr("https://billing.example.com/in"),
		MaxInflight: intPtr(2),
	})
	require.NoError(t, err)

	assert.Contains(t, d.ID, utils.PrefixDestination)
	assert.InDelta(t, 5.0, d.MaxRPS, 1e-9)
	assert.Equal(t, 10, d.Burst)
	assert.Equal(t, 2, d.MaxInflight, "explicit fields override only themselves")
	assert.Equal(t, 15, d.TimeoutSeconds)
	assert.Equal(t, 5, d.ConnectTimeoutSecs)
	assert.True(t, d.VerifyTLS)
	assert.InDelta(t, 0.5, d.BreakerFailureRatio, 1e-9)
	assert.Equal(t, 20, d.BreakerMinRequests)
	assert.Equal(t, 60, d.BreakerCooldownSecs)
	assert.False(t, d.HasSecret)
	assert.NotNil(t, d.Headers)
}

func TestCreateDestination_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   DestinationInput
	}{
		{"missing name", DestinationInput{URL: strPtr("https://a.example")}},
		{"missing url", DestinationInput{Name: strPtr("a")}},
		{"bad scheme", DestinationInput{Name: strPtr("a"), URL: strPtr("ftp://a.example")}},
		{"zero rps", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), MaxRPS: new(float64)}},
		{"zero burst", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), Burst: intPtr(0)}},
		{"zero inflight", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), MaxInflight: intPtr(0)}},
		{"timeout too long", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), TimeoutSeconds: intPtr(301)}},
		{"bad header", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), Headers: map[string]string{"bad header": "x"}}},
		{"case duplicate headers", DestinationInput{Name: strPtr("a"), URL: strPtr("https://a.example"), Headers: map[string]string{"X-A": "1", "x-a": "2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDestination(ctx, tt.in)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "got %v", err)
		})
	}
}

func TestDestinationSecret_Sealed(t *testing.T) {
	encryptor, err := crypto.NewConfigEncryptor("a-sufficiently-long-key")
	require.NoError(t, err)
	svc, store := newService(t, WithEncryptor(encryptor))
	ctx := context.Background()

	d, err := svc.CreateDestination(ctx, DestinationInput{
		Name:   strPtr("signed"),
		URL:    strPtr("https://signed.example"),
		Secret: strPtr("whsec_123"),
	})
	require.NoError(t, err)
	assert.Equal(t, "whsec_123", d.Secret)
	assert.True(t, d.HasSecret)

	raw, err := store.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, crypto.IsSealed(raw.Secret))
	assert.NotContains(t, raw.Secret, "whsec_123")

	got, err := svc.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "whsec_123", got.Secret)
}

func TestUpdateDestination(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	id := mustDestination(t, svc, "slow")

	updated, err := svc.UpdateDestination(ctx, id, DestinationInput{
		MaxRPS:  func() *float64 { v := 20.0; return &v }(),
		Headers: map[string]string{"Authorization": "Bearer x"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, updated.MaxRPS, 1e-9)
	assert.Equal(t, "Bearer x", updated.Headers["Authorization"])
	assert.Equal(t, "slow", updated.Name)

	list, err := svc.ListDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 20.0, list[0].MaxRPS, 1e-9)
}

func TestCreateRoute_ByName(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "stripe"})
	require.NoError(t, err)
	dstID := mustDestination(t, svc, "ledger")

	route, err := svc.CreateRoute(ctx, RouteInput{
		SourceName:      "stripe",
		DestinationName: "ledger",
		ContentTypeLike: strPtr("application/*"),
		Ord:             3,
	})
	require.NoError(t, err)
	assert.Equal(t, source.ID, route.SourceID)
	assert.Equal(t, dstID, route.DestinationID)
	assert.Equal(t, "application/*", *route.ContentTypeLike)
	assert.Equal(t, 3, route.Ord)

	routes, err := svc.ListRoutes(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestCreateRoute_Errors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "s"})
	require.NoError(t, err)

	_, err = svc.CreateRoute(ctx, RouteInput{SourceID: source.ID})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = svc.CreateRoute(ctx, RouteInput{SourceID: source.ID, DestinationID: "dst_missing"})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = svc.CreateRoute(ctx, RouteInput{SourceName: "nope", DestinationName: "nope"})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestPauseResumeRoute(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	source, err := svc.CreateSource(ctx, SourceInput{Name: "s"})
	require.NoError(t, err)
	dstID := mustDestination(t, svc, "d")
	route, err := svc.CreateRoute(ctx, RouteInput{SourceID: source.ID, DestinationID: dstID})
	require.NoError(t, err)

	paused, err := svc.PauseRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)

	got, err := svc.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.True(t, got.Paused)

	resumed, err := svc.ResumeRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
}
