// Package registry owns the relay configuration: sources, destinations and
// the routes between them. All writes are validated here before they reach
// storage.
package registry

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/netutil"
	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/common/validation"
	"webhook-relay/internal/crypto"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

// Service is the registry.
type Service struct {
	store     storage.RegistryStore
	encryptor *crypto.ConfigEncryptor
	logger    logging.Logger
	now       func() time.Time

	mu        sync.RWMutex
	onDeleted []func(destinationID string)
}

// Option configures a Service.
type Option func(*Service)

// WithEncryptor seals destination secrets at rest.
func WithEncryptor(encryptor *crypto.ConfigEncryptor) Option {
	return func(s *Service) { s.encryptor = encryptor }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a registry over store.
func New(store storage.RegistryStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Field{Key: "component", Value: "registry"})
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Sources

func normalizeCIDRs(cidrs []string) ([]string, error) {
	prefixes, err := netutil.ParsePrefixes(cidrs)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return out, nil
}

func (s *Service) newUniqueToken(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		token, err := utils.NewToken()
		if err != nil {
			return "", errors.InternalError("failed to generate token", err)
		}
		retired, err := s.store.IsTokenRetired(ctx, utils.HashToken(token))
		if err != nil {
			return "", err
		}
		if !retired {
			return token, nil
		}
	}
	return "", errors.InternalError("could not generate an unused token", nil)
}

func (s *Service) ensureSourceNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.store.GetSourceByName(ctx, name)
	if err == nil && existing.ID != selfID {
		return errors.ValidationError(fmt.Sprintf("source name %q is already in use", name))
	}
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}
	return nil
}

// CreateSource validates in and stores a new source with a fresh token.
func (s *Service) CreateSource(ctx context.Context, in SourceInput) (*models.Source, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	cidrs, err := normalizeCIDRs(in.IPAllowCIDRs)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSourceNameFree(ctx, in.Name, ""); err != nil {
		return nil, err
	}

	token, err := s.newUniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	source := &models.Source{
		ID:           utils.NewID(utils.PrefixSource),
		Name:         in.Name,
		Token:        token,
		MaxBodyBytes: in.MaxBodyBytes,
		IPAllowCIDRs: cidrs,
		Enabled:      true,
		CreatedAt:    s.timestamp(),
	}
	if source.MaxBodyBytes == 0 {
		source.MaxBodyBytes = models.DefaultMaxBodyBytes
	}
	if in.Enabled != nil {
		source.Enabled = *in.Enabled
	}

	if err := s.store.CreateSource(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info("Source created",
		logging.Field{Key: "source_id", Value: source.ID},
		logging.Field{Key: "name", Value: source.Name},
	)
	return source, nil
}

// GetSource returns a source by id.
func (s *Service) GetSource(ctx context.Context, id string) (*models.Source, error) {
	return s.store.GetSource(ctx, id)
}

// ListSources returns all sources in creation order.
func (s *Service) ListSources(ctx context.Context) ([]*models.Source, error) {
	return s.store.ListSources(ctx)
}

// UpdateSource applies the set fields of in.
func (s *Service) UpdateSource(ctx context.Context, id string, in SourceUpdate) (*models.Source, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	source, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, errors.ValidationError("field 'name' is required")
		}
		if err := s.ensureSourceNameFree(ctx, name, id); err != nil {
			return nil, err
		}
		source.Name = name
	}
	if in.MaxBodyBytes != nil {
		source.MaxBodyBytes = *in.MaxBodyBytes
	}
	if in.IPAllowCIDRs != nil {
		cidrs, err := normalizeCIDRs(in.IPAllowCIDRs)
		if err != nil {
			return nil, err
		}
		source.IPAllowCIDRs = cidrs
	}
	if in.Enabled != nil {
		source.Enabled = *in.Enabled
	}

	if err := s.store.UpdateSource(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// RotateSourceToken issues a new token and retires the old one.
func (s *Service) RotateSourceToken(ctx context.Context, id string) (*models.Source, error) {
	source, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	token, err := s.newUniqueToken(ctx)
	if err != nil {
		return nil, err
	}
	previous := source.Token
	source.Token = token
	if err := s.store.UpdateSource(ctx, source); err != nil {
		return nil, err
	}

	// The old token is dead once the update lands; retiring it only keeps
	// it from being issued again.
	if err := s.store.RetireToken(ctx, utils.HashToken(previous)); err != nil {
		s.logger.Error("Failed to retire rotated token", err, logging.Field{Key: "source_id", Value: id})
	}

	s.logger.Info("Source token rotated", logging.Field{Key: "source_id", Value: id})
	return source, nil
}

// DeleteSource removes a source that no route references.
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	if _, err := s.store.GetSource(ctx, id); err != nil {
		return err
	}
	routes, err := s.store.ListRoutes(ctx, storage.RouteFilter{SourceID: id})
	if err != nil {
		return err
	}
	if len(routes) > 0 {
		return errors.ConflictError(fmt.Sprintf("source is referenced by %d route(s)", len(routes)))
	}
	return s.store.DeleteSource(ctx, id)
}

// ResolveToken maps a presented token to its enabled source. Every source
// is compared so timing does not reveal how far a guess got.
func (s *Service) ResolveToken(ctx context.Context, token string) (*models.Source, error) {
	if token == "" {
		return nil, errors.UnauthorizedError("missing source token")
	}
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}

	presented := []byte(token)
	var match *models.Source
	for _, source := range sources {
		if subtle.ConstantTimeCompare(presented, []byte(source.Token)) == 1 {
			match = source
		}
	}

	if match == nil || !match.Enabled {
		return nil, errors.UnauthorizedError("unknown source token")
	}
	return match, nil
}

// Destinations

func (s *Service) ensureDestinationNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.store.GetDestinationByName(ctx, name)
	if err == nil && existing.ID != selfID {
		return errors.ValidationError(fmt.Sprintf("destination name %q is already in use", name))
	}
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	seen := make(map[string]string, len(headers))
	for name := range headers {
		if strings.TrimSpace(name) == "" {
			return errors.ValidationError("header names must not be empty")
		}
		canonical := models.CanonicalHeader(name)
		if other, dup := seen[canonical]; dup {
			return errors.ValidationError(fmt.Sprintf("headers %q and %q differ only by case", other, name))
		}
		seen[canonical] = name
	}
	return nil
}

func (s *Service) sealSecret(secret string) (string, error) {
	if s.encryptor == nil || secret == "" {
		return secret, nil
	}
	return s.encryptor.Seal(secret)
}

func (s *Service) openSecret(d *models.Destination) (*models.Destination, error) {
	if s.encryptor != nil && d.Secret != "" {
		plain, err := s.encryptor.Open(d.Secret)
		if err != nil {
			return nil, errors.InternalError("failed to decrypt destination secret", err)
		}
		d.Secret = plain
	}
	d.HasSecret = d.Secret != ""
	return d, nil
}

func (s *Service) validateDestination(in DestinationInput) error {
	if err := validation.ValidateStruct(in); err != nil {
		return err
	}
	return validateHeaders(in.Headers)
}

// checkLimits guards the merged record; limits must stay positive so the
// limiter can always make progress.
func checkLimits(d *models.Destination) error {
	switch {
	case d.MaxRPS <= 0:
		return errors.ValidationError("field 'max_rps' must be greater than 0").WithContext("field", "max_rps")
	case d.Burst < 1:
		return errors.ValidationError("field 'burst' must be at least 1").WithContext("field", "burst")
	case d.MaxInflight < 1:
		return errors.ValidationError("field 'max_inflight' must be at least 1").WithContext("field", "max_inflight")
	case d.BreakerFailureRatio <= 0 || d.BreakerFailureRatio > 1:
		return errors.ValidationError("field 'breaker_failure_ratio' must be in (0, 1]").WithContext("field", "breaker_failure_ratio")
	}
	return nil
}

// CreateDestination validates in and stores a new destination.
func (s *Service) CreateDestination(ctx context.Context, in DestinationInput) (*models.Destination, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, errors.ValidationError("field 'name' is required").WithContext("field", "name")
	}
	if in.URL == nil || *in.URL == "" {
		return nil, errors.ValidationError("field 'url' is required").WithContext("field", "url")
	}
	if err := s.validateDestination(in); err != nil {
		return nil, err
	}

	d := defaultDestination()
	in.apply(d)
	d.Name = strings.TrimSpace(d.Name)
	if err := checkLimits(d); err != nil {
		return nil, err
	}
	if err := s.ensureDestinationNameFree(ctx, d.Name, ""); err != nil {
		return nil, err
	}

	if in.Secret != nil {
		sealed, err := s.sealSecret(*in.Secret)
		if err != nil {
			return nil, err
		}
		d.Secret = sealed
	}

	d.ID = utils.NewID(utils.PrefixDestination)
	d.CreatedAt = s.timestamp()
	d.UpdatedAt = d.CreatedAt

	if err := s.store.CreateDestination(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Destination created",
		logging.Field{Key: "destination_id", Value: d.ID},
		logging.Field{Key: "name", Value: d.Name},
	)
	return s.openSecret(d)
}

// GetDestination returns a destination with its secret decrypted.
func (s *Service) GetDestination(ctx context.Context, id string) (*models.Destination, error) {
	d, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.openSecret(d)
}

// ListDestinations returns all destinations in creation order.
func (s *Service) ListDestinations(ctx context.Context) ([]*models.Destination, error) {
	list, err := s.store.ListDestinations(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if _, err := s.openSecret(d); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// UpdateDestination applies the set fields of in. Limits take effect on the
// next admission; calls already in flight keep their slots.
func (s *Service) UpdateDestination(ctx context.Context, id string, in DestinationInput) (*models.Destination, error) {
	if err := s.validateDestination(in); err != nil {
		return nil, err
	}
	d, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}

	in.apply(d)
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, errors.ValidationError("field 'name' is required")
	}
	if err := checkLimits(d); err != nil {
		return nil, err
	}
	if in.Name != nil {
		if err := s.ensureDestinationNameFree(ctx, d.Name, id); err != nil {
			return nil, err
		}
	}
	if in.Secret != nil {
		sealed, err := s.sealSecret(*in.Secret)
		if err != nil {
			return nil, err
		}
		d.Secret = sealed
	}
	d.UpdatedAt = s.timestamp()

	if err := s.store.UpdateDestination(ctx, d); err != nil {
		return nil, err
	}
	return s.openSecret(d)
}

// DeleteDestination removes a destination that no route references.
func (s *Service) DeleteDestination(ctx context.Context, id string) error {
	if _, err := s.store.GetDestination(ctx, id); err != nil {
		return err
	}
	routes, err := s.store.ListRoutes(ctx, storage.RouteFilter{DestinationID: id})
	if err != nil {
		return err
	}
	if len(routes) > 0 {
		return errors.ConflictError(fmt.Sprintf("destination is referenced by %d route(s)", len(routes)))
	}
	if err := s.store.DeleteDestination(ctx, id); err != nil {
		return err
	}

	s.mu.RLock()
	hooks := s.onDeleted
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(id)
	}
	return nil
}

// OnDestinationDeleted registers fn to run after a destination is deleted.
func (s *Service) OnDestinationDeleted(fn func(destinationID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeleted = append(s.onDeleted, fn)
}

// Routes

func (s *Service) resolveSource(ctx context.Context, id, name string) (*models.Source, error) {
	switch {
	case id != "":
		return s.store.GetSource(ctx, id)
	case name != "":
		return s.store.GetSourceByName(ctx, name)
	default:
		return nil, errors.ValidationError("source_id or source_name is required")
	}
}

func (s *Service) resolveDestination(ctx context.Context, id, name string) (*models.Destination, error) {
	switch {
	case id != "":
		return s.store.GetDestination(ctx, id)
	case name != "":
		return s.store.GetDestinationByName(ctx, name)
	default:
		return nil, errors.ValidationError("destination_id or destination_name is required")
	}
}

// CreateRoute binds a source to a destination.
func (s *Service) CreateRoute(ctx context.Context, in RouteInput) (*models.Route, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	source, err := s.resolveSource(ctx, in.SourceID, in.SourceName)
	if err != nil {
		return nil, err
	}
	destination, err := s.resolveDestination(ctx, in.DestinationID, in.DestinationName)
	if err != nil {
		return nil, err
	}

	var pattern *string
	if in.ContentTypeLike != nil {
		trimmed := strings.TrimSpace(*in.ContentTypeLike)
		pattern = &trimmed
	}

	route := &models.Route{
		ID:              utils.NewID(utils.PrefixRoute),
		SourceID:        source.ID,
		DestinationID:   destination.ID,
		ContentTypeLike: pattern,
		Ord:             in.Ord,
		Paused:          in.Paused,
		CreatedAt:       s.timestamp(),
	}
	if err := s.store.CreateRoute(ctx, route); err != nil {
		return nil, err
	}

	s.logger.Info("Route created",
		logging.Field{Key: "route_id", Value: route.ID},
		logging.Field{Key: "source_id", Value: route.SourceID},
		logging.Field{Key: "destination_id", Value: route.DestinationID},
	)
	return route, nil
}

// GetRoute returns a route by id.
func (s *Service) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	return s.store.GetRoute(ctx, id)
}

// ListRoutes returns the routes of sourceID, or all routes when it is empty.
func (s *Service) ListRoutes(ctx context.Context, sourceID string) ([]*models.Route, error) {
	return s.store.ListRoutes(ctx, storage.RouteFilter{SourceID: sourceID})
}

// PauseRoute stops a route from matching.
func (s *Service) PauseRoute(ctx context.Context, id string) (*models.Route, error) {
	return s.setPaused(ctx, id, true)
}

// ResumeRoute lets a paused route match again.
func (s *Service) ResumeRoute(ctx context.Context, id string) (*models.Route, error) {
	return s.setPaused(ctx, id, false)
}

func (s *Service) setPaused(ctx context.Context, id string, paused bool) (*models.Route, error) {
	route, err := s.store.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}
	route.Paused = paused
	if err := s.store.UpdateRoute(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// DeleteRoute removes a route.
func (s *Service) DeleteRoute(ctx context.Context, id string) error {
	return s.store.DeleteRoute(ctx, id)
}
