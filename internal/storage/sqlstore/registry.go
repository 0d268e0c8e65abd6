package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const sourceColumns = `id, name, token, max_body_bytes, ip_allow_cidrs, enabled, created_at`

func scanSource(row rowScanner) (*models.Source, error) {
	var (
		source    models.Source
		cidrs     string
		createdAt int64
	)
	if err := row.Scan(&source.ID, &source.Name, &source.Token, &source.MaxBodyBytes,
		&cidrs, &source.Enabled, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cidrs), &source.IPAllowCIDRs); err != nil {
		return nil, errors.InternalError("corrupt ip_allow_cidrs", err)
	}
	source.CreatedAt = fromMicros(createdAt)
	return &source, nil
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.InternalError("failed to encode column", err)
	}
	return string(data), nil
}

func (s *Store) CreateSource(ctx context.Context, source *models.Source) error {
	cidrs, err := encodeJSON(nonNilStrings(source.IPAllowCIDRs))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		source.ID, source.Name, source.Token, source.MaxBodyBytes, cidrs, source.Enabled, toMicros(source.CreatedAt))
	return wrapErr("create source", err)
}

func (s *Store) GetSource(ctx context.Context, id string) (*models.Source, error) {
	source, err := scanSource(s.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "source", "get source")
	}
	return source, nil
}

func (s *Store) GetSourceByName(ctx context.Context, name string) (*models.Source, error) {
	source, err := scanSource(s.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name))
	if err != nil {
		return nil, notFoundOr(err, "source", "get source")
	}
	return source, nil
}

func (s *Store) ListSources(ctx context.Context) ([]*models.Source, error) {
	rows, err := s.query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY seq`)
	if err != nil {
		return nil, wrapErr("list sources", err)
	}
	defer rows.Close()

	out := make([]*models.Source, 0)
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, wrapErr("list sources", err)
		}
		out = append(out, source)
	}
	return out, wrapErr("list sources", rows.Err())
}

func (s *Store) UpdateSource(ctx context.Context, source *models.Source) error {
	cidrs, err := encodeJSON(nonNilStrings(source.IPAllowCIDRs))
	if err != nil {
		return err
	}
	result, err := s.exec(ctx, `UPDATE sources SET name = ?, token = ?, max_body_bytes = ?, ip_allow_cidrs = ?, enabled = ?
		WHERE id = ?`,
		source.Name, source.Token, source.MaxBodyBytes, cidrs, source.Enabled, source.ID)
	if err != nil {
		return wrapErr("update source", err)
	}
	return requireAffected(result, "source")
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete source", err)
	}
	return requireAffected(result, "source")
}

func (s *Store) RetireToken(ctx context.Context, tokenHash string) error {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM retired_tokens WHERE token_hash = ?`, tokenHash).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return wrapErr("retire token", err)
	}
	_, err = s.exec(ctx, `INSERT INTO retired_tokens (token_hash, retired_at) VALUES (?, ?)`,
		tokenHash, toMicros(nowUTC()))
	return wrapErr("retire token", err)
}

func (s *Store) IsTokenRetired(ctx context.Context, tokenHash string) (bool, error) {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM retired_tokens WHERE token_hash = ?`, tokenHash).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("check retired token", err)
	}
	return true, nil
}

const destinationColumns = `id, name, url, headers, max_rps, burst, max_inflight, append_path, secret,
	timeout_s, connect_timeout_s, verify_tls, breaker_failure_ratio, breaker_min_requests,
	breaker_cooldown_s, created_at, updated_at`

func scanDestination(row rowScanner) (*models.Destination, error) {
	var (
		d                    models.Destination
		headers              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.URL, &headers, &d.MaxRPS, &d.Burst, &d.MaxInflight,
		&d.AppendPath, &d.Secret, &d.TimeoutSeconds, &d.ConnectTimeoutSecs, &d.VerifyTLS,
		&d.BreakerFailureRatio, &d.BreakerMinRequests, &d.BreakerCooldownSecs,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &d.Headers); err != nil {
		return nil, errors.InternalError("corrupt destination headers", err)
	}
	d.HasSecret = d.Secret != ""
	d.CreatedAt = fromMicros(createdAt)
	d.UpdatedAt = fromMicros(updatedAt)
	return &d, nil
}

func destinationArgs(d *models.Destination) ([]interface{}, error) {
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := encodeJSON(headers)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		d.Name, d.URL, encoded, d.MaxRPS, d.Burst, d.MaxInflight, d.AppendPath, d.Secret,
		d.TimeoutSeconds, d.ConnectTimeoutSecs, d.VerifyTLS, d.BreakerFailureRatio,
		d.BreakerMinRequests, d.BreakerCooldownSecs,
	}, nil
}

func (s *Store) CreateDestination(ctx context.Context, destination *models.Destination) error {
	args, err := destinationArgs(destination)
	if err != nil {
		return err
	}
	args = append([]interface{}{destination.ID}, args...)
	args = append(args, toMicros(destination.CreatedAt), toMicros(destination.UpdatedAt))
	_, err = s.exec(ctx, `INSERT INTO destinations (`+destinationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return wrapErr("create destination", err)
}

func (s *Store) GetDestination(ctx context.Context, id string) (*models.Destination, error) {
	d, err := scanDestination(s.queryRow(ctx, `SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "destination", "get destination")
	}
	return d, nil
}

func (s *Store) GetDestinationByName(ctx context.Context, name string) (*models.Destination, error) {
	d, err := scanDestination(s.queryRow(ctx, `SELECT `+destinationColumns+` FROM destinations WHERE name = ?`, name))
	if err != nil {
		return nil, notFoundOr(err, "destination", "get destination")
	}
	return d, nil
}

func (s *Store) ListDestinations(ctx context.Context) ([]*models.Destination, error) {
	rows, err := s.query(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY seq`)
	if err != nil {
		return nil, wrapErr("list destinations", err)
	}
	defer rows.Close()

	out := make([]*models.Destination, 0)
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, wrapErr("list destinations", err)
		}
		out = append(out, d)
	}
	return out, wrapErr("list destinations", rows.Err())
}

func (s *Store) UpdateDestination(ctx context.Context, destination *models.Destination) error {
	args, err := destinationArgs(destination)
	if err != nil {
		return err
	}
	args = append(args, toMicros(destination.UpdatedAt), destination.ID)
	result, err := s.exec(ctx, `UPDATE destinations SET name = ?, url = ?, headers = ?, max_rps = ?, burst = ?,
		max_inflight = ?, append_path = ?, secret = ?, timeout_s = ?, connect_timeout_s = ?, verify_tls = ?,
		breaker_failure_ratio = ?, breaker_min_requests = ?, breaker_cooldown_s = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return wrapErr("update destination", err)
	}
	return requireAffected(result, "destination")
}

func (s *Store) DeleteDestination(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete destination", err)
	}
	return requireAffected(result, "destination")
}

const routeColumns = `id, source_id, destination_id, content_type_like, ord, paused, seq, created_at`

func scanRoute(row rowScanner) (*models.Route, error) {
	var (
		route     models.Route
		pattern   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&route.ID, &route.SourceID, &route.DestinationID, &pattern,
		&route.Ord, &route.Paused, &route.Seq, &createdAt); err != nil {
		return nil, err
	}
	if pattern.Valid {
		route.ContentTypeLike = &pattern.String
	}
	route.CreatedAt = fromMicros(createdAt)
	return &route, nil
}

func routePattern(route *models.Route) sql.NullString {
	if route.ContentTypeLike == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *route.ContentTypeLike, Valid: true}
}

func (s *Store) CreateRoute(ctx context.Context, route *models.Route) error {
	err := s.queryRow(ctx, `INSERT INTO routes (id, source_id, destination_id, content_type_like, ord, paused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING seq`,
		route.ID, route.SourceID, route.DestinationID, routePattern(route), route.Ord, route.Paused,
		toMicros(route.CreatedAt)).Scan(&route.Seq)
	return wrapErr("create route", err)
}

func (s *Store) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	route, err := scanRoute(s.queryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "route", "get route")
	}
	return route, nil
}

func (s *Store) ListRoutes(ctx context.Context, filter storage.RouteFilter) ([]*models.Route, error) {
	query := `SELECT ` + routeColumns + ` FROM routes WHERE 1 = 1`
	var args []interface{}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.DestinationID != "" {
		query += ` AND destination_id = ?`
		args = append(args, filter.DestinationID)
	}
	query += ` ORDER BY seq`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list routes", err)
	}
	defer rows.Close()

	out := make([]*models.Route, 0)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, wrapErr("list routes", err)
		}
		out = append(out, route)
	}
	return out, wrapErr("list routes", rows.Err())
}

func (s *Store) UpdateRoute(ctx context.Context, route *models.Route) error {
	result, err := s.exec(ctx, `UPDATE routes SET source_id = ?, destination_id = ?, content_type_like = ?, ord = ?, paused = ?
		WHERE id = ?`,
		route.SourceID, route.DestinationID, routePattern(route), route.Ord, route.Paused, route.ID)
	if err != nil {
		return wrapErr("update route", err)
	}
	return requireAffected(result, "route")
}

func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete route", err)
	}
	return requireAffected(result, "route")
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
