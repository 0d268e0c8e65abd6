package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

const eventColumns = `id, source_id, received_at, method, path, query, headers, body, content_type,
	body_size, body_sha256, remote_ip, idempotency_key, routed`

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e          models.Event
		receivedAt int64
		headers    string
		key        sql.NullString
	)
	if err := row.Scan(&e.ID, &e.SourceID, &receivedAt, &e.Method, &e.Path, &e.Query, &headers,
		&e.Body, &e.ContentType, &e.BodySize, &e.BodySHA256, &e.RemoteIP, &key, &e.Routed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
		return nil, errors.InternalError("corrupt event headers", err)
	}
	if e.Body == nil {
		e.Body = []byte{}
	}
	e.ReceivedAt = fromMicros(receivedAt)
	e.IdempotencyKey = key.String
	return &e, nil
}

func (s *Store) AppendEvent(ctx context.Context, event *models.Event) error {
	headers := event.Headers
	if headers == nil {
		headers = map[string][]string{}
	}
	encoded, err := encodeJSON(headers)
	if err != nil {
		return err
	}
	body := event.Body
	if body == nil {
		body = []byte{}
	}
	_, err = s.exec(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SourceID, toMicros(event.ReceivedAt), event.Method, event.Path, event.Query,
		encoded, body, event.ContentType, event.BodySize, event.BodySHA256, event.RemoteIP,
		nullString(event.IdempotencyKey), event.Routed)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ConflictError("idempotency key already used")
		}
		return errors.UnavailableError("event store rejected append", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "event", "get event")
	}
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []interface{}
	if filter.SourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY received_at DESC, seq DESC LIMIT ?`
	args = append(args, storage.ClampLimit(filter.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	defer rows.Close()

	out := make([]*models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr("list events", err)
		}
		out = append(out, event)
	}
	return out, wrapErr("list events", rows.Err())
}

func (s *Store) FindEventByIdempotencyKey(ctx context.Context, sourceID, key string) (*models.Event, error) {
	event, err := scanEvent(s.queryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_id = ? AND idempotency_key = ?`, sourceID, key))
	if err != nil {
		return nil, notFoundOr(err, "event", "find event")
	}
	return event, nil
}

func (s *Store) MarkEventRouted(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `UPDATE events SET routed = ? WHERE id = ?`, true, id)
	if err != nil {
		return wrapErr("mark event routed", err)
	}
	return requireAffected(result, "event")
}

func (s *Store) ListUnroutedEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE routed = ? ORDER BY seq`
	args := []interface{}{false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list unrouted events", err)
	}
	defer rows.Close()

	out := make([]*models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr("list unrouted events", err)
		}
		out = append(out, event)
	}
	return out, wrapErr("list unrouted events", rows.Err())
}

const deliveryColumns = `id, event_id, destination_id, route_id, attempt_count, last_status, last_error,
	outcome, replay, created_at, updated_at`

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var (
		d                    models.Delivery
		outcome              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&d.ID, &d.EventID, &d.DestinationID, &d.RouteID, &d.AttemptCount,
		&d.LastStatus, &d.LastError, &outcome, &d.Replay, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Outcome = models.Outcome(outcome)
	d.CreatedAt = fromMicros(createdAt)
	d.UpdatedAt = fromMicros(updatedAt)
	return &d, nil
}

func (s *Store) eventExists(ctx context.Context, eventID string) error {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&exists)
	return notFoundOr(err, "event", "check event")
}

func (s *Store) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	if err := s.eventExists(ctx, delivery.EventID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO deliveries (`+deliveryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		delivery.ID, delivery.EventID, delivery.DestinationID, delivery.RouteID, delivery.AttemptCount,
		delivery.LastStatus, delivery.LastError, string(delivery.Outcome), delivery.Replay,
		toMicros(delivery.CreatedAt), toMicros(delivery.UpdatedAt))
	return wrapErr("create delivery", err)
}

func (s *Store) UpdateDelivery(ctx context.Context, delivery *models.Delivery) error {
	result, err := s.exec(ctx, `UPDATE deliveries SET route_id = ?, attempt_count = ?, last_status = ?, last_error = ?,
		outcome = ?, replay = ?, updated_at = ? WHERE id = ?`,
		delivery.RouteID, delivery.AttemptCount, delivery.LastStatus, delivery.LastError,
		string(delivery.Outcome), delivery.Replay, toMicros(delivery.UpdatedAt), delivery.ID)
	if err != nil {
		return wrapErr("update delivery", err)
	}
	return requireAffected(result, "delivery")
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	d, err := scanDelivery(s.queryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "delivery", "get delivery")
	}
	return d, nil
}

func (s *Store) listDeliveries(ctx context.Context, query string, args ...interface{}) ([]*models.Delivery, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list deliveries", err)
	}
	defer rows.Close()

	out := make([]*models.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, wrapErr("list deliveries", err)
		}
		out = append(out, d)
	}
	return out, wrapErr("list deliveries", rows.Err())
}

func (s *Store) ListDeliveries(ctx context.Context, eventID string) ([]*models.Delivery, error) {
	return s.listDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE event_id = ? ORDER BY seq`, eventID)
}

func (s *Store) ListPendingDeliveries(ctx context.Context, limit int) ([]*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE outcome = ? ORDER BY seq`
	args := []interface{}{string(models.OutcomePending)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.listDeliveries(ctx, query, args...)
}

const attemptColumns = `id, delivery_id, event_id, destination_id, attempt_no, status_code, error,
	response_snippet, duration_ms, attempted_at`

func (s *Store) RecordAttempt(ctx context.Context, attempt *models.Attempt) error {
	if err := s.eventExists(ctx, attempt.EventID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.DeliveryID, attempt.EventID, attempt.DestinationID, attempt.AttemptNo,
		attempt.StatusCode, attempt.Error, attempt.ResponseSnippet, attempt.DurationMs,
		toMicros(attempt.AttemptedAt))
	return wrapErr("record attempt", err)
}

func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]*models.Attempt, error) {
	rows, err := s.query(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE event_id = ? ORDER BY seq`, eventID)
	if err != nil {
		return nil, wrapErr("list attempts", err)
	}
	defer rows.Close()

	out := make([]*models.Attempt, 0)
	for rows.Next() {
		var (
			a           models.Attempt
			attemptedAt int64
		)
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.EventID, &a.DestinationID, &a.AttemptNo,
			&a.StatusCode, &a.Error, &a.ResponseSnippet, &a.DurationMs, &attemptedAt); err != nil {
			return nil, wrapErr("list attempts", err)
		}
		a.AttemptedAt = fromMicros(attemptedAt)
		out = append(out, &a)
	}
	return out, wrapErr("list attempts", rows.Err())
}

// PurgeEventsBefore removes expired events in one transaction. Events that
// still have a pending delivery, or were never routed, survive.
func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("purge events", err)
	}
	defer tx.Rollback()

	expired := `SELECT id FROM events WHERE received_at < ? AND routed = ? AND id NOT IN
		(SELECT event_id FROM deliveries WHERE outcome = ?)`
	args := []interface{}{toMicros(cutoff), true, string(models.OutcomePending)}

	for _, table := range []string{"attempts", "deliveries"} {
		if _, err := tx.ExecContext(ctx,
			s.dialect.Rebind(`DELETE FROM `+table+` WHERE event_id IN (`+expired+`)`), args...); err != nil {
			return 0, wrapErr("purge "+table, err)
		}
	}

	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM events WHERE id IN (`+expired+`)`), args...)
	if err != nil {
		return 0, wrapErr("purge events", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("purge events", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("purge events", err)
	}
	return purged, nil
}
