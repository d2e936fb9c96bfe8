package pg

import (
	"context"
	"database/sql"
	"errors"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/ids"
)

const alertColumns = `select id, message, user_id, user_email, user_role, modification_type, created_at, read from alerts`

func scanAlert(row rowScanner) (alerts.Alert, error) {
	var (
		a      alerts.Alert
		userID sql.NullString
		kind   string
	)
	if err := row.Scan(&a.ID, &a.Message, &userID, &a.UserEmail, &a.UserRole, &kind, &a.CreatedAt, &a.Read); err != nil {
		return alerts.Alert{}, err
	}
	a.UserID = userID.String
	a.ModificationType = alerts.ModificationType(kind)
	return a, nil
}

func (s *Store) CreateAlert(ctx context.Context, a alerts.Alert) (alerts.Alert, error) {
	if s.db == nil {
		return alerts.Alert{}, errNoDB
	}
	return insertAlert(ctx, s.db, a)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAlert(ctx context.Context, q queryRower, a alerts.Alert) (alerts.Alert, error) {
	if a.ID == "" {
		a.ID = ids.New()
	}
	return scanAlert(q.QueryRowContext(ctx, `
		insert into alerts (id, message, user_id, user_email, user_role, modification_type, created_at, read)
		values ($1, $2, $3, $4, $5, $6, coalesce($7, now()), $8)
		returning id, message, user_id, user_email, user_role, modification_type, created_at, read
	`, a.ID, a.Message, nullIfEmpty(a.UserID), a.UserEmail, a.UserRole, string(a.ModificationType), nullTime(a), a.Read))
}

func nullTime(a alerts.Alert) sql.NullTime {
	if a.CreatedAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: a.CreatedAt, Valid: true}
}

func (s *Store) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	return s.queryAlerts(ctx, alertColumns+` order by created_at desc, id desc`)
}

func (s *Store) ListAlertsByUser(ctx context.Context, userID string) ([]alerts.Alert, error) {
	return s.queryAlerts(ctx, alertColumns+` where user_id = $1 order by created_at desc, id desc`, userID)
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []alerts.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MarkAlertRead(ctx context.Context, id string) (alerts.Alert, error) {
	if s.db == nil {
		return alerts.Alert{}, errNoDB
	}
	a, err := scanAlert(s.db.QueryRowContext(ctx, `
		update alerts set read = true
		where id = $1
		returning id, message, user_id, user_email, user_role, modification_type, created_at, read
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alerts.Alert{}, auth.ErrNotFound
	}
	return a, err
}
