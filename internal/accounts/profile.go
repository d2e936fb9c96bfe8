package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
)

// ProfileWriter stores a profile change together with its alert, so neither
// is kept without the other. Stores without it fall back to two writes.
type ProfileWriter interface {
	UpdateUserWithAlert(ctx context.Context, u auth.User, a alerts.Alert) (auth.User, alerts.Alert, error)
}

// ProfileUpdate is the body of update/client and update/employee. The target
// account is selected by Email; an empty Password leaves it unchanged.
type ProfileUpdate struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateClient changes a USER account and records an UPDATE_CLIENT alert.
func (s *Service) UpdateClient(ctx context.Context, actor auth.Principal, in ProfileUpdate) (alerts.Alert, error) {
	return s.updateProfile(ctx, actor, in, auth.RoleUser, alerts.UpdateClient)
}

// UpdateEmployee changes an EMPLOYEE account and records an UPDATE_EMPLOYEE alert.
func (s *Service) UpdateEmployee(ctx context.Context, actor auth.Principal, in ProfileUpdate) (alerts.Alert, error) {
	return s.updateProfile(ctx, actor, in, auth.RoleEmployee, alerts.UpdateEmployee)
}

// updateProfile returns alerts.ErrNoChange when nothing differs from the
// stored record; nothing is written in that case.
func (s *Service) updateProfile(ctx context.Context, actor auth.Principal, in ProfileUpdate, role string, kind alerts.ModificationType) (alerts.Alert, error) {
	email := auth.NormalizeEmail(in.Email)
	if email == "" {
		email = auth.NormalizeEmail(actor.Email)
	}
	if !actor.HasRole(auth.RoleAdmin) && email != auth.NormalizeEmail(actor.Email) {
		return alerts.Alert{}, fmt.Errorf("%w: only administrators may update other accounts", auth.ErrForbidden)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return alerts.Alert{}, err
	}
	if !user.HasRole(role) {
		return alerts.Alert{}, fmt.Errorf("%w: user does not hold %s", auth.ErrConflict, role)
	}

	change := alerts.Change{
		Type:        kind,
		User:        user,
		OldUsername: user.Username,
		NewUsername: user.Username,
	}
	if name := strings.TrimSpace(in.Username); name != "" {
		if err := validUsername(name); err != nil {
			return alerts.Alert{}, err
		}
		change.NewUsername = name
	}
	if err := validPassword(in.Password); err != nil {
		return alerts.Alert{}, err
	}
	if in.Password != "" && auth.VerifyPassword(user.PasswordHash, in.Password) != nil {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return alerts.Alert{}, err
		}
		user.PasswordHash = hash
		change.PasswordChanged = true
	}
	if change.Empty() {
		return alerts.Alert{}, alerts.ErrNoChange
	}

	user.Username = change.NewUsername
	if w, ok := s.users.(ProfileWriter); ok {
		alert, err := s.dispatcher.Prepare(change)
		if err != nil {
			return alerts.Alert{}, err
		}
		_, stored, err := w.UpdateUserWithAlert(ctx, user, alert)
		if err != nil {
			return alerts.Alert{}, err
		}
		s.dispatcher.Announce(ctx, stored)
		return stored, nil
	}
	updated, err := s.users.UpdateUser(ctx, user)
	if err != nil {
		return alerts.Alert{}, err
	}
	change.User = updated
	alert, err := s.dispatcher.Dispatch(ctx, change)
	if errors.Is(err, alerts.ErrNoChange) {
		return alerts.Alert{}, err
	}
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("record alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns every alert, newest first.
func (s *Service) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	return s.alerts.ListAlerts(ctx)
}

// UserAlerts returns the alerts of an existing user, newest first.
func (s *Service) UserAlerts(ctx context.Context, userID string) ([]alerts.Alert, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.alerts.ListAlertsByUser(ctx, userID)
}

// MarkAlertRead flips the read flag of an alert.
func (s *Service) MarkAlertRead(ctx context.Context, id string) (alerts.Alert, error) {
	return s.alerts.MarkAlertRead(ctx, id)
}
