// Package alerts records privileged profile changes and pushes them to an
// external webhook on a best-effort basis.
package alerts

import (
	"context"
	"errors"
	"strings"
	"time"

	"backoffice.dev/internal/auth"
)

// ModificationType classifies the mutation an alert describes.
type ModificationType string

const (
	UpdateClient   ModificationType = "UPDATE_CLIENT"
	UpdateEmployee ModificationType = "UPDATE_EMPLOYEE"
)

// ErrNoChange is returned when an update did not modify any field.
var ErrNoChange = errors.New("alerts: nothing changed")

// Alert is the durable record of a privileged mutation.
type Alert struct {
	ID               string           `json:"id"`
	Message          string           `json:"message"`
	UserID           string           `json:"user_id"`
	UserEmail        string           `json:"user_email"`
	UserRole         string           `json:"user_role"`
	ModificationType ModificationType `json:"modification_type"`
	CreatedAt        time.Time        `json:"created_at"`
	Read             bool             `json:"read"`
}

// Store persists alerts. Missing records are reported as auth.ErrNotFound.
type Store interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	// ListAlerts returns all alerts, newest first.
	ListAlerts(ctx context.Context) ([]Alert, error)
	ListAlertsByUser(ctx context.Context, userID string) ([]Alert, error)
	MarkAlertRead(ctx context.Context, id string) (Alert, error)
}

// Change describes what a profile update did to a user.
type Change struct {
	Type            ModificationType
	User            auth.User
	OldUsername     string
	NewUsername     string
	PasswordChanged bool
}

// Empty reports whether the update left every field as it was.
func (c Change) Empty() bool {
	return c.OldUsername == c.NewUsername && !c.PasswordChanged
}

// Summary renders the human-readable alert message.
func (c Change) Summary() string {
	var parts []string
	if c.OldUsername != c.NewUsername {
		parts = append(parts, "Username changed from '"+c.OldUsername+"' to '"+c.NewUsername+"'.")
	}
	if c.PasswordChanged {
		parts = append(parts, "Password changed.")
	}
	msg := strings.Join(parts, " ")
	if c.Type == UpdateEmployee {
		return "Employee update: " + msg
	}
	return msg
}
