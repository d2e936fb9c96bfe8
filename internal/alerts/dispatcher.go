package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backoffice.dev/internal/audit"
	"backoffice.dev/internal/ids"
)

// Publisher accepts notifications for asynchronous delivery.
type Publisher interface {
	Enqueue(Notification) bool
}

// Fanout hands each notification to every non-nil publisher. It reports true
// when at least one accepted it.
type Fanout []Publisher

func (f Fanout) Enqueue(n Notification) bool {
	accepted := false
	for _, p := range f {
		if p != nil && p.Enqueue(n) {
			accepted = true
		}
	}
	return accepted
}

// Dispatcher persists alerts for profile changes and hands them to a Publisher.
type Dispatcher struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewDispatcher wires the dispatcher. publisher may be nil.
func NewDispatcher(store Store, publisher Publisher) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("alert store is required")
	}
	return &Dispatcher{store: store, publisher: publisher, now: time.Now}, nil
}

// Dispatch records an alert for c. It returns ErrNoChange when c is empty.
// The alert is stored before the notification is queued; delivery problems
// never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, c Change) (Alert, error) {
	alert, err := d.Prepare(c)
	if err != nil {
		return Alert{}, err
	}
	stored, err := d.store.CreateAlert(ctx, alert)
	if err != nil {
		return Alert{}, fmt.Errorf("store alert: %w", err)
	}
	d.Announce(ctx, stored)
	return stored, nil
}

// Prepare builds the alert for c without storing it, for callers that persist
// it together with the user update. It returns ErrNoChange when c is empty.
func (d *Dispatcher) Prepare(c Change) (Alert, error) {
	if c.Empty() {
		return Alert{}, ErrNoChange
	}
	return Alert{
		ID:               ids.New(),
		Message:          c.Summary(),
		UserID:           c.User.ID,
		UserEmail:        c.User.Email,
		UserRole:         strings.Join(c.User.Roles, ", "),
		ModificationType: c.Type,
		CreatedAt:        d.now().UTC(),
	}, nil
}

// Announce queues the notification for a stored alert and writes the audit line.
func (d *Dispatcher) Announce(ctx context.Context, stored Alert) {
	if d.publisher != nil {
		d.publisher.Enqueue(NotificationFor(stored))
	}
	_ = audit.LogEvent(ctx, "alert.created", map[string]any{
		"alert_id":          stored.ID,
		"user_email":        stored.UserEmail,
		"modification_type": string(stored.ModificationType),
	})
}
