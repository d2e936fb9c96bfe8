// Package memstore is an in-process implementation of the user, role and
// alert stores. It backs tests and the API when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/ids"
)

// Built-in role ids, matching the seed migration.
const (
	RoleUserID     = "role-user"
	RoleEmployeeID = "role-employee"
	RoleAdminID    = "role-admin"
)

var (
	_ auth.UserStore = (*Store)(nil)
	_ auth.RoleStore = (*Store)(nil)
	_ alerts.Store   = (*Store)(nil)
)

type Store struct {
	mu     sync.RWMutex
	users  map[string]auth.User
	roles  map[string]auth.Role
	alerts []alerts.Alert
	now    func() time.Time
}

// New returns a store seeded with the built-in roles.
func New() *Store {
	s := &Store{
		users: make(map[string]auth.User),
		roles: make(map[string]auth.Role),
		now:   time.Now,
	}
	now := s.now().UTC()
	for id, name := range map[string]string{
		RoleUserID:     auth.RoleUser,
		RoleEmployeeID: auth.RoleEmployee,
		RoleAdminID:    auth.RoleAdmin,
	} {
		s.roles[id] = auth.Role{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	}
	return s
}

func cloneUser(u auth.User) auth.User {
	u.Roles = slices.Clone(u.Roles)
	return u
}

func (s *Store) FindByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = auth.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	return err == nil, nil
}

func (s *Store) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usernameTakenLocked(username, ""), nil
}

func (s *Store) ListUsers(context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = auth.NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
	}
	if s.usernameTakenLocked(u.Username, "") {
		return auth.User{}, fmt.Errorf("%w: username already taken", auth.ErrConflict)
	}
	roles, err := s.resolveRolesLocked(u.Roles)
	if err != nil {
		return auth.User{}, err
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.Roles = roles
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = cloneUser(u)
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUserLocked(u)
}

// UpdateUserWithAlert applies u and appends a under one lock.
func (s *Store) UpdateUserWithAlert(_ context.Context, u auth.User, a alerts.Alert) (auth.User, alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := s.updateUserLocked(u)
	if err != nil {
		return auth.User{}, alerts.Alert{}, err
	}
	return updated, s.appendAlertLocked(a), nil
}

func (s *Store) updateUserLocked(u auth.User) (auth.User, error) {
	current, ok := s.users[u.ID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if s.usernameTakenLocked(u.Username, u.ID) {
		return auth.User{}, fmt.Errorf("%w: username already taken", auth.ErrConflict)
	}
	roles, err := s.resolveRolesLocked(u.Roles)
	if err != nil {
		return auth.User{}, err
	}
	current.Username = u.Username
	current.PasswordHash = u.PasswordHash
	current.Roles = roles
	current.UpdatedAt = s.now().UTC()
	s.users[u.ID] = current
	return cloneUser(current), nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	for i := range s.alerts {
		if s.alerts[i].UserID == id {
			s.alerts[i].UserID = ""
		}
	}
	return nil
}

func (s *Store) usernameTakenLocked(username, exceptID string) bool {
	username = strings.TrimSpace(username)
	for id, u := range s.users {
		if id != exceptID && strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (s *Store) resolveRolesLocked(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = auth.NormalizeRole(name)
		found := false
		for _, r := range s.roles {
			if r.Name == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) CreateRole(_ context.Context, name string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return auth.Role{}, fmt.Errorf("%w: role %s exists", auth.ErrConflict, name)
		}
	}
	now := s.now().UTC()
	r := auth.Role{ID: ids.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) RenameRole(_ context.Context, id, name string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	for otherID, other := range s.roles {
		if otherID != id && other.Name == name {
			return auth.Role{}, fmt.Errorf("%w: role %s exists", auth.ErrConflict, name)
		}
	}
	old := r.Name
	r.Name = name
	r.UpdatedAt = s.now().UTC()
	s.roles[id] = r
	for uid, u := range s.users {
		if i := slices.Index(u.Roles, old); i >= 0 {
			u.Roles[i] = name
			slices.Sort(u.Roles)
			s.users[uid] = u
		}
	}
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.ErrNotFound
	}
	for _, u := range s.users {
		if slices.Contains(u.Roles, r.Name) {
			return fmt.Errorf("%w: role %s is assigned to users", auth.ErrConflict, r.Name)
		}
	}
	delete(s.roles, id)
	return nil
}

func (s *Store) CreateAlert(_ context.Context, a alerts.Alert) (alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAlertLocked(a), nil
}

func (s *Store) appendAlertLocked(a alerts.Alert) alerts.Alert {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.alerts = append(s.alerts, a)
	return a
}

func (s *Store) ListAlerts(context.Context) ([]alerts.Alert, error) {
	return s.filterAlerts(func(alerts.Alert) bool { return true }), nil
}

func (s *Store) ListAlertsByUser(_ context.Context, userID string) ([]alerts.Alert, error) {
	return s.filterAlerts(func(a alerts.Alert) bool { return a.UserID == userID }), nil
}

func (s *Store) filterAlerts(keep func(alerts.Alert) bool) []alerts.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alerts.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) MarkAlertRead(_ context.Context, id string) (alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			return s.alerts[i], nil
		}
	}
	return alerts.Alert{}, auth.ErrNotFound
}
