// Package accounts implements registration, profile and alert operations on
// top of the credential store and the alert dispatcher.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/audit"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/obs"
)

const (
	maxUsernameLen = 64
	// bcrypt refuses longer inputs.
	maxPasswordLen = 72
)

// validUsername applies the registration rules to every username write, so
// any stored name can be looked up through check-username.
func validUsername(name string) error {
	if name == "" || len(name) > maxUsernameLen || strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("%w: invalid username", auth.ErrInvalidInput)
	}
	return nil
}

func validPassword(password string) error {
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password too long", auth.ErrInvalidInput)
	}
	return nil
}

// Service coordinates user lifecycle operations.
type Service struct {
	users      auth.UserStore
	alerts     alerts.Store
	dispatcher *alerts.Dispatcher
	confirmer  Confirmer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service) error

// WithConfirmer enables registration confirmations.
func WithConfirmer(c Confirmer) Option {
	return func(s *Service) error {
		s.confirmer = c
		return nil
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l == nil {
			return errors.New("accounts: nil logger")
		}
		s.logger = l
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn == nil {
			return errors.New("accounts: nil clock")
		}
		s.now = fn
		return nil
	}
}

// NewService wires the account service.
func NewService(users auth.UserStore, alertStore alerts.Store, dispatcher *alerts.Dispatcher, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("accounts: user store is required")
	}
	if alertStore == nil || dispatcher == nil {
		return nil, errors.New("accounts: alert store and dispatcher are required")
	}
	s := &Service{
		users:      users,
		alerts:     alertStore,
		dispatcher: dispatcher,
		logger:     obs.Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RegisterInput is the payload accepted by both registration flows.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in RegisterInput) normalize() (RegisterInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = auth.NormalizeEmail(in.Email)
	if in.Username == "" || in.Email == "" || strings.TrimSpace(in.Password) == "" {
		return in, fmt.Errorf("%w: username, email and password are required", auth.ErrInvalidInput)
	}
	if err := validUsername(in.Username); err != nil {
		return in, err
	}
	if err := validPassword(in.Password); err != nil {
		return in, err
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return in, fmt.Errorf("%w: invalid email", auth.ErrInvalidInput)
	}
	return in, nil
}

// RegisterClient creates an account holding USER.
func (s *Service) RegisterClient(ctx context.Context, in RegisterInput) (Confirmation, error) {
	return s.register(ctx, in, auth.RoleUser)
}

// RegisterEmployee creates an account holding EMPLOYEE.
func (s *Service) RegisterEmployee(ctx context.Context, in RegisterInput) (Confirmation, error) {
	return s.register(ctx, in, auth.RoleEmployee)
}

func (s *Service) register(ctx context.Context, in RegisterInput, role string) (Confirmation, error) {
	in, err := in.normalize()
	if err != nil {
		return Confirmation{}, err
	}
	if taken, err := s.users.ExistsByEmail(ctx, in.Email); err != nil {
		return Confirmation{}, err
	} else if taken {
		return Confirmation{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if taken, err := s.users.ExistsByUsername(ctx, in.Username); err != nil {
		return Confirmation{}, err
	} else if taken {
		return Confirmation{}, fmt.Errorf("%w: username already taken", auth.ErrConflict)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Confirmation{}, err
	}
	user, err := s.users.CreateUser(ctx, auth.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []string{role},
	})
	if err != nil {
		return Confirmation{}, err
	}

	confirmation := Confirmation{
		Username:  user.Username,
		Email:     user.Email,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if s.confirmer != nil {
		msg, err := s.confirmer.Confirm(ctx, confirmation)
		if err != nil {
			s.logger.Warn("registration confirmation failed",
				slog.String("email", user.Email),
				slog.String("error", err.Error()),
			)
		} else {
			confirmation.Message = msg
		}
	}
	_ = audit.LogEvent(ctx, "user.registered", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    role,
	})
	return confirmation, nil
}

// EnsureAdmin creates the bootstrap administrator when no account exists for
// email. An existing account is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (auth.User, bool, error) {
	if strings.TrimSpace(username) == "" {
		username = strings.SplitN(auth.NormalizeEmail(email), "@", 2)[0]
	}
	in, err := RegisterInput{Username: username, Email: email, Password: password}.normalize()
	if err != nil {
		return auth.User{}, false, err
	}
	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return auth.User{}, false, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return auth.User{}, false, err
	}
	user, err := s.users.CreateUser(ctx, auth.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []string{auth.RoleAdmin},
	})
	if err != nil {
		return auth.User{}, false, err
	}
	s.logger.Info("bootstrap admin created", slog.String("email", user.Email))
	return user, true, nil
}

// Profile returns the stored record behind a principal.
func (s *Service) Profile(ctx context.Context, p auth.Principal) (auth.User, error) {
	return s.users.FindByEmail(ctx, p.Email)
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]auth.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []auth.User{}
	}
	return users, nil
}

// GetUser loads a user by id. When role is non-empty the user must hold it.
func (s *Service) GetUser(ctx context.Context, id, role string) (auth.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return auth.User{}, err
	}
	if role != "" && !u.HasRole(role) {
		return auth.User{}, fmt.Errorf("%w: user does not hold %s", auth.ErrNotFound, role)
	}
	return u, nil
}

// DeleteUser removes a user by id. When role is non-empty the user must hold it.
func (s *Service) DeleteUser(ctx context.Context, id, role string) error {
	if _, err := s.GetUser(ctx, id, role); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "user.deleted", map[string]any{"user_id": id})
	return nil
}

// AdminUpdate is the payload of the administrative user update.
type AdminUpdate struct {
	Username *string  `json:"username,omitempty"`
	Password *string  `json:"password,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// UpdateUser applies an administrative update. Nil fields are left unchanged.
func (s *Service) UpdateUser(ctx context.Context, id string, in AdminUpdate) (auth.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return auth.User{}, err
	}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if err := validUsername(name); err != nil {
			return auth.User{}, err
		}
		u.Username = name
	}
	if in.Password != nil && *in.Password != "" {
		if err := validPassword(*in.Password); err != nil {
			return auth.User{}, err
		}
		if u.PasswordHash, err = auth.HashPassword(*in.Password); err != nil {
			return auth.User{}, err
		}
	}
	if in.Roles != nil {
		if len(in.Roles) == 0 {
			return auth.User{}, fmt.Errorf("%w: at least one role is required", auth.ErrInvalidInput)
		}
		u.Roles = in.Roles
	}
	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return auth.User{}, err
	}
	_ = audit.LogEvent(ctx, "user.updated", map[string]any{"user_id": id})
	return updated, nil
}

// ExistsByUsername backs the signed availability check.
func (s *Service) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	return s.users.ExistsByUsername(ctx, username)
}

// ExistsByEmail backs the signed availability check.
func (s *Service) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	return s.users.ExistsByEmail(ctx, email)
}
