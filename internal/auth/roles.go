package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var roleNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)

var builtinRoles = []string{RoleUser, RoleEmployee, RoleAdmin}

// RoleService manages named roles.
type RoleService struct {
	store RoleStore
}

func NewRoleService(store RoleStore) (*RoleService, error) {
	if store == nil {
		return nil, errors.New("role store is required")
	}
	return &RoleService{store: store}, nil
}

func (s *RoleService) CreateRole(ctx context.Context, name string) (Role, error) {
	name, err := validRoleName(name)
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, name)
}

func (s *RoleService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RoleService) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

// RenameRole changes a role name. Built-in roles keep their names because the
// authorization policy refers to them.
func (s *RoleService) RenameRole(ctx context.Context, id, name string) (Role, error) {
	current, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	name, err = validRoleName(name)
	if err != nil {
		return Role{}, err
	}
	if name == current.Name {
		return current, nil
	}
	if slices.Contains(builtinRoles, current.Name) {
		return Role{}, fmt.Errorf("%w: built-in role %s cannot be renamed", ErrConflict, current.Name)
	}
	return s.store.RenameRole(ctx, current.ID, name)
}

func (s *RoleService) DeleteRole(ctx context.Context, id string) error {
	current, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if slices.Contains(builtinRoles, current.Name) {
		return fmt.Errorf("%w: built-in role %s cannot be deleted", ErrConflict, current.Name)
	}
	return s.store.DeleteRole(ctx, current.ID)
}

func validRoleName(name string) (string, error) {
	name = NormalizeRole(name)
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if !roleNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: role name %q must be letters, digits or underscores", ErrInvalidInput, name)
	}
	return name, nil
}
