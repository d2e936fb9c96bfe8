package auth

import "context"

// CredentialStore is the lookup surface needed to authenticate users.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
}

// UserStore persists user accounts and their role assignments.
type UserStore interface {
	CredentialStore
	FindByID(ctx context.Context, id string) (User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	// CreateUser stores user with the roles named in user.Roles.
	CreateUser(ctx context.Context, user User) (User, error)
	// UpdateUser replaces username, password hash and roles of an existing user.
	UpdateUser(ctx context.Context, user User) (User, error)
	DeleteUser(ctx context.Context, id string) error
}

// RoleStore persists named roles.
type RoleStore interface {
	CreateRole(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	RenameRole(ctx context.Context, id, name string) (Role, error)
	DeleteRole(ctx context.Context, id string) error
}
