package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/ids"
)

const userColumns = `
	select u.id, u.username, u.email, u.password_hash, u.created_at, u.updated_at,
	       coalesce(string_agg(r.name, ',' order by r.name), '')
	from users u
	left join user_roles ur on ur.user_id = u.id
	left join roles r on r.id = ur.role_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u     auth.User
		roles string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &roles); err != nil {
		return auth.User{}, err
	}
	u.Roles = splitRoles(roles)
	return u, nil
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, userColumns+where+` group by u.id`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findUser(ctx, `where lower(u.email) = lower($1)`, email)
}

func (s *Store) FindByID(ctx context.Context, id string) (auth.User, error) {
	return s.findUser(ctx, `where u.id = $1`, id)
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where lower(email) = lower($1))`, email)
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where lower(username) = lower($1))`, username)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var found bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, userColumns+` group by u.id order by u.created_at, u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, username, email, password_hash)
		values ($1, $2, $3, $4)
	`, u.ID, u.Username, auth.NormalizeEmail(u.Email), u.PasswordHash); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, fmt.Errorf("%w: email or username already registered", auth.ErrConflict)
		}
		return auth.User{}, err
	}
	if err := assignRoles(ctx, tx, u.ID, u.Roles); err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return s.FindByID(ctx, u.ID)
}

func (s *Store) UpdateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateUserTx(ctx, tx, u); err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return s.FindByID(ctx, u.ID)
}

// UpdateUserWithAlert applies u and inserts a in one transaction, so a profile
// change is never stored without its alert.
func (s *Store) UpdateUserWithAlert(ctx context.Context, u auth.User, a alerts.Alert) (auth.User, alerts.Alert, error) {
	if s.db == nil {
		return auth.User{}, alerts.Alert{}, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, alerts.Alert{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateUserTx(ctx, tx, u); err != nil {
		return auth.User{}, alerts.Alert{}, err
	}
	stored, err := insertAlert(ctx, tx, a)
	if err != nil {
		return auth.User{}, alerts.Alert{}, fmt.Errorf("store alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, alerts.Alert{}, err
	}
	updated, err := s.FindByID(ctx, u.ID)
	if err != nil {
		return auth.User{}, alerts.Alert{}, err
	}
	return updated, stored, nil
}

func updateUserTx(ctx context.Context, tx *sql.Tx, u auth.User) error {
	res, err := tx.ExecContext(ctx, `
		update users set username = $1, password_hash = $2, updated_at = now()
		where id = $3
	`, u.Username, u.PasswordHash, u.ID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: username already taken", auth.ErrConflict)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, u.ID); err != nil {
		return err
	}
	return assignRoles(ctx, tx, u.ID, u.Roles)
}

func assignRoles(ctx context.Context, tx *sql.Tx, userID string, roles []string) error {
	for _, name := range roles {
		var roleID string
		err := tx.QueryRowContext(ctx, `select id from roles where name = $1`, auth.NormalizeRole(name)).Scan(&roleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
