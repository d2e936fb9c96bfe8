package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
)

var userRowColumns = []string{"id", "username", "email", "password_hash", "created_at", "updated_at", "roles"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from users u").WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("u-1", "ana", "ana@example.com", "hash", now, now, "ADMIN,USER"))

	u, err := store.FindByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u-1" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "ADMIN" || u.Roles[1] != "USER" {
		t.Fatalf("unexpected roles: %v", u.Roles)
	}

	mock.ExpectQuery("from users u").WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)
	if _, err := store.FindByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExistsByUsername(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select exists").WithArgs("ana").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := store.ExistsByUsername(context.Background(), "ana")
	if err != nil {
		t.Fatalf("ExistsByUsername: %v", err)
	}
	if !found {
		t.Fatal("expected username to exist")
	}
}

func TestCreateUserAssignsRoles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WithArgs("u-9", "ana", "ana@example.com", "hash").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select id from roles where name").WithArgs("USER").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-user"))
	mock.ExpectExec("insert into user_roles").WithArgs("u-9", "role-user").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from users u").WithArgs("u-9").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("u-9", "ana", "ana@example.com", "hash", now, now, "USER"))

	u, err := store.CreateUser(context.Background(), auth.User{
		ID: "u-9", Username: "ana", Email: "Ana@Example.com", PasswordHash: "hash", Roles: []string{"user"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(u.Roles) != 1 || u.Roles[0] != auth.RoleUser {
		t.Fatalf("unexpected roles: %v", u.Roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), auth.User{Username: "ana", Email: "ana@example.com", PasswordHash: "h"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select id from roles where name").WithArgs("GHOST").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), auth.User{Username: "ana", Email: "ana@example.com", PasswordHash: "h", Roles: []string{"ghost"}})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update users set username").WithArgs("ana", "hash", "u-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.UpdateUser(context.Background(), auth.User{ID: "u-404", Username: "ana", PasswordHash: "hash"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserWithAlertRollsBackWhenAlertFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update users set username").WithArgs("ana.m", "hash", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from user_roles").WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into alerts").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := store.UpdateUserWithAlert(context.Background(),
		auth.User{ID: "u-1", Username: "ana.m", PasswordHash: "hash"},
		alerts.Alert{ID: "a-1", Message: "username changed", UserID: "u-1", ModificationType: alerts.UpdateClient})
	if err == nil {
		t.Fatal("expected error when the alert insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateUserWithAlertCommitsBoth(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("update users set username").WithArgs("ana.m", "hash", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from user_roles").WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into alerts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message", "user_id", "user_email", "user_role", "modification_type", "created_at", "read"}).
			AddRow("a-1", "username changed", "u-1", "ana@example.com", "USER", "UPDATE_CLIENT", now, false))
	mock.ExpectCommit()
	mock.ExpectQuery("from users u").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("u-1", "ana.m", "ana@example.com", "hash", now, now, ""))

	u, a, err := store.UpdateUserWithAlert(context.Background(),
		auth.User{ID: "u-1", Username: "ana.m", PasswordHash: "hash"},
		alerts.Alert{ID: "a-1", Message: "username changed", UserID: "u-1", ModificationType: alerts.UpdateClient})
	if err != nil {
		t.Fatalf("UpdateUserWithAlert: %v", err)
	}
	if u.Username != "ana.m" || a.ID != "a-1" || a.ModificationType != alerts.UpdateClient {
		t.Fatalf("unexpected result: %+v %+v", u, a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from roles").WithArgs("r-1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := store.DeleteRole(context.Background(), "r-1"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("delete from roles").WithArgs("r-2").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteRole(context.Background(), "r-2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertsRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "message", "user_id", "user_email", "user_role", "modification_type", "created_at", "read"}

	mock.ExpectQuery("insert into alerts").
		WithArgs("a-1", "msg", "u-1", "ana@example.com", "USER", "UPDATE_CLIENT", sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a-1", "msg", "u-1", "ana@example.com", "USER", "UPDATE_CLIENT", now, false))

	created, err := store.CreateAlert(context.Background(), alerts.Alert{
		ID: "a-1", Message: "msg", UserID: "u-1", UserEmail: "ana@example.com", UserRole: "USER",
		ModificationType: alerts.UpdateClient, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if created.ModificationType != alerts.UpdateClient || created.UserID != "u-1" {
		t.Fatalf("unexpected alert: %+v", created)
	}

	mock.ExpectQuery("from alerts where user_id").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a-2", "newer", nil, "ana@example.com", "USER", "UPDATE_CLIENT", now.Add(time.Minute), true).
			AddRow("a-1", "msg", "u-1", "ana@example.com", "USER", "UPDATE_CLIENT", now, false))
	list, err := store.ListAlertsByUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListAlertsByUser: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "" || !list[0].Read {
		t.Fatalf("unexpected alerts: %+v", list)
	}

	mock.ExpectQuery("update alerts set read").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := store.MarkAlertRead(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
