package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *PostgresUserRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return mock, NewPostgresUserRepo(db, time.Second), func() { db.Close() }
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByEmail_Found(t *testing.T) {
	mock, repo, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT id, email, nombre, password FROM usuarios WHERE email = \$1`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "nombre", "password"}).
			AddRow(int64(1), "a@b.com", "A", "$2a$10$hash"))

	user, err := repo.FindByEmail(context.Background(), "a@b.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID != 1 || user.Email != "a@b.com" || user.Name != "A" || user.PasswordHash != "$2a$10$hash" {
		t.Errorf("user = %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_FindByEmail_NotFound_ReturnsNil(t *testing.T) {
	mock, repo, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`FROM usuarios WHERE email = \$1`).
		WithArgs("x@y.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "nombre", "password"}))

	user, err := repo.FindByEmail(context.Background(), "x@y.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user != nil {
		t.Errorf("user = %+v, want nil", user)
	}
}

// メールアドレスはSQL文字列に埋め込まれずパラメータとして渡されることを検証
func TestPostgresUserRepo_FindByEmail_BindsHostileInput(t *testing.T) {
	mock, repo, closeDB := newMock(t)
	defer closeDB()

	hostile := "' OR '1'='1"
	mock.ExpectQuery(`SELECT id, email, nombre, password FROM usuarios WHERE email = \$1$`).
		WithArgs(hostile).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "nombre", "password"}))

	user, err := repo.FindByEmail(context.Background(), hostile)
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user != nil {
		t.Errorf("user = %+v, want nil", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_FindByEmail_QueryError(t *testing.T) {
	mock, repo, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`FROM usuarios`).WillReturnError(errors.New("connection reset"))

	user, err := repo.FindByEmail(context.Background(), "a@b.com")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if user != nil {
		t.Errorf("user = %+v, want nil", user)
	}
}

// 呼び出し元がキャンセル済みでもクエリを完了させることを検証
func TestPostgresUserRepo_FindByEmail_CompletesAfterCallerCancel(t *testing.T) {
	mock, repo, closeDB := newMock(t)
	defer closeDB()

	mock.ExpectQuery(`FROM usuarios`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "nombre", "password"}).
			AddRow(int64(1), "a@b.com", "A", "hash"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	user, err := repo.FindByEmail(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user == nil || user.ID != 1 {
		t.Errorf("user = %+v, want id 1", user)
	}
}
