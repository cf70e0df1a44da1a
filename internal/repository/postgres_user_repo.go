package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/kpidash/internal/database"
	"github.com/hitoshi/kpidash/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db      database.Conner
	timeout time.Duration
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// timeoutは1クエリあたりの上限時間。0以下の場合は既定値を使う。
func NewPostgresUserRepo(db database.Conner, timeout time.Duration) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, timeout: timeout}
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
// メールアドレスは常にバインドパラメータとして渡す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()

	var user *model.User
	err := database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		u := &model.User{}
		err := conn.QueryRowContext(ctx,
			`SELECT id, email, nombre, password FROM usuarios WHERE email = $1`,
			email,
		).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
