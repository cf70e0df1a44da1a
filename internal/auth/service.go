// Package auth はパスワード検証、セッショントークンの発行・検証、ログイン処理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/kpidash/internal/model"
	"github.com/hitoshi/kpidash/internal/repository"
)

// ログイン失敗理由。ログとメトリクスのラベルにのみ使い、クライアントには返さない。
const (
	FailureMissingFields = "missing_fields"
	FailureUnknownEmail  = "unknown_email"
	FailureWrongPassword = "wrong_password"
	FailureDependency    = "dependency"
)

// LoginObserver はログイン結果を記録する。metrics.Collectorが実装する。
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// Service はログインとセッション検証のビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	codec    *TokenCodec
	observer LoginObserver
}

// NewService はServiceを生成する。observerはnilでもよい。
func NewService(users repository.UserRepository, codec *TokenCodec, observer LoginObserver) *Service {
	return &Service{
		users:    users,
		codec:    codec,
		observer: observer,
	}
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User  model.PublicUser
	Token string
}

// Login はメールアドレスとパスワードを検証し、セッショントークンを発行する。
//
// 入力欠落はmodel.ErrValidation、未登録メールアドレスとパスワード不一致は
// 同一のmodel.ErrAuthentication、ストア障害はmodel.ErrDependencyとして返す。
// 未登録の場合もダミーハッシュとの比較を行い、応答時間を揃える。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.fail(ctx, FailureMissingFields)
		return nil, model.NewMissingCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.fail(ctx, FailureDependency)
		return nil, fmt.Errorf("%w: failed to find user: %w", model.ErrDependency, err)
	}

	if user == nil {
		burnPasswordCheck(password)
		s.fail(ctx, FailureUnknownEmail)
		return nil, model.NewInvalidCredentialsError()
	}

	if !VerifyPassword(password, user.PasswordHash) {
		s.fail(ctx, FailureWrongPassword)
		return nil, model.NewInvalidCredentialsError()
	}

	public := user.Public()
	token, err := s.codec.Issue(public)
	if err != nil {
		s.fail(ctx, FailureDependency)
		return nil, fmt.Errorf("%w: %w", model.ErrDependency, err)
	}

	slog.InfoContext(ctx, "user logged in",
		slog.Int64("user_id", public.ID),
	)
	s.observe("success")

	return &LoginResult{User: public, Token: token}, nil
}

// Session はトークンを検証し、クレームを返す。
// 検証に失敗した場合はmodel.ErrAuthenticationを含むエラーを返す。
func (s *Service) Session(token string) (*model.SessionClaims, error) {
	return s.codec.Verify(token)
}

// TTL はセッションの有効期間（秒）を返す。Cookieのmax-ageに使う。
func (s *Service) TTL() int {
	return int(s.codec.TTL().Seconds())
}

// fail は失敗理由のみを記録する。入力されたメールアドレスはログに残さない。
func (s *Service) fail(ctx context.Context, reason string) {
	slog.WarnContext(ctx, "login failed", slog.String("reason", reason))
	s.observe(reason)
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(outcome)
	}
}
