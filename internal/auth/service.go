package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/whatsub/usersvc/internal/model"
	"github.com/whatsub/usersvc/internal/repository"
	"github.com/whatsub/usersvc/internal/token"
)

// CredentialIssuer はログイン成功時のセッショントークン発行インターフェース。
type CredentialIssuer interface {
	Issue(userID string) (*token.Credential, error)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User       *model.User
	Credential *token.Credential
	// IsNewUser はこのログインでユーザーが新規作成されたことを示す。
	IsNewUser bool
}

// Service は外部IdPトークンによるログインを提供する。
type Service struct {
	// verifiers はプロバイダー名からVerifierへのマップ。
	// 現在はgoogleのみだが、プロバイダー追加時はここに登録する。
	verifiers  map[string]Verifier
	reconciler *Reconciler
	issuer     CredentialIssuer
	userRepo   repository.UserRepository
}

// NewService はServiceを生成する。
func NewService(verifiers map[string]Verifier, reconciler *Reconciler, issuer CredentialIssuer, userRepo repository.UserRepository) *Service {
	return &Service{
		verifiers:  verifiers,
		reconciler: reconciler,
		issuer:     issuer,
		userRepo:   userRepo,
	}
}

// Login は指定プロバイダーのIDトークンを検証し、
// ユーザーを照合してセッショントークンを発行する。
func (s *Service) Login(ctx context.Context, provider, rawToken string) (*LoginResult, error) {
	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, model.NewProviderNotFoundError(provider)
	}

	claims, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			slog.Info("login rejected: invalid token",
				slog.String("provider", provider),
			)
			return nil, model.NewInvalidTokenError()
		case errors.Is(err, ErrProviderUnavailable):
			slog.Error("login failed: provider unavailable",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
			return nil, model.NewProviderUnavailableError()
		default:
			return nil, fmt.Errorf("failed to verify token: %w", err)
		}
	}

	result, err := s.reconciler.Reconcile(ctx, claims)
	if err != nil {
		if errors.Is(err, ErrConflictingAccount) {
			slog.Warn("login rejected: conflicting account",
				slog.String("provider", provider),
			)
			return nil, model.NewConflictingAccountError()
		}
		return nil, fmt.Errorf("failed to reconcile user: %w", err)
	}

	credential, err := s.issuer.Issue(result.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue credential: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", result.User.ID),
		slog.String("provider", provider),
		slog.Bool("is_new_user", result.IsNewUser),
	)

	return &LoginResult{
		User:       result.User,
		Credential: credential,
		IsNewUser:  result.IsNewUser,
	}, nil
}

// CurrentUser はセッショントークンから解決済みのユーザーIDでユーザーを取得する。
// ユーザーが削除済みの場合はUnauthorizedエラーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find current user: %w", err)
	}
	if user == nil {
		// トークンは有効だがユーザーが削除されている
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}
