// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/whatsub/usersvc/internal/model"
	"github.com/whatsub/usersvc/internal/repository"
)

// Service はユーザーCRUDのサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// CreateInput はユーザー作成の入力。
type CreateInput struct {
	Email        string
	FullName     string
	PrimaryPhone *string
}

// UpdateInput はユーザー更新の入力。nilのフィールドは更新しない。
type UpdateInput struct {
	Email        *string
	FullName     *string
	PrimaryPhone *string
}

// List は全ユーザーを返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}

// Create はユーザーを作成する。
// emailは必須かつRFC 5322形式であること。重複時はEMAIL_CONFLICTエラーを返す。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.User, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	newUser := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		FullName:     strings.TrimSpace(input.FullName),
		PrimaryPhone: input.PrimaryPhone,
	}

	if err := s.userRepo.Create(ctx, newUser); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailConflictError(email)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", newUser.ID),
	)

	return newUser, nil
}

// Update は指定フィールドのみを部分更新する。
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*model.User, error) {
	current, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	if input.Email != nil {
		email, err := normalizeEmail(*input.Email)
		if err != nil {
			return nil, err
		}
		current.Email = email
	}
	if input.FullName != nil {
		current.FullName = strings.TrimSpace(*input.FullName)
	}
	if input.PrimaryPhone != nil {
		// 空文字列は電話番号のクリアを意味する
		if *input.PrimaryPhone == "" {
			current.PrimaryPhone = nil
		} else {
			current.PrimaryPhone = input.PrimaryPhone
		}
	}

	updated, err := s.userRepo.Update(ctx, current)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailConflictError(current.Email)
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if updated == nil {
		// 取得と更新の間に削除された
		return nil, model.NewUserNotFoundError(id)
	}

	slog.Info("user updated",
		slog.String("user_id", id),
	)

	return updated, nil
}

// Delete は指定IDのユーザーを削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.userRepo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewUserNotFoundError(id)
	}

	slog.Info("user deleted",
		slog.String("user_id", id),
	)

	return nil
}

// normalizeEmail はメールアドレスを検証し、前後空白を除去して返す。
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", model.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("email format is invalid")
	}
	return email, nil
}
