package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/whatsub/usersvc/internal/model"
	"github.com/whatsub/usersvc/internal/repository"
)

// ErrConflictingAccount は、IdP上のメールアドレスが
// 別のgoogle_idに連携済みのユーザーと衝突することを表す。
var ErrConflictingAccount = errors.New("email belongs to a differently-linked account")

// Reconciler は検証済みクレームをusersテーブルと突き合わせ、
// ログイン対象のユーザーを確定する。
type Reconciler struct {
	userRepo repository.UserRepository
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(userRepo repository.UserRepository) *Reconciler {
	return &Reconciler{userRepo: userRepo}
}

// ReconcileResult は照合結果。
type ReconcileResult struct {
	User *model.User
	// IsNewUser はこのログインでユーザーが新規作成されたことを示す。
	IsNewUser bool
}

// Reconcile はクレームをユーザーに解決する。3つの経路がある:
//  1. google_id一致 → プロフィールを更新してログイン
//  2. email一致かつ未連携 → google_idを連携してログイン
//  3. 該当なし → 新規ユーザーを作成してログイン
//
// email一致だが別のgoogle_idに連携済みの場合はErrConflictingAccountを返す。
// ユニーク制約違反（同時ログイン競合）は1回だけ照合をやり直す。
func (r *Reconciler) Reconcile(ctx context.Context, claims *VerifiedClaims) (*ReconcileResult, error) {
	result, err := r.reconcileOnce(ctx, claims)
	if err == nil {
		return result, nil
	}

	// 同一ユーザーの同時ログインでINSERT/UPDATEが競合した場合、
	// 勝者のレコードが既に存在するため再照合で解決できる。
	if errors.Is(err, repository.ErrDuplicateEmail) ||
		errors.Is(err, repository.ErrDuplicateGoogleID) ||
		errors.Is(err, repository.ErrAlreadyLinked) {
		slog.Info("login race detected, retrying reconciliation",
			slog.String("google_id", claims.Subject),
		)
		return r.reconcileOnce(ctx, claims)
	}

	return nil, err
}

func (r *Reconciler) reconcileOnce(ctx context.Context, claims *VerifiedClaims) (*ReconcileResult, error) {
	// 経路1: google_idで既存ユーザーを検索
	existing, err := r.userRepo.FindByGoogleID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google_id: %w", err)
	}
	if existing != nil {
		return r.refreshExisting(ctx, existing, claims)
	}

	// 経路2: emailで既存ユーザーを検索し、未連携ならgoogle_idを連携
	byEmail, err := r.userRepo.FindByEmail(ctx, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if byEmail != nil {
		if byEmail.GoogleID != nil {
			if *byEmail.GoogleID == claims.Subject {
				// 同一google_idの同時初回ログインで、経路1の照合後に
				// 勝者のINSERTがコミットされるとここに到達する。
				// 既存ユーザーとして扱い、経路1と同様にプロフィールを更新する。
				return r.refreshExisting(ctx, byEmail, claims)
			}
			// 同じemailが別のgoogle_idに連携済み。自動連携はしない。
			return nil, ErrConflictingAccount
		}
		linked, err := r.userRepo.LinkGoogleID(ctx, byEmail.ID, claims.Subject, claims.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to link google_id: %w", err)
		}
		slog.Info("linked google account to existing user",
			slog.String("user_id", linked.ID),
		)
		return &ReconcileResult{User: linked}, nil
	}

	// 経路3: 新規ユーザーを作成
	return r.createUser(ctx, claims)
}

// refreshExisting は連携済みユーザーのプロフィールを更新してログイン対象として返す。
func (r *Reconciler) refreshExisting(ctx context.Context, existing *model.User, claims *VerifiedClaims) (*ReconcileResult, error) {
	if existing.Email != claims.Email {
		// IdP側でメールアドレスが変更されている。保存済みのemailを維持する。
		slog.Warn("upstream email differs from stored email",
			slog.String("user_id", existing.ID),
		)
	}
	updated, err := r.userRepo.RefreshProfile(ctx, existing.ID, claims.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh profile: %w", err)
	}
	if updated == nil {
		// 照合と更新の間に削除された。新規作成経路にフォールバックする。
		return r.createUser(ctx, claims)
	}
	return &ReconcileResult{User: updated}, nil
}

func (r *Reconciler) createUser(ctx context.Context, claims *VerifiedClaims) (*ReconcileResult, error) {
	googleID := claims.Subject
	newUser := &model.User{
		ID:       uuid.New().String(),
		Email:    claims.Email,
		FullName: claims.Name,
		GoogleID: &googleID,
	}

	if err := r.userRepo.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created via login",
		slog.String("user_id", newUser.ID),
	)

	return &ReconcileResult{User: newUser, IsNewUser: true}, nil
}
