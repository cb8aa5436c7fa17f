// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/whatsub/usersvc/internal/model"
)

// ユニーク制約違反を表すエラー。
// PostgreSQLのunique_violation（23505）をアプリケーション層で判別するために使用する。
var (
	// ErrDuplicateEmail はemailのユニーク制約違反を表す。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicateGoogleID はgoogle_idのユニーク制約違反を表す。
	ErrDuplicateGoogleID = errors.New("google_id already exists")
	// ErrAlreadyLinked は連携対象のユーザーが既にgoogle_id連携済みであることを表す。
	// 同時ログインで別リクエストが先に連携を完了した場合に発生する。
	ErrAlreadyLinked = errors.New("user already linked to a google_id")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID は指定google_idのユーザーを取得する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// List は全ユーザーを作成日時昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。
	// email/google_idのユニーク制約違反時はErrDuplicateEmail/ErrDuplicateGoogleIDを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザー情報を更新し、更新後のユーザーを返す。
	// 対象が存在しない場合はnilを返す。
	// emailのユニーク制約違反時はErrDuplicateEmailを返す。
	Update(ctx context.Context, user *model.User) (*model.User, error)

	// RefreshProfile はログイン時のプロフィール更新を行う。
	// full_nameとupdated_atのみを更新し、更新後のユーザーを返す。
	// 対象が存在しない場合はnilを返す。
	RefreshProfile(ctx context.Context, id, fullName string) (*model.User, error)

	// LinkGoogleID は未連携のユーザーにgoogle_idを連携し、
	// あわせてfull_nameとupdated_atを更新して更新後のユーザーを返す。
	// 対象が既に連携済みの場合はErrAlreadyLinkedを返す。
	// google_idが他ユーザーに連携済みの場合はErrDuplicateGoogleIDを返す。
	LinkGoogleID(ctx context.Context, id, googleID, fullName string) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 対象が存在しない場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
}
