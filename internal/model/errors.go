// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, user, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeConflictingAccount  = "CONFLICTING_ACCOUNT"
	ErrCodeProviderNotFound    = "PROVIDER_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeEmailConflict       = "EMAIL_CONFLICT"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// NewInvalidTokenError はIDトークン検証失敗エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "IDトークンが無効または期限切れです。",
		Category: "auth",
		Action:   "再度ログインしてIDトークンを取得し直してください。",
	}
}

// NewProviderUnavailableError はIdP到達不能エラーを生成する。
// 一時的な障害のため、呼び出し側でリトライ可能。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証プロバイダーに接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewConflictingAccountError はアカウント連携競合エラーを生成する。
// 同一メールアドレスのユーザーが別の外部IDに連携済みの場合に発生する。
func NewConflictingAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeConflictingAccount,
		Message:  "このメールアドレスは別のアカウントに連携されています。",
		Category: "auth",
		Action:   "以前ログインに使用したアカウントでログインしてください。",
	}
}

// NewProviderNotFoundError は未対応の認証プロバイダーエラーを生成する。
func NewProviderNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotFound,
		Message:  fmt.Sprintf("未対応の認証プロバイダーです: %s", provider),
		Category: "validation",
		Action:   "対応しているプロバイダー（google）を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewEmailConflictError はメールアドレス重複エラーを生成する。
func NewEmailConflictError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailConflict,
		Message:  fmt.Sprintf("このメールアドレスは既に使用されています: %s", email),
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
