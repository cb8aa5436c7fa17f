// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/whatsub/usersvc/internal/auth"
	"github.com/whatsub/usersvc/internal/metrics"
	"github.com/whatsub/usersvc/internal/middleware"
	"github.com/whatsub/usersvc/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Login はIDトークンを検証し、セッショントークンを発行する。
	Login(ctx context.Context, provider, rawToken string) (*auth.LoginResult, error)
	// CurrentUser は認証済みユーザーIDからユーザーを取得する。
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// loginRequest はログインリクエストのJSON表現。
type loginRequest struct {
	IDToken string `json:"id_token"`
}

// loginResponse はログイン成功レスポンスのJSON表現。
type loginResponse struct {
	User      userResponse  `json:"user"`
	Token     tokenResponse `json:"token"`
	IsNewUser bool          `json:"is_new_user"`
}

// tokenResponse はセッショントークンのJSON表現。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。metricsはnil可。
func NewAuthHandler(service AuthServiceInterface, collector metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: collector,
	}
}

// Login は外部IdPのIDトークンでログインし、セッショントークンを発行する。
// POST /auth/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディのJSONが不正です"))
		return
	}
	if req.IDToken == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id_tokenは必須です"))
		return
	}

	result, err := h.service.Login(r.Context(), provider, req.IDToken)
	if err != nil {
		h.recordLoginFailure(provider, err)
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLoginSuccess(provider, result.IsNewUser)
	}

	writeJSONResponse(w, http.StatusOK, loginResponse{
		User: toUserResponse(result.User),
		Token: tokenResponse{
			AccessToken: result.Credential.AccessToken,
			TokenType:   result.Credential.TokenType,
			ExpiresIn:   result.Credential.ExpiresIn,
		},
		IsNewUser: result.IsNewUser,
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me（要Bearerトークン）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(u))
}

// recordLoginFailure はログイン失敗メトリクスを理由付きで記録する。
func (h *AuthHandler) recordLoginFailure(provider string, err error) {
	if h.metrics == nil {
		return
	}

	reason := "internal_error"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeInvalidToken:
			reason = "invalid_token"
		case model.ErrCodeProviderUnavailable:
			reason = "provider_unavailable"
		case model.ErrCodeConflictingAccount:
			reason = "conflicting_account"
		case model.ErrCodeProviderNotFound:
			reason = "provider_not_found"
		}
	}

	h.metrics.RecordLoginFailure(provider, reason)
}
