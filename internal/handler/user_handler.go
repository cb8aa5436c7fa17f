package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/whatsub/usersvc/internal/metrics"
	"github.com/whatsub/usersvc/internal/model"
	"github.com/whatsub/usersvc/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, input user.CreateInput) (*model.User, error)
	Update(ctx context.Context, id string, input user.UpdateInput) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// userResponse はユーザーのJSON表現。
// google_idは内部識別子のため公開しない。
type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PrimaryPhone *string   `json:"primary_phone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// toUserResponse はドメインのUserをレスポンス型に変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		PrimaryPhone: u.PrimaryPhone,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// createUserRequest はユーザー作成リクエストのJSON表現。
type createUserRequest struct {
	Email        string  `json:"email"`
	FullName     string  `json:"full_name"`
	PrimaryPhone *string `json:"primary_phone"`
}

// updateUserRequest はユーザー更新リクエストのJSON表現。
// 省略されたフィールドは更新しない。
type updateUserRequest struct {
	Email        *string `json:"email"`
	FullName     *string `json:"full_name"`
	PrimaryPhone *string `json:"primary_phone"`
}

// UserHandler はユーザーCRUDのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	metrics metrics.MetricsCollector
}

// NewUserHandler はUserHandlerを生成する。metricsはnil可。
func NewUserHandler(service UserServiceInterface, collector metrics.MetricsCollector) *UserHandler {
	return &UserHandler{
		service: service,
		metrics: collector,
	}
}

// ListUsers はユーザー一覧を返す。
// GET /users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]userResponse, len(users))
	for i, u := range users {
		responses[i] = toUserResponse(u)
	}

	writeJSONResponse(w, http.StatusOK, responses)
}

// GetUser はユーザー詳細を返す。
// GET /users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(u))
}

// CreateUser はユーザーを作成する。
// POST /users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディのJSONが不正です"))
		return
	}

	created, err := h.service.Create(r.Context(), user.CreateInput{
		Email:        req.Email,
		FullName:     req.FullName,
		PrimaryPhone: req.PrimaryPhone,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUserCreated()
	}

	writeJSONResponse(w, http.StatusCreated, toUserResponse(created))
}

// UpdateUser はユーザーを部分更新する。
// PATCH /users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディのJSONが不正です"))
		return
	}

	updated, err := h.service.Update(r.Context(), id, user.UpdateInput{
		Email:        req.Email,
		FullName:     req.FullName,
		PrimaryPhone: req.PrimaryPhone,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toUserResponse(updated))
}

// DeleteUser はユーザーを削除する。
// DELETE /users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUserDeleted()
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
