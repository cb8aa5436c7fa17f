package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/whatsub/usersvc/internal/metrics"
	"github.com/whatsub/usersvc/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenValidator    middleware.TokenValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface

	// ヘルスチェック
	DB DBPinger

	// メトリクス（nil可。nilの場合は計測とスクレイプを無効化する）
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging(アプリ側で設定) → Instrument → RateLimit
//
// ヘルスチェックと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}
	if deps.Collector != nil {
		r.Use(metrics.NewInstrumentMiddleware(deps.Collector))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Collector)
	userHandler := NewUserHandler(deps.UserService, deps.Collector)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 運用エンドポイント（レート制限の外） ---
	r.Get("/health", healthHandler.Health)
	r.Get("/db-health", healthHandler.DBHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIエンドポイント ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証
		r.Route("/auth", func(r chi.Router) {
			// ログインは総当たり対策の専用レート制限を追加
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/{provider}", authHandler.Login)

			// Bearerトークン必須
			r.With(middleware.NewAuthMiddleware(deps.TokenValidator)).Get("/me", authHandler.Me)
		})

		// ユーザー管理
		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			r.Post("/", userHandler.CreateUser)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.GetUser)
				r.Patch("/", userHandler.UpdateUser)
				r.Delete("/", userHandler.DeleteUser)
			})
		})
	})

	return r
}
