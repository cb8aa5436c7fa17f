package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// DBPinger はデータベースの疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db DBPinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db DBPinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health はプロセスの生存確認に応答する。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DBHealth はデータベース接続を確認して応答する。
// GET /db-health
func (h *HealthHandler) DBHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Error("database health check failed",
			slog.String("error", err.Error()),
		)
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{
			"status":   "unavailable",
			"database": "unreachable",
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "reachable",
	})
}
