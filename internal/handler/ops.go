// Package handler は運用系HTTPエンドポイントのルーティングを提供する。
// MQTTブローカーとは独立したポートで/healthと/metricsを公開する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/middleware"
)

// pingTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const pingTimeout = 2 * time.Second

// Pinger はデータベース疎通確認のインターフェース。*sql.DBを受け付ける。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsDeps はNewOpsRouterに必要な依存関係をまとめた構造体。
type OpsDeps struct {
	DB       Pinger
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger // 省略時はslog.Default()
}

// NewOpsRouter は運用系エンドポイントのルーティングを構成したchi.Routerを返す。
func NewOpsRouter(deps *OpsDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))

	r.Get("/health", healthHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}

// healthHandler はDB疎通を確認し、結果をJSONで返すハンドラを生成する。
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
