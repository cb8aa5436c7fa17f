// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやミドルウェアから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordLoginSuccess(provider string, isNewUser bool)
	RecordLoginFailure(provider string, reason string)
	RecordUserCreated()
	RecordUserDeleted()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	loginSuccess   *prometheus.CounterVec
	loginFailure   *prometheus.CounterVec
	usersCreated   prometheus.Counter
	usersDeleted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usersvc_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usersvc_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usersvc_login_success_total",
			Help: "ログイン成功の合計数（プロバイダー・新規ユーザー別）",
		}, []string{"provider", "is_new_user"}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usersvc_login_failure_total",
			Help: "ログイン失敗の合計数（プロバイダー・理由別）",
		}, []string{"provider", "reason"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usersvc_users_created_total",
			Help: "作成されたユーザーの合計数",
		}),
		usersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usersvc_users_deleted_total",
			Help: "削除されたユーザーの合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.loginSuccess,
		c.loginFailure,
		c.usersCreated,
		c.usersDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess(provider string, isNewUser bool) {
	c.loginSuccess.WithLabelValues(provider, strconv.FormatBool(isNewUser)).Inc()
}

// RecordLoginFailure はログイン失敗を理由別に記録する。
func (c *Collector) RecordLoginFailure(provider string, reason string) {
	c.loginFailure.WithLabelValues(provider, reason).Inc()
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordUserDeleted はユーザー削除を記録する。
func (c *Collector) RecordUserDeleted() {
	c.usersDeleted.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
