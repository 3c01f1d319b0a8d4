// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はブローカーとワーカーの動作指標を収集する。
type Collector struct {
	scansReceived  prometheus.Counter
	scansRejected  *prometheus.CounterVec
	scansCompleted prometheus.Counter
	verifyFailures prometheus.Counter
	bansIssued     prometheus.Counter
	webhooksSent   prometheus.Counter
	webhooksFailed prometheus.Counter
	readersOnline  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scansReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_scans_received_total",
			Help: "受信したタグスキャンの合計数",
		}),
		scansRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chorecast_scans_rejected_total",
			Help: "拒否コード別のスキャン拒否数",
		}, []string{"code"}),
		scansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_chores_completed_total",
			Help: "記録されたチョア完了の合計数",
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_verify_failures_total",
			Help: "デバイス署名検証失敗の合計数",
		}),
		bansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_bans_issued_total",
			Help: "発動したデバイスBANの合計数",
		}),
		webhooksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_webhooks_sent_total",
			Help: "送信に成功したWebhookの合計数",
		}),
		webhooksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chorecast_webhooks_failed_total",
			Help: "送信に失敗したWebhookの合計数",
		}),
		readersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chorecast_readers_online",
			Help: "現在オンラインのリーダー台数",
		}),
	}

	reg.MustRegister(
		c.scansReceived,
		c.scansRejected,
		c.scansCompleted,
		c.verifyFailures,
		c.bansIssued,
		c.webhooksSent,
		c.webhooksFailed,
		c.readersOnline,
	)

	return c
}

// ScanReceived はタグスキャンの受信を記録する。
func (c *Collector) ScanReceived() {
	c.scansReceived.Inc()
}

// ScanRejected はスキャン拒否を拒否コード付きで記録する。
func (c *Collector) ScanRejected(code string) {
	c.scansRejected.WithLabelValues(code).Inc()
}

// ChoreCompleted はチョア完了の記録を記録する。
func (c *Collector) ChoreCompleted() {
	c.scansCompleted.Inc()
}

// VerifyFailed は署名検証の失敗を記録する。
func (c *Collector) VerifyFailed() {
	c.verifyFailures.Inc()
}

// BanIssued はデバイスBANの発動を記録する。
func (c *Collector) BanIssued() {
	c.bansIssued.Inc()
}

// WebhookSent はWebhook送信の成功を記録する。
func (c *Collector) WebhookSent() {
	c.webhooksSent.Inc()
}

// WebhookFailed はWebhook送信の失敗を記録する。
func (c *Collector) WebhookFailed() {
	c.webhooksFailed.Inc()
}

// SetReadersOnline はオンラインのリーダー台数を更新する。
func (c *Collector) SetReadersOnline(n int) {
	c.readersOnline.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
