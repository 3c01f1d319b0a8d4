// Package webhook は外部通知サービスへのHTTP配送を提供する。
// Nudgrリマインダー送信とHome Assistantへの日次サマリ送信を含む。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/chorecast/internal/metrics"
)

// nudgrAPIPath はNudgrのリマインダー受付エンドポイント。
// APIキー付きの送信先URLがこのパスで終わっていない場合に補完する。
const nudgrAPIPath = "/api/reminders"

// NudgrReminder はNudgrへ送信するリマインダーペイロード。
type NudgrReminder struct {
	Text          string `json:"text"`
	DueDatetime   string `json:"due_datetime"`
	Recipient     string `json:"recipient"`
	Priority      int    `json:"priority"`
	IsRelentless  bool   `json:"is_relentless"`
	AlertLeadTime string `json:"alert_lead_time"`
}

// Client はレート制限付きのWebhook配送クライアント。
// 家庭内LAN上のHome Assistant等へ送る構成ではallowPrivate=trueで
// 素のHTTPクライアントを使い、そうでなければsafeurlで
// プライベートIP・ループバック・メタデータIPへの送信をブロックする。
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewClient はWebhook配送クライアントを生成する。
// collectorはnilでもよい（テスト用）。
func NewClient(timeout time.Duration, allowPrivate bool, ratePerSec float64, collector *metrics.Collector, logger *slog.Logger) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		http:      newHTTPClient(timeout, allowPrivate),
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		collector: collector,
		logger:    logger,
	}
}

// newHTTPClient は送信に使うHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスも検証するため、
// DNS再バインディング攻撃にも対応している。
func newHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{Timeout: timeout}
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// Post はJSONペイロードをPOSTで配送する。
// レート制限を通過してから送信し、2xx以外の応答はエラーとして扱う。
// apiKeyが空でなければX-API-Keyヘッダーを付与する。
func (c *Client) Post(ctx context.Context, url string, payload any, apiKey string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook送信のレート制限待機に失敗しました: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhookペイロードのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhookリクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("webhookの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	// 応答ボディは読み捨てる（コネクション再利用のため）
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return fmt.Errorf("webhookが失敗応答を返しました: status=%d url=%s", resp.StatusCode, url)
	}

	c.recordSuccess()
	c.logger.Info("webhookを送信しました",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}

// SendNudgr はNudgrへリマインダーを送信する。
// APIキーが設定されている場合、URLが/api/remindersで終わっていなければ補完する。
func (c *Client) SendNudgr(ctx context.Context, baseURL, apiKey string, reminder NudgrReminder) error {
	url := baseURL
	if apiKey != "" && !strings.HasSuffix(url, nudgrAPIPath) {
		url += nudgrAPIPath
	}
	return c.Post(ctx, url, reminder, apiKey)
}

func (c *Client) recordSuccess() {
	if c.collector != nil {
		c.collector.WebhookSent()
	}
}

func (c *Client) recordFailure() {
	if c.collector != nil {
		c.collector.WebhookFailed()
	}
}
