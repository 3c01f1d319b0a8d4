// Package scan はタグスキャンイベントの相関と処理を担う。
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/chorecast/internal/mqtt"
	"github.com/hitoshi/chorecast/internal/repository"
)

// DefaultScanTimeout は管理クライアント起点のタグ読み取り待ちの既定期限。
const DefaultScanTimeout = 60 * time.Second

// Entry は進行中のタグ読み取りリクエスト1件の相関情報。
type Entry struct {
	RequestID string
	UserID    int64
	Username  string
	ClientID  string
	ReaderMac string
	timer     *time.Timer
}

// Correlator は管理クライアントのタグ読み取りリクエストとリーダーの
// スキャン結果を突き合わせる。エントリはrequestIdをキーに保持し、
// リーダーは同時に1リクエストにしか束縛されない。
type Correlator struct {
	mu        sync.Mutex
	byRequest map[string]*Entry
	byReader  map[string]string

	readers repository.ReaderRepository
	pub     mqtt.Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewCorrelator はCorrelatorを生成する。timeoutが0以下の場合は既定値を使う。
func NewCorrelator(readers repository.ReaderRepository, pub mqtt.Publisher, logger *slog.Logger, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &Correlator{
		byRequest: make(map[string]*Entry),
		byReader:  make(map[string]string),
		readers:   readers,
		pub:       pub,
		logger:    logger,
		timeout:   timeout,
	}
}

// Begin はタグ読み取りリクエストを受け付ける。オンラインのリーダーから
// 空いている最初の1台を選んで束縛し、スキャン開始コマンドを送る。
// 利用できるリーダーがない場合はエントリを作らず、エラーフィードバックを
// 即時に配信する。
func (c *Correlator) Begin(ctx context.Context, requestID string, userID int64, username, clientID string) error {
	if requestID == "" {
		return fmt.Errorf("requestIdが空です")
	}

	online, err := c.readers.ListOnline(ctx)
	if err != nil {
		return fmt.Errorf("オンラインリーダーの取得に失敗しました: %w", err)
	}

	c.mu.Lock()
	if _, exists := c.byRequest[requestID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("requestIdが重複しています: %s", requestID)
	}

	var readerMac string
	for _, reader := range online {
		if _, busy := c.byReader[reader.MacAddress]; !busy {
			readerMac = reader.MacAddress
			break
		}
	}
	if readerMac == "" {
		c.mu.Unlock()
		c.publishFeedback(mqtt.NewModalFeedback(requestID, "error", "No readers are online. Connect a reader and try again.", ""))
		return nil
	}

	entry := &Entry{
		RequestID: requestID,
		UserID:    userID,
		Username:  username,
		ClientID:  clientID,
		ReaderMac: readerMac,
	}
	entry.timer = time.AfterFunc(c.timeout, func() { c.expire(requestID) })
	c.byRequest[requestID] = entry
	c.byReader[readerMac] = requestID
	c.mu.Unlock()

	cmd := mqtt.ScanCommand{Command: "start_scan", RequestID: requestID, UserID: userID, Username: username}
	if err := c.pub.PublishJSON(mqtt.ScanCommandTopic(readerMac), cmd); err != nil {
		c.retire(requestID)
		return fmt.Errorf("スキャン開始コマンドの送信に失敗しました: %w", err)
	}

	c.logger.Info("タグ読み取りリクエストを受け付けました",
		slog.String("request_id", requestID),
		slog.String("reader_mac", readerMac))
	return nil
}

// Take はリーダーに束縛されたエントリを取り出す。取り出しと同時に
// エントリと束縛は消えるため、1リクエストは最大1回しか解決されない。
func (c *Correlator) Take(readerMac string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	requestID, ok := c.byReader[readerMac]
	if !ok {
		return nil, false
	}
	entry := c.byRequest[requestID]
	delete(c.byRequest, requestID)
	delete(c.byReader, readerMac)
	if entry != nil && entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, entry != nil
}

// Complete はスキャン結果をフィードバックとして配信する。
// Takeで取り出したエントリに対して呼ぶこと。
func (c *Correlator) Complete(entry *Entry, result mqtt.Scan) {
	status := "success"
	message := "Tag scanned."
	if result.TagID == "" || result.Status == "error" {
		status = "error"
		message = result.Message
		if message == "" {
			message = "No tag detected."
		}
	}
	c.publishFeedback(mqtt.NewModalFeedback(entry.RequestID, status, message, result.TagID))
}

// DropClient は切断した管理クライアントの保留中エントリを破棄し、
// 束縛されていたリーダーを解放する。
func (c *Correlator) DropClient(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for requestID, entry := range c.byRequest {
		if entry.ClientID != clientID {
			continue
		}
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(c.byRequest, requestID)
		delete(c.byReader, entry.ReaderMac)
		c.logger.Info("切断したクライアントのリクエストを破棄しました",
			slog.String("request_id", requestID),
			slog.String("client_id", clientID))
	}
}

// Pending は保留中のリクエスト数を返す。
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byRequest)
}

// expire はタイムアウトしたエントリを破棄し、タイムアウトを通知する。
func (c *Correlator) expire(requestID string) {
	c.mu.Lock()
	entry, ok := c.byRequest[requestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byRequest, requestID)
	delete(c.byReader, entry.ReaderMac)
	c.mu.Unlock()

	c.logger.Info("タグ読み取りリクエストがタイムアウトしました",
		slog.String("request_id", requestID),
		slog.String("reader_mac", entry.ReaderMac))
	c.publishFeedback(mqtt.NewModalFeedback(requestID, "error", "Scan timed out. No tag was detected.", ""))
}

// retire はエントリを通知なしで破棄する。
func (c *Correlator) retire(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byRequest[requestID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(c.byRequest, requestID)
	delete(c.byReader, entry.ReaderMac)
}

func (c *Correlator) publishFeedback(feedback mqtt.ModalFeedback) {
	if err := c.pub.PublishJSON(mqtt.TopicFeedback, feedback); err != nil {
		c.logger.Error("フィードバックの配信に失敗しました",
			slog.String("request_id", feedback.RequestID),
			slog.String("error", err.Error()))
	}
}
