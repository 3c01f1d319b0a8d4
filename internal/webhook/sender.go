package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/repository"
)

// Sender は日次サマリWebhookの定期送信と再送要求の取りまとめを行う。
// 起動直後、一定間隔、チョア完了後、未実施スイープ後に送信される。
type Sender struct {
	builder  *Builder
	client   *Client
	settings repository.SettingsRepository
	logger   *slog.Logger
	location *time.Location
	refresh  chan struct{}

	// テストで時刻を差し替えるためのフック
	now func() time.Time
}

// NewSender はSenderを生成する。
func NewSender(
	builder *Builder,
	client *Client,
	settings repository.SettingsRepository,
	location *time.Location,
	logger *slog.Logger,
) *Sender {
	return &Sender{
		builder:  builder,
		client:   client,
		settings: settings,
		logger:   logger,
		location: location,
		refresh:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Refresh はサマリの再送を要求する。送信ループが処理するまで
// 複数回の要求は1回にまとめられ、ブロックしない。
func (s *Sender) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Run は送信ループを起動する。コンテキストがキャンセルされるまで
// 一定間隔および再送要求に応じてサマリを送信する。
func (s *Sender) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("日次サマリWebhookの送信ループを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回送信
	s.SendOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("日次サマリWebhookの送信ループを停止しました")
			return
		case <-ticker.C:
			s.SendOnce(ctx)
		case <-s.refresh:
			s.SendOnce(ctx)
		}
	}
}

// SendOnce は日次サマリを1回送信する。
// Home AssistantのWebhook URLが未設定の場合は何もしない。
// 送信失敗はログに記録するのみで、次の周期で再試行される。
func (s *Sender) SendOnce(ctx context.Context) {
	settings, err := s.settings.GetAll(ctx)
	if err != nil {
		s.logger.Error("設定の読み出しに失敗しました", slog.String("error", err.Error()))
		return
	}
	if settings.HAWebhookURL == "" {
		s.logger.Debug("Home AssistantのWebhook URLが未設定のためサマリ送信をスキップします")
		return
	}

	payload, err := s.builder.Build(ctx, s.now().In(s.location))
	if err != nil {
		s.logger.Error("日次サマリの組み立てに失敗しました", slog.String("error", err.Error()))
		return
	}

	if err := s.client.Post(ctx, settings.HAWebhookURL, payload, ""); err != nil {
		s.logger.Error("日次サマリWebhookの送信に失敗しました", slog.String("error", err.Error()))
		return
	}
}
