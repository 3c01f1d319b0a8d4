package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
)

// Tracker はリーダーの在席状態を追跡し、変化をステータストピックへ配信する。
type Tracker struct {
	readers repository.ReaderRepository
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker はTrackerを生成する。
func NewTracker(readers repository.ReaderRepository, pub Publisher, logger *slog.Logger) *Tracker {
	return &Tracker{
		readers: readers,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleConnect はリーダー接続時の処理。登録済みのリーダーなら
// オンライン扱いにしてステータスを配信する。未登録なら登録publish待ち。
func (t *Tracker) HandleConnect(ctx context.Context, macAddress string) error {
	reader, err := t.readers.FindByMac(ctx, macAddress)
	if err != nil {
		return fmt.Errorf("接続リーダーの検索に失敗しました: %w", err)
	}
	if reader == nil {
		return nil
	}
	if err := t.readers.SetOnline(ctx, macAddress, true, t.now()); err != nil {
		return err
	}
	reader.IsOnline = true
	t.broadcast(reader)
	t.logger.Info("リーダーが接続しました", slog.String("mac_address", macAddress))
	return nil
}

// HandleDisconnect はリーダー切断時の処理。
func (t *Tracker) HandleDisconnect(ctx context.Context, macAddress string) error {
	reader, err := t.readers.FindByMac(ctx, macAddress)
	if err != nil {
		return fmt.Errorf("切断リーダーの検索に失敗しました: %w", err)
	}
	if reader == nil {
		return nil
	}
	if err := t.readers.SetOnline(ctx, macAddress, false, t.now()); err != nil {
		return err
	}
	reader.IsOnline = false
	t.broadcast(reader)
	t.logger.Info("リーダーが切断しました", slog.String("mac_address", macAddress))
	return nil
}

// HandleRegistered は登録受理後の処理。保存済みの行を読み直して配信する。
func (t *Tracker) HandleRegistered(ctx context.Context, macAddress string) error {
	reader, err := t.readers.FindByMac(ctx, macAddress)
	if err != nil {
		return fmt.Errorf("登録リーダーの読み直しに失敗しました: %w", err)
	}
	if reader == nil {
		return fmt.Errorf("登録直後のリーダー行が見つかりません: %s", macAddress)
	}
	t.broadcast(reader)
	return nil
}

// HandleStatus はハートビートpublishの処理。トピックのMACとペイロードの
// MACが食い違う場合はstatus_rejectedコマンドで拒否する。
func (t *Tracker) HandleStatus(ctx context.Context, topicMac string, status ReaderStatus) error {
	if status.MacAddress != topicMac {
		t.logger.Warn("ハートビートのMACアドレスがトピックと一致しません",
			slog.String("topic_mac", topicMac),
			slog.String("payload_mac", status.MacAddress))
		cmd := Command{Status: "status_rejected", Message: "Status payload does not match this reader."}
		if err := t.pub.PublishJSON(CommandTopic(topicMac), cmd); err != nil {
			return err
		}
		return nil
	}

	if err := t.readers.RefreshNetwork(ctx, topicMac, status.IPAddress, t.now()); err != nil {
		return err
	}
	reader, err := t.readers.FindByMac(ctx, topicMac)
	if err != nil || reader == nil {
		return err
	}
	reader.IsOnline = true
	t.broadcast(reader)
	return nil
}

// SweepStale はオンライン扱いのまましばらくハートビートのないリーダーを
// 強制的にオフラインへ落とす。落とした台数を返す。
func (t *Tracker) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := t.now()
	stale, err := t.readers.ListStale(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("停滞リーダーの取得に失敗しました: %w", err)
	}

	swept := 0
	for _, reader := range stale {
		if err := t.readers.SetOnline(ctx, reader.MacAddress, false, now); err != nil {
			t.logger.Error("停滞リーダーのオフライン化に失敗しました",
				slog.String("mac_address", reader.MacAddress),
				slog.String("error", err.Error()))
			continue
		}
		reader.IsOnline = false
		t.broadcast(reader)
		swept++
		t.logger.Info("ハートビート途絶のリーダーをオフラインにしました",
			slog.String("mac_address", reader.MacAddress),
			slog.Time("last_seen", reader.LastSeen))
	}
	return swept, nil
}

// broadcast は解決済みの表示名付きでステータスを配信する。
func (t *Tracker) broadcast(reader *model.Reader) {
	status := ReaderStatus{
		MacAddress: reader.MacAddress,
		Name:       reader.DisplayName(),
		IPAddress:  reader.IPAddress,
		Online:     reader.IsOnline,
	}
	if err := t.pub.PublishJSON(StatusTopic(reader.MacAddress), status); err != nil {
		t.logger.Error("リーダーステータスの配信に失敗しました",
			slog.String("mac_address", reader.MacAddress),
			slog.String("error", err.Error()))
	}
}
