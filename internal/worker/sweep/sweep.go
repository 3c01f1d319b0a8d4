// Package sweep はリーダーの死活監視ジョブを提供する。
// 一定時間ハートビートのないリーダーをオフラインへ落とし、
// オンライン台数のゲージを更新する。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/mqtt"
	"github.com/hitoshi/chorecast/internal/repository"
)

// Worker はリーダー死活監視の定期実行ジョブ。
type Worker struct {
	tracker   *mqtt.Tracker
	readers   repository.ReaderRepository
	collector *metrics.Collector
	logger    *slog.Logger
	threshold time.Duration
}

// NewWorker はWorkerを生成する。collectorはnilでもよい。
func NewWorker(
	tracker *mqtt.Tracker,
	readers repository.ReaderRepository,
	collector *metrics.Collector,
	threshold time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		tracker:   tracker,
		readers:   readers,
		collector: collector,
		logger:    logger,
		threshold: threshold,
	}
}

// Run は一定間隔でスイープを実行する。コンテキストがキャンセルされるまで継続する。
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("リーダー死活監視を開始しました",
		slog.Duration("interval", interval),
		slog.Duration("threshold", w.threshold),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("リーダー死活監視を停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("リーダー死活監視の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はスイープを1回実行し、オンライン台数ゲージを更新する。
func (w *Worker) RunOnce(ctx context.Context) error {
	swept, err := w.tracker.SweepStale(ctx, w.threshold)
	if err != nil {
		return err
	}
	if swept > 0 {
		w.logger.Info("応答のないリーダーをオフラインにしました",
			slog.Int("swept", swept),
		)
	}

	if w.collector != nil {
		online, err := w.readers.ListOnline(ctx)
		if err != nil {
			return err
		}
		w.collector.SetReadersOnline(len(online))
	}
	return nil
}
