// Package stats は(日付, チョア, ユーザー)単位の日次統計を管理する。
// 書き込みはすべてストア側の条件付きUPSERTに委ねており、同じ事実を
// 何度記録しても結果が変わらない。
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
)

// Engine は日次統計の更新と失敗スイープを提供する。
type Engine struct {
	stats  repository.StatsRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(stats repository.StatsRepository, logger *slog.Logger) *Engine {
	return &Engine{
		stats:  stats,
		logger: logger,
		now:    time.Now,
	}
}

// RecordAssigned は指定日の担当を記録する。assigned_countはGREATESTで
// 更新されるため、同じ日に何度呼んでも1のまま変わらない。
func (e *Engine) RecordAssigned(ctx context.Context, isoDate string, chore *model.Chore, user *model.User) error {
	stat := &model.DailyStat{
		StatDate:  isoDate,
		ChoreID:   chore.ID,
		UserID:    user.ID,
		ChoreName: chore.Name,
		UserName:  user.Username,
	}
	if err := e.stats.UpsertDaily(ctx, stat, model.StatAssigned, e.now()); err != nil {
		return fmt.Errorf("担当の記録に失敗しました: %w", err)
	}
	return nil
}

// RecordCompleted はチョア完了を記録する。completed_countは加算で、
// completion_timestampには完了時刻が設定される。
func (e *Engine) RecordCompleted(ctx context.Context, isoDate string, chore *model.Chore, user *model.User, completedAt time.Time) error {
	stat := &model.DailyStat{
		StatDate:  isoDate,
		ChoreID:   chore.ID,
		UserID:    user.ID,
		ChoreName: chore.Name,
		UserName:  user.Username,
	}
	if err := e.stats.UpsertDaily(ctx, stat, model.StatCompleted, completedAt); err != nil {
		return fmt.Errorf("完了の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkMissedBefore は指定日より前の未解決の担当を失敗として記録し、
// 記録した行数を返す。完了済みの行と当日以降の行には決して触れない。
// 1行の失敗は記録して続行する。
func (e *Engine) MarkMissedBefore(ctx context.Context, today string) (int, error) {
	rows, err := e.stats.ListUnresolvedBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("未解決統計の取得に失敗しました: %w", err)
	}

	marked := 0
	for _, stat := range rows {
		if stat.StatDate >= today || stat.AssignedCount == 0 ||
			stat.CompletedCount > 0 || stat.MissedCount > 0 {
			continue
		}
		if err := e.stats.UpsertDaily(ctx, stat, model.StatMissed, e.now()); err != nil {
			e.logger.Error("失敗チョアの記録に失敗しました",
				slog.String("stat_date", stat.StatDate),
				slog.Int64("chore_id", stat.ChoreID),
				slog.Int64("user_id", stat.UserID),
				slog.String("error", err.Error()))
			continue
		}
		marked++
	}

	if marked > 0 {
		e.logger.Info("失敗チョアを記録しました",
			slog.String("before", today), slog.Int("marked", marked))
	}
	return marked, nil
}
