// Package daily は日付境界で実行するバッチジョブを提供する。
// 深夜0時の当日割り当て記帳と、その5分後の未実施スイープを含む。
package daily

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/assign"
	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
	"github.com/hitoshi/chorecast/internal/stats"
)

// missedSweepDelay は割り当て記帳から未実施スイープまでの間隔。
const missedSweepDelay = 5 * time.Minute

// Refresher は日次サマリの再送を要求するインターフェース。
type Refresher interface {
	Refresh()
}

// Worker は日付境界のバッチジョブ。
// 割り当て記帳はMAX更新、未実施スイープはカウンタでゲートされるため、
// プロセス再起動で同日に再実行されても結果は変わらない。
type Worker struct {
	chores   repository.ChoreRepository
	users    repository.UserRepository
	engine   *stats.Engine
	summary  Refresher
	location *time.Location
	logger   *slog.Logger

	// テストで時刻を差し替えるためのフック
	now func() time.Time
}

// NewWorker はWorkerを生成する。summaryはnilでもよい。
func NewWorker(
	chores repository.ChoreRepository,
	users repository.UserRepository,
	engine *stats.Engine,
	summary Refresher,
	location *time.Location,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		chores:   chores,
		users:    users,
		engine:   engine,
		summary:  summary,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は日次ジョブのループを起動する。起動直後に1回補完実行し、
// 以後は毎日0時に割り当て記帳、0時5分に未実施スイープを実行する。
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("日次バッチジョブを開始しました")

	// 起動直後の補完実行。どちらも冪等。
	w.runBoth(ctx)

	for {
		next := nextMidnight(w.now().In(w.location))
		timer := time.NewTimer(next.Sub(w.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("日次バッチジョブを停止しました")
			return
		case <-timer.C:
		}

		if err := w.RunAssignSweep(ctx); err != nil {
			w.logger.Error("当日割り当て記帳に失敗しました", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("日次バッチジョブを停止しました")
			return
		case <-time.After(missedSweepDelay):
		}

		if err := w.RunMissedSweep(ctx); err != nil {
			w.logger.Error("未実施スイープに失敗しました", slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) runBoth(ctx context.Context) {
	if err := w.RunAssignSweep(ctx); err != nil {
		w.logger.Error("当日割り当て記帳に失敗しました", slog.String("error", err.Error()))
	}
	if err := w.RunMissedSweep(ctx); err != nil {
		w.logger.Error("未実施スイープに失敗しました", slog.String("error", err.Error()))
	}
}

// RunAssignSweep は当日期限の全チョアについて担当者を解決し、
// 日次統計へ「割り当て」を記帳する。記帳はMAX更新のため何度実行しても
// カウントは増えない。
func (w *Worker) RunAssignSweep(ctx context.Context) error {
	now := w.now().In(w.location)
	isoDate := now.Format("2006-01-02")
	weekday := int(now.Weekday())

	chores, schedules, err := w.chores.ListEnabledWithSchedules(ctx)
	if err != nil {
		return fmt.Errorf("チョア一覧の取得に失敗しました: %w", err)
	}

	recorded := 0
	for _, chore := range chores {
		userIDs, err := w.assigneesFor(ctx, chore, schedules[chore.ID], isoDate, weekday)
		if err != nil {
			w.logger.Error("担当者の解決に失敗しました",
				slog.Int64("chore_id", chore.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, userID := range userIDs {
			user, err := w.users.FindByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("担当者の取得に失敗しました: %w", err)
			}
			if user == nil {
				continue
			}
			if err := w.engine.RecordAssigned(ctx, isoDate, chore, user); err != nil {
				w.logger.Error("割り当ての記帳に失敗しました",
					slog.Int64("chore_id", chore.ID),
					slog.Int64("user_id", userID),
					slog.String("error", err.Error()),
				)
				continue
			}
			recorded++
		}
	}

	w.logger.Info("当日割り当て記帳が完了しました",
		slog.String("date", isoDate),
		slog.Int("recorded", recorded),
	)
	return nil
}

// assigneesFor は当日の担当者一覧を解決する。
// 手動割り当ては当日有効な全スケジュールの指定ユーザー、
// プール型は日付決定的な1名を返す。当日対象外なら空を返す。
func (w *Worker) assigneesFor(ctx context.Context, chore *model.Chore, schedules []*model.Schedule, isoDate string, weekday int) ([]int64, error) {
	var due []*model.Schedule
	for _, s := range schedules {
		if s.DueOn(isoDate, weekday) {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	if chore.AssignmentType.IsPool() {
		pool, err := w.chores.PoolUserIDs(ctx, chore.ID)
		if err != nil {
			return nil, err
		}
		userID, ok := assign.ForDay(chore.AssignmentType, pool, chore.ID, isoDate)
		if !ok {
			return nil, nil
		}
		return []int64{userID}, nil
	}

	var (
		userIDs []int64
		seen    = map[int64]struct{}{}
	)
	for _, s := range due {
		if s.AssignedUserID == nil {
			continue
		}
		if _, dup := seen[*s.AssignedUserID]; dup {
			continue
		}
		seen[*s.AssignedUserID] = struct{}{}
		userIDs = append(userIDs, *s.AssignedUserID)
	}
	return userIDs, nil
}

// RunMissedSweep は今日より前の未解決の統計行を未実施として確定し、
// 日次サマリの再送を要求する。
func (w *Worker) RunMissedSweep(ctx context.Context) error {
	today := w.now().In(w.location).Format("2006-01-02")

	marked, err := w.engine.MarkMissedBefore(ctx, today)
	if err != nil {
		return err
	}
	w.logger.Info("未実施スイープが完了しました", slog.Int("marked", marked))

	if w.summary != nil {
		w.summary.Refresh()
	}
	return nil
}

// nextMidnight はnowの翌日0時を返す。
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
