// Package remind は期限超過・重要チョアのリマインダー評価ジョブを提供する。
// 当日の未解決な統計行を起点に期限時刻と現在時刻を突き合わせ、
// Nudgrへの通知と日次サマリ再送のトリガーを行う。
package remind

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
	"github.com/hitoshi/chorecast/internal/webhook"
)

const (
	// overdueInterval は期限超過チェックの実行間隔。
	overdueInterval = 15 * time.Minute

	// minuteInterval は重要チョアチェックと期限到来チェックの実行間隔。
	minuteInterval = time.Minute

	// overdueAfter は期限超過リマインダーを送るまでの経過時間。
	overdueAfter = time.Hour
)

// Refresher は日次サマリの再送を要求するインターフェース。
type Refresher interface {
	Refresh()
}

// Worker はリマインダー評価の定期実行ジョブ。
// 設定は評価のたびに読み直すため、管理画面での変更が即座に反映される。
type Worker struct {
	stats     repository.StatsRepository
	chores    repository.ChoreRepository
	settings  repository.SettingsRepository
	reminders repository.ReminderLogRepository
	client    *webhook.Client
	summary   Refresher
	location  *time.Location
	logger    *slog.Logger

	// テストで時刻を差し替えるためのフック
	now func() time.Time
}

// NewWorker はWorkerを生成する。summaryはnilでもよい。
func NewWorker(
	stats repository.StatsRepository,
	chores repository.ChoreRepository,
	settings repository.SettingsRepository,
	reminders repository.ReminderLogRepository,
	client *webhook.Client,
	summary Refresher,
	location *time.Location,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		stats:     stats,
		chores:    chores,
		settings:  settings,
		reminders: reminders,
		client:    client,
		summary:   summary,
		location:  location,
		logger:    logger,
		now:       time.Now,
	}
}

// Run はリマインダー評価ループを起動する。
// 期限超過チェックは15分間隔、重要チョアチェックと期限到来チェックは
// 1分間隔で実行する。
func (w *Worker) Run(ctx context.Context) {
	overdue := time.NewTicker(overdueInterval)
	defer overdue.Stop()
	minute := time.NewTicker(minuteInterval)
	defer minute.Stop()

	w.logger.Info("リマインダー評価ループを開始しました")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("リマインダー評価ループを停止しました")
			return
		case <-overdue.C:
			if err := w.RunOverdueCheck(ctx); err != nil {
				w.logger.Error("期限超過チェックの実行に失敗しました", slog.String("error", err.Error()))
			}
		case <-minute.C:
			if err := w.RunImportantCheck(ctx); err != nil {
				w.logger.Error("重要チョアチェックの実行に失敗しました", slog.String("error", err.Error()))
			}
			if err := w.RunTipOverCheck(ctx); err != nil {
				w.logger.Error("期限到来チェックの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// dueItem は当日未解決のチョアと解決済みの期限時刻の組。
type dueItem struct {
	stat  *model.DailyStat
	chore *model.Chore
	dueAt time.Time
}

// dueItems は当日の未解決な統計行のうち、期限時刻付きのスケジュールが
// 当日有効なものを返す。無効化されたチョアは除外する。
func (w *Worker) dueItems(ctx context.Context, now time.Time) ([]dueItem, error) {
	isoDate := now.Format("2006-01-02")
	weekday := int(now.Weekday())

	rows, err := w.stats.ListForDate(ctx, isoDate)
	if err != nil {
		return nil, fmt.Errorf("当日統計の取得に失敗しました: %w", err)
	}

	var items []dueItem
	for _, row := range rows {
		if row.Outstanding() == 0 {
			continue
		}
		chore, err := w.chores.FindByID(ctx, row.ChoreID)
		if err != nil {
			return nil, fmt.Errorf("チョアの取得に失敗しました: %w", err)
		}
		if chore == nil || !chore.Enabled {
			continue
		}
		schedules, err := w.chores.SchedulesForChore(ctx, chore.ID)
		if err != nil {
			return nil, fmt.Errorf("スケジュールの取得に失敗しました: %w", err)
		}
		for _, s := range schedules {
			if !s.DueOn(isoDate, weekday) || s.DueTime == "" {
				continue
			}
			dueAt, ok := s.DueAt(now)
			if !ok {
				continue
			}
			items = append(items, dueItem{stat: row, chore: chore, dueAt: dueAt})
			break
		}
	}
	return items, nil
}

// RunOverdueCheck は期限を1時間以上過ぎた未完了チョアを検出し、
// Nudgrへ高優先度のリマインダーを送信する。
// (チョア, 日付, 種別)単位で1日1回に抑止される。
func (w *Worker) RunOverdueCheck(ctx context.Context) error {
	settings, err := w.settings.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("設定の読み出しに失敗しました: %w", err)
	}
	if !settings.NudgrOnMissed || settings.NudgrWebhookURL == "" || settings.NudgrAPIKey == "" {
		return nil
	}

	now := w.now().In(w.location)
	isoDate := now.Format("2006-01-02")

	items, err := w.dueItems(ctx, now)
	if err != nil {
		return err
	}

	for _, item := range items {
		if now.Sub(item.dueAt) < overdueAfter {
			continue
		}

		sent, err := w.reminders.WasSent(ctx, item.chore.ID, isoDate, model.ReminderOverdue)
		if err != nil {
			return fmt.Errorf("リマインダー履歴の確認に失敗しました: %w", err)
		}
		if sent {
			continue
		}

		reminder := webhook.NudgrReminder{
			Text: fmt.Sprintf("Chorecast Alert: Chore '%s' was supposed to start at %s and is now past due!",
				item.chore.Name, formatClock(item.dueAt, settings.UseMilitaryTime)),
			DueDatetime:   now.Add(5 * time.Minute).Format(time.RFC3339),
			Recipient:     item.stat.UserName,
			Priority:      3,
			IsRelentless:  true,
			AlertLeadTime: "0_minutes",
		}
		if err := w.client.SendNudgr(ctx, settings.NudgrWebhookURL, settings.NudgrAPIKey, reminder); err != nil {
			w.logger.Error("期限超過リマインダーの送信に失敗しました",
				slog.Int64("chore_id", item.chore.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		userID := item.stat.UserID
		if err := w.reminders.MarkSent(ctx, item.chore.ID, &userID, isoDate, model.ReminderOverdue, now); err != nil {
			return fmt.Errorf("リマインダー履歴の記録に失敗しました: %w", err)
		}
		w.logger.Info("期限超過リマインダーを送信しました",
			slog.Int64("chore_id", item.chore.ID),
			slog.String("recipient", item.stat.UserName),
		)
	}
	return nil
}

// RunImportantCheck は重要チョアの期限が設定リードタイム以内に迫ったとき、
// Nudgrへリマインダーを送信する。relentless設定が有効な場合は
// 送信済みでも繰り返し送る。
func (w *Worker) RunImportantCheck(ctx context.Context) error {
	settings, err := w.settings.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("設定の読み出しに失敗しました: %w", err)
	}
	if !settings.NudgrOnImportant || settings.NudgrWebhookURL == "" || settings.NudgrAPIKey == "" {
		return nil
	}
	leadTime, ok := settings.LeadTime()
	if !ok {
		return nil
	}

	now := w.now().In(w.location)
	isoDate := now.Format("2006-01-02")

	items, err := w.dueItems(ctx, now)
	if err != nil {
		return err
	}

	for _, item := range items {
		if !item.chore.Important {
			continue
		}
		untilDue := item.dueAt.Sub(now)
		if untilDue <= 0 || untilDue > leadTime {
			continue
		}

		if !settings.NudgrRelentless {
			sent, err := w.reminders.WasSent(ctx, item.chore.ID, isoDate, model.ReminderImportant)
			if err != nil {
				return fmt.Errorf("リマインダー履歴の確認に失敗しました: %w", err)
			}
			if sent {
				continue
			}
		}

		reminder := webhook.NudgrReminder{
			Text: fmt.Sprintf("Chorecast Reminder: Important chore '%s' starts at %s!",
				item.chore.Name, formatClock(item.dueAt, settings.UseMilitaryTime)),
			DueDatetime:   item.dueAt.Format(time.RFC3339),
			Recipient:     item.stat.UserName,
			Priority:      1,
			IsRelentless:  settings.NudgrRelentless,
			AlertLeadTime: "0_minutes",
		}
		if err := w.client.SendNudgr(ctx, settings.NudgrWebhookURL, settings.NudgrAPIKey, reminder); err != nil {
			w.logger.Error("重要チョアリマインダーの送信に失敗しました",
				slog.Int64("chore_id", item.chore.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		userID := item.stat.UserID
		if err := w.reminders.MarkSent(ctx, item.chore.ID, &userID, isoDate, model.ReminderImportant, now); err != nil {
			return fmt.Errorf("リマインダー履歴の記録に失敗しました: %w", err)
		}
		w.logger.Info("重要チョアリマインダーを送信しました",
			slog.Int64("chore_id", item.chore.ID),
			slog.String("recipient", item.stat.UserName),
		)
	}
	return nil
}

// RunTipOverCheck は直前の1分間に期限時刻を跨いだチョアを検出し、
// 日次サマリの再送を要求する。ダッシュボード上の「期限切れ」表示を
// 時刻到来とほぼ同時に更新するための仕掛け。
func (w *Worker) RunTipOverCheck(ctx context.Context) error {
	if w.summary == nil {
		return nil
	}

	now := w.now().In(w.location)
	items, err := w.dueItems(ctx, now)
	if err != nil {
		return err
	}

	for _, item := range items {
		past := now.Sub(item.dueAt)
		if past > 0 && past <= minuteInterval {
			w.summary.Refresh()
			return nil
		}
	}
	return nil
}

// formatClock は期限時刻を表示用に整形する。
func formatClock(t time.Time, military bool) string {
	if military {
		return t.Format("15:04")
	}
	return t.Format("3:04 PM")
}
