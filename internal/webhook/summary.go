package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/chorecast/internal/assign"
	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
)

// summaryEventType はHome Assistantのオートメーションがトリガーに使う識別子。
const summaryEventType = "chorecast_daily_summary"

// missedGrace は期限超過からリアルタイム「未実施」扱いになるまでの猶予。
const missedGrace = time.Hour

// SummaryChore は期限付きチョア1件分のサマリ項目。
type SummaryChore struct {
	ChoreName       string `json:"chore_name"`
	Username        string `json:"username"`
	DueTime         string `json:"due_time"`
	Area            string `json:"area"`
	DurationMinutes int    `json:"duration_minutes"`
	Important       bool   `json:"important"`
}

// SummaryCompleted は完了済みチョア1件分のサマリ項目。
type SummaryCompleted struct {
	ChoreName      string `json:"chore_name"`
	Username       string `json:"username"`
	CompletionTime string `json:"completion_time"`
}

// SummaryNextDue はユーザー別の次の期限チョア。
type SummaryNextDue struct {
	ChoreName string `json:"chore_name"`
	DueTime   string `json:"due_time"`
}

// SummaryLastCompleted はユーザー別の直近完了チョア。
type SummaryLastCompleted struct {
	ChoreName      string `json:"chore_name"`
	CompletionTime string `json:"completion_time"`
}

// UserDaySummary はユーザー1人の当日実績。
type UserDaySummary struct {
	Completed     int                   `json:"completed"`
	Missed        int                   `json:"missed"`
	NextDue       *SummaryNextDue       `json:"next_due"`
	LastCompleted *SummaryLastCompleted `json:"last_completed"`
}

// SummaryData は日次サマリの本体。
type SummaryData struct {
	CurrentDate          string                    `json:"current_date"`
	TotalChoresDueToday  int                       `json:"total_chores_due_today"`
	TotalChoresCompleted int                       `json:"total_chores_completed_today"`
	TotalChoresMissed    int                       `json:"total_chores_missed_today"`
	LastCompletedChore   *SummaryCompleted         `json:"last_completed_chore"`
	NextDueChore         *SummaryChore             `json:"next_due_chore"`
	CompletedChoresList  []SummaryCompleted        `json:"completed_chores_list"`
	MissedChoresList     []SummaryChore            `json:"missed_chores_list"`
	UserStatsToday       map[string]UserDaySummary `json:"user_stats_today"`
}

// SummaryPayload はHome Assistantへ送る日次サマリWebhookのペイロード。
type SummaryPayload struct {
	EventType string      `json:"event_type"`
	Data      SummaryData `json:"data"`
}

// Builder は当日のチョア状況から日次サマリペイロードを組み立てる。
type Builder struct {
	chores repository.ChoreRepository
	users  repository.UserRepository
	log    repository.ChoreLogRepository
	stats  repository.StatsRepository
	logger *slog.Logger
}

// NewBuilder はBuilderを生成する。
func NewBuilder(
	chores repository.ChoreRepository,
	users repository.UserRepository,
	log repository.ChoreLogRepository,
	stats repository.StatsRepository,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		chores: chores,
		users:  users,
		log:    log,
		stats:  stats,
		logger: logger,
	}
}

// Build は現在時刻を基準に日次サマリを組み立てる。
// 当日期限の全チョアについて担当者を解決し、未完了のものを
// 「これから期限」と「期限超過（1時間以上経過）」に振り分ける。
func (b *Builder) Build(ctx context.Context, now time.Time) (*SummaryPayload, error) {
	isoDate := now.Format("2006-01-02")
	weekday := int(now.Weekday())

	chores, schedules, err := b.chores.ListEnabledWithSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("チョア一覧の取得に失敗しました: %w", err)
	}

	var (
		dueToday    int
		futureDue   []SummaryChore
		missed      []SummaryChore
		uncompleted []SummaryChore
		assignees   = map[string]struct{}{}
	)

	for _, chore := range chores {
		schedule := firstDueSchedule(schedules[chore.ID], isoDate, weekday)
		if schedule == nil {
			continue
		}
		dueToday++

		userID, ok := b.assigneeFor(ctx, chore, schedule, isoDate)
		if !ok {
			continue
		}
		user, err := b.users.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("担当者の取得に失敗しました: %w", err)
		}
		if user == nil {
			continue
		}
		assignees[user.Username] = struct{}{}

		completed, err := b.log.HasCompleted(ctx, chore.ID, userID, isoDate)
		if err != nil {
			return nil, fmt.Errorf("完了記録の確認に失敗しました: %w", err)
		}
		if completed {
			continue
		}

		dueAt, timed := schedule.DueAt(now)
		if !timed {
			dueAt = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		}
		item := SummaryChore{
			ChoreName:       chore.Name,
			Username:        user.Username,
			DueTime:         dueAt.Format(time.RFC3339),
			Area:            chore.Area,
			DurationMinutes: chore.DurationMinutes,
			Important:       chore.Important,
		}
		uncompleted = append(uncompleted, item)

		if !dueAt.Before(now) {
			futureDue = append(futureDue, item)
		} else if timed && now.After(dueAt.Add(missedGrace)) {
			missed = append(missed, item)
		}
	}

	sort.Slice(futureDue, func(i, j int) bool {
		return futureDue[i].DueTime < futureDue[j].DueTime
	})

	completedList, err := b.completedToday(ctx, isoDate)
	if err != nil {
		return nil, err
	}

	data := SummaryData{
		CurrentDate:          isoDate,
		TotalChoresDueToday:  dueToday,
		TotalChoresCompleted: len(completedList),
		TotalChoresMissed:    len(missed),
		CompletedChoresList:  completedList,
		MissedChoresList:     missed,
		UserStatsToday:       buildUserStats(assignees, completedList, missed, uncompleted, now),
	}
	if len(completedList) > 0 {
		data.LastCompletedChore = &completedList[0]
	}
	if len(futureDue) > 0 {
		data.NextDueChore = &futureDue[0]
	}

	return &SummaryPayload{EventType: summaryEventType, Data: data}, nil
}

// firstDueSchedule は当日有効なスケジュールの先頭を返す。なければnil。
func firstDueSchedule(schedules []*model.Schedule, isoDate string, weekday int) *model.Schedule {
	for _, s := range schedules {
		if s.DueOn(isoDate, weekday) {
			return s
		}
	}
	return nil
}

// assigneeFor は当日の担当者を解決する。担当者が決まらない場合はfalseを返す。
func (b *Builder) assigneeFor(ctx context.Context, chore *model.Chore, schedule *model.Schedule, isoDate string) (int64, bool) {
	if chore.AssignmentType.IsPool() {
		pool, err := b.chores.PoolUserIDs(ctx, chore.ID)
		if err != nil {
			b.logger.Error("担当者プールの取得に失敗しました",
				slog.Int64("chore_id", chore.ID),
				slog.String("error", err.Error()),
			)
			return 0, false
		}
		return assign.ForDay(chore.AssignmentType, pool, chore.ID, isoDate)
	}
	if schedule.AssignedUserID != nil {
		return *schedule.AssignedUserID, true
	}
	return 0, false
}

// completedToday は当日の完了一覧を完了時刻の降順で返す。
func (b *Builder) completedToday(ctx context.Context, isoDate string) ([]SummaryCompleted, error) {
	rows, err := b.stats.ListForDate(ctx, isoDate)
	if err != nil {
		return nil, fmt.Errorf("当日統計の取得に失敗しました: %w", err)
	}

	var list []SummaryCompleted
	for _, row := range rows {
		if row.CompletedCount == 0 || row.CompletionTimestamp == nil {
			continue
		}
		list = append(list, SummaryCompleted{
			ChoreName:      row.ChoreName,
			Username:       row.UserName,
			CompletionTime: row.CompletionTimestamp.Format(time.RFC3339),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CompletionTime > list[j].CompletionTime
	})
	return list, nil
}

// buildUserStats は当日担当のあった各ユーザーの実績内訳を組み立てる。
func buildUserStats(
	assignees map[string]struct{},
	completed []SummaryCompleted,
	missed []SummaryChore,
	uncompleted []SummaryChore,
	now time.Time,
) map[string]UserDaySummary {
	stats := make(map[string]UserDaySummary, len(assignees))
	for username := range assignees {
		stats[username] = UserDaySummary{}
	}

	// completedは完了時刻の降順なので先頭が直近の完了になる
	for _, c := range completed {
		s, ok := stats[c.Username]
		if !ok {
			continue
		}
		s.Completed++
		if s.LastCompleted == nil {
			s.LastCompleted = &SummaryLastCompleted{
				ChoreName:      c.ChoreName,
				CompletionTime: c.CompletionTime,
			}
		}
		stats[c.Username] = s
	}

	for _, m := range missed {
		s, ok := stats[m.Username]
		if !ok {
			continue
		}
		s.Missed++
		stats[m.Username] = s
	}

	nowISO := now.Format(time.RFC3339)
	for username := range stats {
		var next *SummaryNextDue
		for _, u := range uncompleted {
			if u.Username != username || u.DueTime < nowISO {
				continue
			}
			if next == nil || u.DueTime < next.DueTime {
				next = &SummaryNextDue{ChoreName: u.ChoreName, DueTime: u.DueTime}
			}
		}
		if next != nil {
			s := stats[username]
			s.NextDue = next
			stats[username] = s
		}
	}

	return stats
}
