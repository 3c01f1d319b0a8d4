package model

import "time"

// StatKind は日次統計で更新するカウンタの種別。
type StatKind string

const (
	StatAssigned  StatKind = "assigned"
	StatCompleted StatKind = "completed"
	StatMissed    StatKind = "missed"
)

// DailyStat は(日付, チョア, ユーザー)ごとの日次集計行。
// AssignedCountはその日の担当数の最大値、CompletedCount/MissedCountは加算値。
type DailyStat struct {
	StatDate            string
	ChoreID             int64
	UserID              int64
	ChoreName           string
	UserName            string
	AssignedCount       int
	CompletedCount      int
	MissedCount         int
	CompletionTimestamp *time.Time
}

// Outstanding は未完了かつ未失敗の担当数を返す。
func (s *DailyStat) Outstanding() int {
	n := s.AssignedCount - s.CompletedCount - s.MissedCount
	if n < 0 {
		return 0
	}
	return n
}

// ReminderKind はリマインダー送信種別。reminder_logの重複排除キーに使う。
type ReminderKind string

const (
	ReminderOverdue   ReminderKind = "immediate_missed_chore"
	ReminderImportant ReminderKind = "important_chore"
)
