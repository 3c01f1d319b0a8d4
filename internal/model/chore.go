package model

import (
	"strconv"
	"strings"
	"time"
)

// AssignmentType はチョアの担当者決定方式。
type AssignmentType string

const (
	AssignmentManual     AssignmentType = "manual"
	AssignmentRoundRobin AssignmentType = "round_robin"
	AssignmentShuffle    AssignmentType = "shuffle"
)

// IsPool はプール型（手動以外）の割り当て方式かどうかを返す。
func (a AssignmentType) IsPool() bool {
	return a == AssignmentRoundRobin || a == AssignmentShuffle
}

// ScheduleType はチョアスケジュールの繰り返し種別。
type ScheduleType string

const (
	ScheduleOnce   ScheduleType = "once"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
)

// Chore は家事タスクを表す。
type Chore struct {
	ID                 int64
	Name               string
	Description        string
	Area               string
	DurationMinutes    int
	NFCTagID           string
	Important          bool
	Enabled            bool
	AssignmentType     AssignmentType
	LastAssignedUserID *int64 // 次回担当者の記帳用。日次の担当解決には使わない。
}

// Schedule はチョアの実施スケジュールを表す。
// DaysOfWeekは"0,2,5"形式（0=日曜）、DueTimeは"HH:MM"形式の文字列。
// いずれも空の場合がある。
type Schedule struct {
	ID             int64
	ChoreID        int64
	Type           ScheduleType
	SpecificDate   string
	DaysOfWeek     string
	DueTime        string
	AssignedUserID *int64
}

// DueOn は指定した日付（ISO形式）と曜日（0=日曜）にこのスケジュールが
// 有効かどうかを判定する。
func (s *Schedule) DueOn(isoDate string, weekday int) bool {
	switch s.Type {
	case ScheduleDaily:
		return true
	case ScheduleOnce:
		return s.SpecificDate == isoDate
	case ScheduleWeekly:
		if s.DaysOfWeek == "" {
			return false
		}
		want := strconv.Itoa(weekday)
		for _, d := range strings.Split(s.DaysOfWeek, ",") {
			if strings.TrimSpace(d) == want {
				return true
			}
		}
	}
	return false
}

// DueTimeReached はスケジュールの開始時刻が到来しているかを判定する。
// 時刻指定のないスケジュールは常にtrue。
func (s *Schedule) DueTimeReached(now time.Time) bool {
	if s.DueTime == "" {
		return true
	}
	due, ok := s.DueAt(now)
	if !ok {
		return true
	}
	return !now.Before(due)
}

// DueAt はnowと同じ日のDueTime時刻を返す。DueTimeが不正または空ならfalse。
func (s *Schedule) DueAt(now time.Time) (time.Time, bool) {
	hh, mm, ok := ParseClock(s.DueTime)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location()), true
}

// ParseClock は"HH:MM"形式の時刻文字列を時と分に分解する。
func ParseClock(clock string) (hour, minute int, ok bool) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// ChoreLogEntry はチョア完了の記録。1完了につき1行で、
// (chore, user, assignedDate) が実質的なキーになる。
type ChoreLogEntry struct {
	ID               int64
	ChoreID          int64
	UserID           int64
	AssignedDate     string
	CompletedAt      time.Time
	ReaderMacAddress string
	Status           string
}
