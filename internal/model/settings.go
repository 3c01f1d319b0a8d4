package model

import (
	"strconv"
	"strings"
	"time"
)

// 認証方式の設定値。
const (
	AuthMethodReaderAssigned = "reader_assigned"
	AuthMethodUserTagSignIn  = "user_tag_signin"
)

// Settings はsettingsテーブルから読み出したアプリケーション設定のスナップショット。
type Settings struct {
	AuthMethod         string
	SignOutTagID       string
	NudgrWebhookURL    string
	NudgrAPIKey        string
	NudgrOnMissed      bool
	NudgrOnImportant   bool
	NudgrAlertLeadTime string
	NudgrRelentless    bool
	HAWebhookURL       string
	UseMilitaryTime    bool
}

// LeadTime は重要チョアの事前通知リードタイムを返す。
// 設定値は"30_minutes"や"2_hours"のような形式で、"no_alert"または
// 解釈できない値の場合はfalseを返す。
func (s *Settings) LeadTime() (time.Duration, bool) {
	return ParseLeadTime(s.NudgrAlertLeadTime)
}

// ParseLeadTime は"<数値>_<minutes|hours>"形式のリードタイム設定を解釈する。
func ParseLeadTime(v string) (time.Duration, bool) {
	if v == "" || v == "no_alert" {
		return 0, false
	}
	parts := strings.SplitN(v, "_", 2)
	if len(parts) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch parts[1] {
	case "minute", "minutes":
		return time.Duration(n) * time.Minute, true
	case "hour", "hours":
		return time.Duration(n) * time.Hour, true
	}
	return 0, false
}
