// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// ReaderRepository はNFCリーダーデータの永続化インターフェース。
type ReaderRepository interface {
	// FindByMac はMACアドレスでリーダーを検索する。見つからない場合はnilを返す。
	FindByMac(ctx context.Context, macAddress string) (*model.Reader, error)

	// ListOnline はオンライン状態のリーダー一覧をlast_seen降順で返す。
	ListOnline(ctx context.Context) ([]*model.Reader, error)

	// UpsertRegistration は登録publishの内容でリーダー行を作成または更新し、
	// オンライン状態とlast_seenを更新する。
	UpsertRegistration(ctx context.Context, reader *model.Reader) error

	// RefreshNetwork はステータスpublishで報告されたIPアドレスと
	// last_seenを更新し、オンライン扱いにする。
	RefreshNetwork(ctx context.Context, macAddress, ipAddress string, seenAt time.Time) error

	// SetOnline はリーダーのオンライン状態を更新する。
	SetOnline(ctx context.Context, macAddress string, online bool, seenAt time.Time) error

	// ListStale はオンライン扱いのままlast_seenがthresholdより古いリーダーを返す。
	ListStale(ctx context.Context, threshold time.Time) ([]*model.Reader, error)
}

// BanRepository はデバイスBAN台帳の永続化インターフェース。
type BanRepository interface {
	// Find はMACアドレスでBANレコードを検索する。見つからない場合はnilを返す。
	Find(ctx context.Context, macAddress string) (*model.BanRecord, error)

	// Upsert はBANレコードを作成または上書きする。
	Upsert(ctx context.Context, record *model.BanRecord) error

	// Reset は検証成功時に失敗カウンタとBAN期限をゼロに戻す。
	// レコードが存在しない場合は何もしない。
	Reset(ctx context.Context, macAddress string) error

	// ClearAll は全デバイスのBANレコードを削除する。管理操作用。
	ClearAll(ctx context.Context) error
}

// TagRepository はNFCタグデータの永続化インターフェース。
type TagRepository interface {
	// FindByTagID はタグのUID文字列でタグを検索する。見つからない場合はnilを返す。
	FindByTagID(ctx context.Context, tagID string) (*model.Tag, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByTag はNFCタグIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByTag(ctx context.Context, tagID string) (*model.User, error)

	// FindByAssignedReader は指定リーダーに割り当てられた有効なユーザーを返す。
	// 見つからない場合はnilを返す。
	FindByAssignedReader(ctx context.Context, readerID int64) (*model.User, error)
}

// SessionRepository はリーダーサインインセッションの永続化インターフェース。
type SessionRepository interface {
	// FindByReader はリーダーの現在のセッションを取得する。見つからない場合はnilを返す。
	FindByReader(ctx context.Context, readerMac string) (*model.ReaderSession, error)

	// Replace はリーダーのセッションを置き換える。既存セッションは上書きされる。
	Replace(ctx context.Context, session *model.ReaderSession) error

	// DeleteByReader はリーダーのセッションを削除する。
	DeleteByReader(ctx context.Context, readerMac string) error
}

// ChoreRepository はチョアデータの永続化インターフェース。
type ChoreRepository interface {
	// FindByID は指定IDのチョアを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Chore, error)

	// FindByTagID はNFCタグIDで有効なチョアを検索する。見つからない場合はnilを返す。
	FindByTagID(ctx context.Context, tagID string) (*model.Chore, error)

	// SchedulesForChore はチョアの全スケジュールを返す。
	SchedulesForChore(ctx context.Context, choreID int64) ([]*model.Schedule, error)

	// ListEnabledWithSchedules は有効な全チョアをスケジュール付きで返す。
	ListEnabledWithSchedules(ctx context.Context) ([]*model.Chore, map[int64][]*model.Schedule, error)

	// PoolUserIDs はチョアの担当者プールをユーザーID昇順で返す。
	// 無効化されたユーザーは除外する。
	PoolUserIDs(ctx context.Context, choreID int64) ([]int64, error)

	// SetLastAssignedUser は次回担当者の記帳を更新する。
	SetLastAssignedUser(ctx context.Context, choreID int64, userID *int64) error
}

// ChoreLogRepository はチョア完了記録の永続化インターフェース。
type ChoreLogRepository interface {
	// HasCompleted は指定ユーザーによる指定日のチョア完了記録の有無を返す。
	HasCompleted(ctx context.Context, choreID, userID int64, isoDate string) (bool, error)

	// Create は完了記録を追加する。
	Create(ctx context.Context, entry *model.ChoreLogEntry) error
}

// StatsRepository は日次統計の永続化インターフェース。
type StatsRepository interface {
	// UpsertDaily は(日付, チョア, ユーザー)の統計行を更新する。
	// kindがassignedの場合はassigned_countをGREATESTで更新し、
	// completed/missedの場合は各カウンタを加算する。
	// completion_timestampはcompletedの場合のみ設定し、それ以外は維持する。
	UpsertDaily(ctx context.Context, stat *model.DailyStat, kind model.StatKind, at time.Time) error

	// ListUnresolvedBefore は指定日より前の未完了・未失敗の統計行を返す。
	ListUnresolvedBefore(ctx context.Context, isoDate string) ([]*model.DailyStat, error)

	// ListForDate は指定日の統計行を返す。
	ListForDate(ctx context.Context, isoDate string) ([]*model.DailyStat, error)
}

// ReminderLogRepository はリマインダー送信履歴の永続化インターフェース。
type ReminderLogRepository interface {
	// WasSent は(チョア, 日付, 種別)のリマインダー送信済み判定を返す。
	WasSent(ctx context.Context, choreID int64, isoDate string, kind model.ReminderKind) (bool, error)

	// MarkSent はリマインダー送信を記録する。同一キーの重複は無視する。
	MarkSent(ctx context.Context, choreID int64, userID *int64, isoDate string, kind model.ReminderKind, at time.Time) error
}

// SettingsRepository はアプリケーション設定の読み出しインターフェース。
type SettingsRepository interface {
	// GetAll は全設定をスナップショットとして読み出す。
	GetAll(ctx context.Context) (*model.Settings, error)
}
