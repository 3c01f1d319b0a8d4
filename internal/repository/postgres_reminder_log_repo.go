package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresReminderLogRepo はPostgreSQLを使用したリマインダー送信履歴リポジトリ。
type PostgresReminderLogRepo struct {
	db *sql.DB
}

// NewPostgresReminderLogRepo はPostgresReminderLogRepoを生成する。
func NewPostgresReminderLogRepo(db *sql.DB) *PostgresReminderLogRepo {
	return &PostgresReminderLogRepo{db: db}
}

// WasSent は(チョア, 日付, 種別)のリマインダー送信済み判定を返す。
func (r *PostgresReminderLogRepo) WasSent(ctx context.Context, choreID int64, isoDate string, kind model.ReminderKind) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM reminder_log
		    WHERE chore_id = $1 AND sent_date = $2 AND reminder_type = $3
		 )`,
		choreID, isoDate, string(kind),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("リマインダー送信履歴の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// MarkSent はリマインダー送信を記録する。同一キーの重複は無視する。
func (r *PostgresReminderLogRepo) MarkSent(ctx context.Context, choreID int64, userID *int64, isoDate string, kind model.ReminderKind, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reminder_log (chore_id, user_id, sent_at, sent_date, reminder_type)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chore_id, sent_date, reminder_type) DO NOTHING`,
		choreID, nullInt64(userID), at, isoDate, string(kind),
	)
	if err != nil {
		return fmt.Errorf("リマインダー送信の記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ReminderLogRepository = (*PostgresReminderLogRepo)(nil)

// PostgresSettingsRepo はPostgreSQLを使用した設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// GetAll は全設定をスナップショットとして読み出す。
// 未登録のキーはゼロ値のまま返す。
func (r *PostgresSettingsRepo) GetAll(ctx context.Context) (*model.Settings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("設定の読み取りに失敗しました: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("設定の走査に失敗しました: %w", err)
	}

	return &model.Settings{
		AuthMethod:         values["authMethod"],
		SignOutTagID:       values["signOutTagId"],
		NudgrWebhookURL:    values["nudgrWebhookUrl"],
		NudgrAPIKey:        values["nudgrApiKey"],
		NudgrOnMissed:      values["nudgrOnMissed"] == "true",
		NudgrOnImportant:   values["nudgrOnImportant"] == "true",
		NudgrAlertLeadTime: values["nudgrAlertLeadTime"],
		NudgrRelentless:    values["nudgrIsRelentless"] == "true",
		HAWebhookURL:       values["haWebhookUrl"],
		UseMilitaryTime:    values["useMilitaryTime"] == "true",
	}, nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
