package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresBanRepo はPostgreSQLを使用したBAN台帳リポジトリ。
type PostgresBanRepo struct {
	db *sql.DB
}

// NewPostgresBanRepo はPostgresBanRepoを生成する。
func NewPostgresBanRepo(db *sql.DB) *PostgresBanRepo {
	return &PostgresBanRepo{db: db}
}

// Find はMACアドレスでBANレコードを検索する。見つからない場合はnilを返す。
func (r *PostgresBanRepo) Find(ctx context.Context, macAddress string) (*model.BanRecord, error) {
	record := &model.BanRecord{}
	var lastAttemptAt, banExpiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT mac_address, failed_attempts, ban_count, last_attempt_at, ban_expires_at
		 FROM mac_address_bans WHERE mac_address = $1`,
		macAddress,
	).Scan(&record.MacAddress, &record.FailedAttempts, &record.BanCount, &lastAttemptAt, &banExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BANレコードの取得に失敗しました: %w", err)
	}

	if lastAttemptAt.Valid {
		record.LastAttemptAt = lastAttemptAt.Time
	}
	record.BanExpiresAt = nullTimeValue(banExpiresAt)
	return record, nil
}

// Upsert はBANレコードを作成または上書きする。
func (r *PostgresBanRepo) Upsert(ctx context.Context, record *model.BanRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mac_address_bans (mac_address, failed_attempts, ban_count, last_attempt_at, ban_expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (mac_address) DO UPDATE SET
		    failed_attempts = EXCLUDED.failed_attempts,
		    ban_count = EXCLUDED.ban_count,
		    last_attempt_at = EXCLUDED.last_attempt_at,
		    ban_expires_at = EXCLUDED.ban_expires_at`,
		record.MacAddress, record.FailedAttempts, record.BanCount,
		record.LastAttemptAt, nullTime(record.BanExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("BANレコードの保存に失敗しました: %w", err)
	}
	return nil
}

// Reset は検証成功時に失敗カウンタとBAN期限をゼロに戻す。
func (r *PostgresBanRepo) Reset(ctx context.Context, macAddress string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mac_address_bans SET failed_attempts = 0, ban_expires_at = NULL
		 WHERE mac_address = $1`,
		macAddress,
	)
	if err != nil {
		return fmt.Errorf("BANレコードのリセットに失敗しました: %w", err)
	}
	return nil
}

// ClearAll は全デバイスのBANレコードを削除する。
func (r *PostgresBanRepo) ClearAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mac_address_bans`)
	if err != nil {
		return fmt.Errorf("BANレコードの全削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BanRepository = (*PostgresBanRepo)(nil)
