package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresChoreLogRepo はPostgreSQLを使用したチョア完了記録リポジトリ。
type PostgresChoreLogRepo struct {
	db *sql.DB
}

// NewPostgresChoreLogRepo はPostgresChoreLogRepoを生成する。
func NewPostgresChoreLogRepo(db *sql.DB) *PostgresChoreLogRepo {
	return &PostgresChoreLogRepo{db: db}
}

// HasCompleted は指定ユーザーによる指定日のチョア完了記録の有無を返す。
func (r *PostgresChoreLogRepo) HasCompleted(ctx context.Context, choreID, userID int64, isoDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM chore_log
		    WHERE chore_id = $1 AND user_id = $2 AND assigned_date = $3 AND status = 'completed'
		 )`,
		choreID, userID, isoDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("完了記録の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は完了記録を追加する。
func (r *PostgresChoreLogRepo) Create(ctx context.Context, entry *model.ChoreLogEntry) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO chore_log (chore_id, user_id, assigned_date, completed_at, reader_mac_address, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		entry.ChoreID, entry.UserID, entry.AssignedDate,
		entry.CompletedAt, nullString(entry.ReaderMacAddress), entry.Status,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("完了記録の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ChoreLogRepository = (*PostgresChoreLogRepo)(nil)
