package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用した日次統計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// UpsertDaily は(日付, チョア, ユーザー)の統計行を更新する。
// assignedはGREATESTで冪等に、completed/missedは加算で更新する。
// completed/missedはassigned_countに触れない。完了が割り当てを主張してはならないため、
// 未割り当ての行はassigned_count=0のまま挿入する。
// completion_timestampはcompletedの場合のみ設定し、既存値は上書きしない。
func (r *PostgresStatsRepo) UpsertDaily(ctx context.Context, stat *model.DailyStat, kind model.StatKind, at time.Time) error {
	query, err := upsertDailyQuery(kind)
	if err != nil {
		return err
	}

	args := []any{stat.StatDate, stat.ChoreID, stat.UserID, stat.ChoreName, stat.UserName}
	if kind == model.StatCompleted {
		args = append(args, at)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("日次統計の更新に失敗しました: %w", err)
	}
	return nil
}

func upsertDailyQuery(kind model.StatKind) (string, error) {
	switch kind {
	case model.StatAssigned:
		return `INSERT INTO chore_daily_stats
		            (stat_date, chore_id, user_id, chore_name, user_name, assigned_count)
		         VALUES ($1, $2, $3, $4, $5, 1)
		         ON CONFLICT (stat_date, chore_id, user_id) DO UPDATE SET
		            chore_name = EXCLUDED.chore_name,
		            user_name = EXCLUDED.user_name,
		            assigned_count = GREATEST(chore_daily_stats.assigned_count, 1)`, nil
	case model.StatCompleted:
		return `INSERT INTO chore_daily_stats
		            (stat_date, chore_id, user_id, chore_name, user_name, assigned_count, completed_count, completion_timestamp)
		         VALUES ($1, $2, $3, $4, $5, 0, 1, $6)
		         ON CONFLICT (stat_date, chore_id, user_id) DO UPDATE SET
		            chore_name = EXCLUDED.chore_name,
		            user_name = EXCLUDED.user_name,
		            completed_count = chore_daily_stats.completed_count + 1,
		            completion_timestamp = EXCLUDED.completion_timestamp`, nil
	case model.StatMissed:
		return `INSERT INTO chore_daily_stats
		            (stat_date, chore_id, user_id, chore_name, user_name, assigned_count, missed_count)
		         VALUES ($1, $2, $3, $4, $5, 0, 1)
		         ON CONFLICT (stat_date, chore_id, user_id) DO UPDATE SET
		            chore_name = EXCLUDED.chore_name,
		            user_name = EXCLUDED.user_name,
		            missed_count = chore_daily_stats.missed_count + 1`, nil
	default:
		return "", fmt.Errorf("未知の統計種別です: %s", kind)
	}
}

const statColumns = `stat_date, chore_id, user_id, chore_name, user_name,
	        assigned_count, completed_count, missed_count, completion_timestamp`

func scanStat(scan func(dest ...any) error) (*model.DailyStat, error) {
	stat := &model.DailyStat{}
	var completionTimestamp sql.NullTime

	if err := scan(
		&stat.StatDate, &stat.ChoreID, &stat.UserID, &stat.ChoreName, &stat.UserName,
		&stat.AssignedCount, &stat.CompletedCount, &stat.MissedCount, &completionTimestamp,
	); err != nil {
		return nil, err
	}

	stat.CompletionTimestamp = nullTimeValue(completionTimestamp)
	return stat, nil
}

// ListUnresolvedBefore は指定日より前の未完了・未失敗の統計行を返す。
// 完了済みまたは失敗記録済みの行は対象外。
func (r *PostgresStatsRepo) ListUnresolvedBefore(ctx context.Context, isoDate string) ([]*model.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+statColumns+` FROM chore_daily_stats
		 WHERE stat_date < $1
		   AND assigned_count > 0
		   AND completed_count = 0
		   AND missed_count = 0
		 ORDER BY stat_date ASC, chore_id ASC`,
		isoDate,
	)
	if err != nil {
		return nil, fmt.Errorf("未解決統計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stats []*model.DailyStat
	for rows.Next() {
		stat, err := scanStat(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("未解決統計の読み取りに失敗しました: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未解決統計の走査に失敗しました: %w", err)
	}
	return stats, nil
}

// ListForDate は指定日の統計行を返す。
func (r *PostgresStatsRepo) ListForDate(ctx context.Context, isoDate string) ([]*model.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+statColumns+` FROM chore_daily_stats
		 WHERE stat_date = $1
		 ORDER BY chore_id ASC, user_id ASC`,
		isoDate,
	)
	if err != nil {
		return nil, fmt.Errorf("日次統計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stats []*model.DailyStat
	for rows.Next() {
		stat, err := scanStat(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("日次統計の読み取りに失敗しました: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("日次統計の走査に失敗しました: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
