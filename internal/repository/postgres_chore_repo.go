package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresChoreRepo はPostgreSQLを使用したチョアリポジトリ。
type PostgresChoreRepo struct {
	db *sql.DB
}

// NewPostgresChoreRepo はPostgresChoreRepoを生成する。
func NewPostgresChoreRepo(db *sql.DB) *PostgresChoreRepo {
	return &PostgresChoreRepo{db: db}
}

const choreColumns = `id, name, description, area, duration_minutes, nfc_tag_id,
	        important, enabled, assignment_type, last_assigned_user_id`

func scanChore(scan func(dest ...any) error) (*model.Chore, error) {
	chore := &model.Chore{}
	var description, area, nfcTagID sql.NullString
	var durationMinutes sql.NullInt64
	var lastAssignedUserID sql.NullInt64

	if err := scan(
		&chore.ID, &chore.Name, &description, &area, &durationMinutes, &nfcTagID,
		&chore.Important, &chore.Enabled, &chore.AssignmentType, &lastAssignedUserID,
	); err != nil {
		return nil, err
	}

	chore.Description = nullStringValue(description)
	chore.Area = nullStringValue(area)
	chore.NFCTagID = nullStringValue(nfcTagID)
	if durationMinutes.Valid {
		chore.DurationMinutes = int(durationMinutes.Int64)
	}
	chore.LastAssignedUserID = nullInt64Value(lastAssignedUserID)
	return chore, nil
}

// FindByID は指定IDのチョアを取得する。見つからない場合はnilを返す。
func (r *PostgresChoreRepo) FindByID(ctx context.Context, id int64) (*model.Chore, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+choreColumns+` FROM chores WHERE id = $1`, id)
	chore, err := scanChore(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チョアの取得に失敗しました: %w", err)
	}
	return chore, nil
}

// FindByTagID はNFCタグIDで有効なチョアを検索する。見つからない場合はnilを返す。
func (r *PostgresChoreRepo) FindByTagID(ctx context.Context, tagID string) (*model.Chore, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+choreColumns+` FROM chores WHERE nfc_tag_id = $1`, tagID)
	chore, err := scanChore(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タグIDによるチョアの検索に失敗しました: %w", err)
	}
	return chore, nil
}

func scanSchedule(scan func(dest ...any) error) (*model.Schedule, error) {
	schedule := &model.Schedule{}
	var specificDate, daysOfWeek, dueTime sql.NullString
	var assignedUserID sql.NullInt64

	if err := scan(
		&schedule.ID, &schedule.ChoreID, &schedule.Type,
		&specificDate, &daysOfWeek, &dueTime, &assignedUserID,
	); err != nil {
		return nil, err
	}

	schedule.SpecificDate = nullStringValue(specificDate)
	schedule.DaysOfWeek = nullStringValue(daysOfWeek)
	schedule.DueTime = nullStringValue(dueTime)
	schedule.AssignedUserID = nullInt64Value(assignedUserID)
	return schedule, nil
}

// SchedulesForChore はチョアの全スケジュールを返す。
func (r *PostgresChoreRepo) SchedulesForChore(ctx context.Context, choreID int64) ([]*model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chore_id, schedule_type, specific_date, days_of_week, due_time, assigned_user_id
		 FROM chore_schedules WHERE chore_id = $1 ORDER BY id ASC`,
		choreID,
	)
	if err != nil {
		return nil, fmt.Errorf("チョアスケジュールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("チョアスケジュールの読み取りに失敗しました: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チョアスケジュールの走査に失敗しました: %w", err)
	}
	return schedules, nil
}

// ListEnabledWithSchedules は有効な全チョアをスケジュール付きで返す。
func (r *PostgresChoreRepo) ListEnabledWithSchedules(ctx context.Context) ([]*model.Chore, map[int64][]*model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+choreColumns+` FROM chores WHERE enabled = TRUE ORDER BY id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("チョア一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var chores []*model.Chore
	for rows.Next() {
		chore, err := scanChore(rows.Scan)
		if err != nil {
			return nil, nil, fmt.Errorf("チョア一覧の読み取りに失敗しました: %w", err)
		}
		chores = append(chores, chore)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("チョア一覧の走査に失敗しました: %w", err)
	}

	scheduleRows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.chore_id, s.schedule_type, s.specific_date, s.days_of_week, s.due_time, s.assigned_user_id
		 FROM chore_schedules s
		 INNER JOIN chores c ON s.chore_id = c.id
		 WHERE c.enabled = TRUE
		 ORDER BY s.id ASC`,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("スケジュール一覧の取得に失敗しました: %w", err)
	}
	defer scheduleRows.Close()

	schedules := make(map[int64][]*model.Schedule)
	for scheduleRows.Next() {
		schedule, err := scanSchedule(scheduleRows.Scan)
		if err != nil {
			return nil, nil, fmt.Errorf("スケジュール一覧の読み取りに失敗しました: %w", err)
		}
		schedules[schedule.ChoreID] = append(schedules[schedule.ChoreID], schedule)
	}
	if err := scheduleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("スケジュール一覧の走査に失敗しました: %w", err)
	}

	return chores, schedules, nil
}

// PoolUserIDs はチョアの担当者プールをユーザーID昇順で返す。
func (r *PostgresChoreRepo) PoolUserIDs(ctx context.Context, choreID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.user_id
		 FROM chore_assignments a
		 INNER JOIN users u ON a.user_id = u.id
		 WHERE a.chore_id = $1 AND u.enabled = TRUE
		 ORDER BY a.user_id ASC`,
		choreID,
	)
	if err != nil {
		return nil, fmt.Errorf("担当者プールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("担当者プールの読み取りに失敗しました: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("担当者プールの走査に失敗しました: %w", err)
	}
	return userIDs, nil
}

// SetLastAssignedUser は次回担当者の記帳を更新する。
func (r *PostgresChoreRepo) SetLastAssignedUser(ctx context.Context, choreID int64, userID *int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chores SET last_assigned_user_id = $2 WHERE id = $1`,
		choreID, nullInt64(userID),
	)
	if err != nil {
		return fmt.Errorf("次回担当者の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ChoreRepository = (*PostgresChoreRepo)(nil)
