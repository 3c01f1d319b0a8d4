package repository

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// 各リポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ ReaderRepository = (*PostgresReaderRepo)(nil)
	var _ BanRepository = (*PostgresBanRepo)(nil)
	var _ TagRepository = (*PostgresTagRepo)(nil)
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
	var _ ChoreRepository = (*PostgresChoreRepo)(nil)
	var _ ChoreLogRepository = (*PostgresChoreLogRepo)(nil)
	var _ StatsRepository = (*PostgresStatsRepo)(nil)
	var _ ReminderLogRepository = (*PostgresReminderLogRepo)(nil)
	var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
}

// コンストラクタが正しく初期化されることを検証
func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresReaderRepo(nil) == nil {
		t.Error("NewPostgresReaderRepo returned nil")
	}
	if NewPostgresBanRepo(nil) == nil {
		t.Error("NewPostgresBanRepo returned nil")
	}
	if NewPostgresStatsRepo(nil) == nil {
		t.Error("NewPostgresStatsRepo returned nil")
	}
}

// 完了・失敗の記帳がassigned_countを主張しないことを検証。
// 割り当てのない完了で割り当て合計が膨らんではならない。
func TestUpsertDailyQuery_CompletionDoesNotAssertAssignment(t *testing.T) {
	assigned, err := upsertDailyQuery(model.StatAssigned)
	if err != nil {
		t.Fatalf("upsertDailyQuery(assigned): %v", err)
	}
	if !strings.Contains(assigned, "GREATEST(chore_daily_stats.assigned_count, 1)") {
		t.Error("assignedの更新はGREATESTで冪等になるべき")
	}

	for _, kind := range []model.StatKind{model.StatCompleted, model.StatMissed} {
		query, err := upsertDailyQuery(kind)
		if err != nil {
			t.Fatalf("upsertDailyQuery(%s): %v", kind, err)
		}
		if strings.Contains(query, "GREATEST") {
			t.Errorf("%sの更新が既存のassigned_countを書き換えている", kind)
		}
		if !strings.Contains(query, "VALUES ($1, $2, $3, $4, $5, 0, 1") {
			t.Errorf("%sの挿入はassigned_count=0で行うべき", kind)
		}
	}

	if _, err := upsertDailyQuery(model.StatKind("bogus")); err == nil {
		t.Error("未知の種別はエラーになるべき")
	}
}

// nullStringの相互変換を検証
func TestNullStringHelpers(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字列はNULL扱いになるべき")
	}
	if ns := nullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("nullString(\"x\") = %+v", ns)
	}
	if v := nullStringValue(sql.NullString{}); v != "" {
		t.Errorf("nullStringValue(NULL) = %q, want \"\"", v)
	}
	if v := nullStringValue(sql.NullString{String: "y", Valid: true}); v != "y" {
		t.Errorf("nullStringValue = %q, want %q", v, "y")
	}
}

// nullInt64の相互変換を検証
func TestNullInt64Helpers(t *testing.T) {
	if ni := nullInt64(nil); ni.Valid {
		t.Error("nilポインタはNULL扱いになるべき")
	}
	v := int64(42)
	if ni := nullInt64(&v); !ni.Valid || ni.Int64 != 42 {
		t.Errorf("nullInt64(&42) = %+v", ni)
	}
	if p := nullInt64Value(sql.NullInt64{}); p != nil {
		t.Error("nullInt64Value(NULL)はnilになるべき")
	}
	if p := nullInt64Value(sql.NullInt64{Int64: 7, Valid: true}); p == nil || *p != 7 {
		t.Errorf("nullInt64Value = %v, want 7", p)
	}
}

// nullTimeの相互変換を検証
func TestNullTimeHelpers(t *testing.T) {
	if nt := nullTime(nil); nt.Valid {
		t.Error("nilポインタはNULL扱いになるべき")
	}
	now := time.Now()
	if nt := nullTime(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTime(&now) = %+v", nt)
	}
	if p := nullTimeValue(sql.NullTime{}); p != nil {
		t.Error("nullTimeValue(NULL)はnilになるべき")
	}
}
