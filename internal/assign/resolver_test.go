package assign

import (
	"testing"

	"github.com/hitoshi/chorecast/internal/model"
)

func TestForDayShuffleDeterministic(t *testing.T) {
	pool := []int64{10, 20, 30}

	first, ok := ForDay(model.AssignmentShuffle, pool, 7, "2026-03-02")
	if !ok {
		t.Fatal("担当者が決定されるべき")
	}
	for i := 0; i < 50; i++ {
		got, ok := ForDay(model.AssignmentShuffle, pool, 7, "2026-03-02")
		if !ok || got != first {
			t.Fatalf("同じ入力で結果が変わった: %d != %d", got, first)
		}
	}

	// チョアIDが違えば独立した系列になる（全チョアで同じ日に同じ
	// インデックスに偏らないことの弱い確認）
	varied := false
	for choreID := int64(1); choreID <= 20; choreID++ {
		if got, _ := ForDay(model.AssignmentShuffle, pool, choreID, "2026-03-02"); got != first {
			varied = true
			break
		}
	}
	if !varied {
		t.Error("チョアIDを変えても担当者が全く変わらない")
	}
}

func TestForDayRoundRobinAdvancesDaily(t *testing.T) {
	pool := []int64{10, 20, 30}

	// 基準日当日はプール先頭
	if got, _ := ForDay(model.AssignmentRoundRobin, pool, 1, "2024-01-01"); got != 10 {
		t.Errorf("2024-01-01の担当 = %d, want 10", got)
	}
	// 1日で1ポジション進む
	if got, _ := ForDay(model.AssignmentRoundRobin, pool, 1, "2024-01-02"); got != 20 {
		t.Errorf("2024-01-02の担当 = %d, want 20", got)
	}
	if got, _ := ForDay(model.AssignmentRoundRobin, pool, 1, "2024-01-03"); got != 30 {
		t.Errorf("2024-01-03の担当 = %d, want 30", got)
	}
	// プールサイズで一周する
	if got, _ := ForDay(model.AssignmentRoundRobin, pool, 1, "2024-01-04"); got != 10 {
		t.Errorf("2024-01-04の担当 = %d, want 10", got)
	}
}

func TestForDayRoundRobinTwoUserPool(t *testing.T) {
	pool := []int64{100, 200}
	if got, _ := ForDay(model.AssignmentRoundRobin, pool, 5, "2024-01-02"); got != 200 {
		t.Errorf("2024-01-02の担当 = %d, want 200", got)
	}
}

func TestForDayRoundRobinBeforeEpoch(t *testing.T) {
	pool := []int64{10, 20, 30}
	got, ok := ForDay(model.AssignmentRoundRobin, pool, 1, "2023-12-31")
	if !ok {
		t.Fatal("基準日以前でも担当者が決定されるべき")
	}
	found := false
	for _, id := range pool {
		if id == got {
			found = true
		}
	}
	if !found {
		t.Errorf("担当者%dがプールに含まれていない", got)
	}
}

func TestForDayEdgeCases(t *testing.T) {
	if _, ok := ForDay(model.AssignmentRoundRobin, nil, 1, "2026-03-02"); ok {
		t.Error("空プールでは決定しない")
	}
	if _, ok := ForDay(model.AssignmentManual, []int64{10}, 1, "2026-03-02"); ok {
		t.Error("手動割り当てはForDayの対象外")
	}
	// 不正な日付は先頭にフォールバック
	if got, ok := ForDay(model.AssignmentRoundRobin, []int64{10, 20}, 1, "not-a-date"); !ok || got != 10 {
		t.Errorf("不正な日付の場合 = (%d, %v), want (10, true)", got, ok)
	}
}

func TestNextUp(t *testing.T) {
	pool := []int64{10, 20, 30}
	last := int64(20)

	if got, _ := NextUp(pool, &last); got != 30 {
		t.Errorf("NextUp(20の次) = %d, want 30", got)
	}

	// 末尾の次は先頭に戻る
	tail := int64(30)
	if got, _ := NextUp(pool, &tail); got != 10 {
		t.Errorf("NextUp(30の次) = %d, want 10", got)
	}

	// 前回担当者が不明なら先頭
	if got, _ := NextUp(pool, nil); got != 10 {
		t.Errorf("NextUp(nil) = %d, want 10", got)
	}

	// プールから外れた担当者も先頭扱い
	gone := int64(99)
	if got, _ := NextUp(pool, &gone); got != 10 {
		t.Errorf("NextUp(プール外) = %d, want 10", got)
	}

	if _, ok := NextUp(nil, &last); ok {
		t.Error("空プールでは決定しない")
	}
}
