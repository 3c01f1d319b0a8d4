package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// fakeStatsRepo はStatsRepositoryのインメモリ実装。
// UpsertDailyの条件付き更新（GREATEST/加算）を同じ規則で適用する。
type fakeStatsRepo struct {
	rows       map[string]*model.DailyStat
	unresolved []*model.DailyStat
	upsertErr  error
	kinds      []model.StatKind
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{rows: make(map[string]*model.DailyStat)}
}

func statKey(s *model.DailyStat) string {
	return s.StatDate + "/" + s.ChoreName + "/" + s.UserName
}

func (f *fakeStatsRepo) UpsertDaily(ctx context.Context, stat *model.DailyStat, kind model.StatKind, at time.Time) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.kinds = append(f.kinds, kind)

	key := statKey(stat)
	row, ok := f.rows[key]
	if !ok {
		row = &model.DailyStat{
			StatDate: stat.StatDate, ChoreID: stat.ChoreID, UserID: stat.UserID,
			ChoreName: stat.ChoreName, UserName: stat.UserName,
		}
		f.rows[key] = row
	}
	switch kind {
	case model.StatAssigned:
		if row.AssignedCount < 1 {
			row.AssignedCount = 1
		}
	case model.StatCompleted:
		if row.AssignedCount < 1 {
			row.AssignedCount = 1
		}
		row.CompletedCount++
		t := at
		row.CompletionTimestamp = &t
	case model.StatMissed:
		if row.AssignedCount < 1 {
			row.AssignedCount = 1
		}
		row.MissedCount++
	}
	return nil
}

func (f *fakeStatsRepo) ListUnresolvedBefore(ctx context.Context, isoDate string) ([]*model.DailyStat, error) {
	return f.unresolved, nil
}

func (f *fakeStatsRepo) ListForDate(ctx context.Context, isoDate string) ([]*model.DailyStat, error) {
	return nil, nil
}

func testEngine(repo *fakeStatsRepo, now time.Time) *Engine {
	e := NewEngine(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return now }
	return e
}

func TestRecordAssignedIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	repo := newFakeStatsRepo()
	engine := testEngine(repo, now)

	chore := &model.Chore{ID: 1, Name: "Dishes"}
	user := &model.User{ID: 10, Username: "alice"}

	// 何度記録しても担当数は1
	for i := 0; i < 3; i++ {
		if err := engine.RecordAssigned(context.Background(), "2026-03-02", chore, user); err != nil {
			t.Fatalf("RecordAssignedに失敗: %v", err)
		}
	}
	row := repo.rows["2026-03-02/Dishes/alice"]
	if row == nil || row.AssignedCount != 1 {
		t.Fatalf("AssignedCount = %+v, want 1", row)
	}
}

func TestRecordCompletedAdditive(t *testing.T) {
	now := time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)
	repo := newFakeStatsRepo()
	engine := testEngine(repo, now)

	chore := &model.Chore{ID: 1, Name: "Dishes"}
	user := &model.User{ID: 10, Username: "alice"}

	if err := engine.RecordCompleted(context.Background(), "2026-03-02", chore, user, now); err != nil {
		t.Fatalf("RecordCompletedに失敗: %v", err)
	}
	if err := engine.RecordCompleted(context.Background(), "2026-03-02", chore, user, now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordCompletedに失敗: %v", err)
	}

	row := repo.rows["2026-03-02/Dishes/alice"]
	if row.CompletedCount != 2 {
		t.Errorf("CompletedCount = %d, want 2（加算）", row.CompletedCount)
	}
	if row.CompletionTimestamp == nil || !row.CompletionTimestamp.Equal(now.Add(time.Hour)) {
		t.Errorf("CompletionTimestamp = %v", row.CompletionTimestamp)
	}
}

func TestMarkMissedBefore(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	repo := newFakeStatsRepo()
	engine := testEngine(repo, now)

	repo.unresolved = []*model.DailyStat{
		{StatDate: "2026-03-01", ChoreID: 1, UserID: 10, ChoreName: "Dishes", UserName: "alice", AssignedCount: 1},
		{StatDate: "2026-03-01", ChoreID: 2, UserID: 20, ChoreName: "Trash", UserName: "bob", AssignedCount: 1},
	}

	marked, err := engine.MarkMissedBefore(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("MarkMissedBeforeに失敗: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked = %d, want 2", marked)
	}
	for _, kind := range repo.kinds {
		if kind != model.StatMissed {
			t.Errorf("missed以外の更新が発生した: %s", kind)
		}
	}
}

// スイープは完了済み・当日以降・未担当の行を決して失敗扱いしない
func TestMarkMissedBeforeGating(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	repo := newFakeStatsRepo()
	engine := testEngine(repo, now)

	repo.unresolved = []*model.DailyStat{
		{StatDate: "2026-03-01", ChoreID: 1, UserID: 10, AssignedCount: 1, CompletedCount: 1},
		{StatDate: "2026-03-02", ChoreID: 2, UserID: 10, AssignedCount: 1},
		{StatDate: "2026-03-03", ChoreID: 3, UserID: 10, AssignedCount: 1},
		{StatDate: "2026-03-01", ChoreID: 4, UserID: 10, AssignedCount: 0},
		{StatDate: "2026-03-01", ChoreID: 5, UserID: 10, AssignedCount: 1, MissedCount: 1},
	}

	marked, err := engine.MarkMissedBefore(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("MarkMissedBeforeに失敗: %v", err)
	}
	if marked != 0 {
		t.Errorf("marked = %d, want 0", marked)
	}
	if len(repo.kinds) != 0 {
		t.Errorf("対象外の行が更新された: %v", repo.kinds)
	}
}

func TestMarkMissedBeforeContinuesOnError(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	repo := newFakeStatsRepo()
	engine := testEngine(repo, now)

	repo.unresolved = []*model.DailyStat{
		{StatDate: "2026-03-01", ChoreID: 1, UserID: 10, AssignedCount: 1},
	}
	repo.upsertErr = errors.New("deadlock detected")

	marked, err := engine.MarkMissedBefore(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("1行の失敗でスイープ全体が失敗してはならない: %v", err)
	}
	if marked != 0 {
		t.Errorf("marked = %d, want 0", marked)
	}
}
