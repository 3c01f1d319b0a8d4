package remind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/webhook"
)

type fakeStats struct {
	rows []*model.DailyStat
}

func (f *fakeStats) UpsertDaily(_ context.Context, _ *model.DailyStat, _ model.StatKind, _ time.Time) error {
	return nil
}

func (f *fakeStats) ListUnresolvedBefore(_ context.Context, _ string) ([]*model.DailyStat, error) {
	return nil, nil
}

func (f *fakeStats) ListForDate(_ context.Context, _ string) ([]*model.DailyStat, error) {
	return f.rows, nil
}

type fakeChores struct {
	chores    map[int64]*model.Chore
	schedules map[int64][]*model.Schedule
}

func (f *fakeChores) FindByID(_ context.Context, id int64) (*model.Chore, error) {
	return f.chores[id], nil
}

func (f *fakeChores) FindByTagID(_ context.Context, _ string) (*model.Chore, error) {
	return nil, nil
}

func (f *fakeChores) SchedulesForChore(_ context.Context, choreID int64) ([]*model.Schedule, error) {
	return f.schedules[choreID], nil
}

func (f *fakeChores) ListEnabledWithSchedules(_ context.Context) ([]*model.Chore, map[int64][]*model.Schedule, error) {
	return nil, nil, nil
}

func (f *fakeChores) PoolUserIDs(_ context.Context, _ int64) ([]int64, error) {
	return nil, nil
}

func (f *fakeChores) SetLastAssignedUser(_ context.Context, _ int64, _ *int64) error {
	return nil
}

type fakeSettings struct {
	settings model.Settings
}

func (f *fakeSettings) GetAll(_ context.Context) (*model.Settings, error) {
	s := f.settings
	return &s, nil
}

type fakeReminderLog struct {
	mu   sync.Mutex
	sent map[string]bool
}

func reminderKey(choreID int64, isoDate string, kind model.ReminderKind) string {
	return fmt.Sprintf("%d|%s|%s", choreID, isoDate, kind)
}

func (f *fakeReminderLog) WasSent(_ context.Context, choreID int64, isoDate string, kind model.ReminderKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[reminderKey(choreID, isoDate, kind)], nil
}

func (f *fakeReminderLog) MarkSent(_ context.Context, choreID int64, _ *int64, isoDate string, kind model.ReminderKind, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[reminderKey(choreID, isoDate, kind)] = true
	return nil
}

type countingRefresher struct {
	count int
}

func (c *countingRefresher) Refresh() { c.count++ }

type nudgrCapture struct {
	mu       sync.Mutex
	payloads []webhook.NudgrReminder
	apiKeys  []string
}

func (n *nudgrCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p webhook.NudgrReminder
		_ = json.NewDecoder(r.Body).Decode(&p)
		n.mu.Lock()
		n.payloads = append(n.payloads, p)
		n.apiKeys = append(n.apiKeys, r.Header.Get("X-API-Key"))
		n.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

type fixture struct {
	worker  *Worker
	capture *nudgrCapture
	log     *fakeReminderLog
	refresh *countingRefresher
	server  *httptest.Server
}

// newFixture は18:00期限のチョア1件を持つテスト環境を組み立てる。
func newFixture(t *testing.T, now time.Time, important bool, settings model.Settings) *fixture {
	t.Helper()

	capture := &nudgrCapture{}
	server := httptest.NewServer(capture.handler())
	t.Cleanup(server.Close)

	settings.NudgrWebhookURL = server.URL
	settings.NudgrAPIKey = "nudgr-key"

	stats := &fakeStats{rows: []*model.DailyStat{
		{StatDate: now.Format("2006-01-02"), ChoreID: 1, UserID: 1,
			ChoreName: "Dishes", UserName: "alice", AssignedCount: 1},
	}}
	chores := &fakeChores{
		chores: map[int64]*model.Chore{
			1: {ID: 1, Name: "Dishes", Enabled: true, Important: important, AssignmentType: model.AssignmentManual},
		},
		schedules: map[int64][]*model.Schedule{
			1: {{ID: 1, ChoreID: 1, Type: model.ScheduleDaily, DueTime: "18:00"}},
		},
	}
	reminderLog := &fakeReminderLog{sent: map[string]bool{}}
	refresh := &countingRefresher{}

	logger := newTestLogger()
	client := webhook.NewClient(5*time.Second, true, 100, nil, logger)
	w := NewWorker(stats, chores, &fakeSettings{settings: settings}, reminderLog, client, refresh, time.UTC, logger)
	w.now = func() time.Time { return now }

	return &fixture{worker: w, capture: capture, log: reminderLog, refresh: refresh, server: server}
}

func TestOverdueCheckSendsOnceAfterOneHour(t *testing.T) {
	// 18:00期限、19:30なら90分超過
	now := time.Date(2024, 1, 2, 19, 30, 0, 0, time.UTC)
	fx := newFixture(t, now, false, model.Settings{NudgrOnMissed: true, UseMilitaryTime: true})

	if err := fx.worker.RunOverdueCheck(context.Background()); err != nil {
		t.Fatalf("RunOverdueCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 1 {
		t.Fatalf("送信回数が不正: %d", len(fx.capture.payloads))
	}

	p := fx.capture.payloads[0]
	if p.Priority != 3 {
		t.Errorf("優先度が不正: %d", p.Priority)
	}
	if p.Recipient != "alice" {
		t.Errorf("宛先が不正: %s", p.Recipient)
	}
	if !p.IsRelentless {
		t.Error("期限超過リマインダーはis_relentlessで送る")
	}
	if p.Text != "Chorecast Alert: Chore 'Dishes' was supposed to start at 18:00 and is now past due!" {
		t.Errorf("本文が不正: %s", p.Text)
	}
	if fx.capture.apiKeys[0] != "nudgr-key" {
		t.Errorf("APIキーが不正: %s", fx.capture.apiKeys[0])
	}

	// 2回目は送信済み履歴で抑止される
	if err := fx.worker.RunOverdueCheck(context.Background()); err != nil {
		t.Fatalf("RunOverdueCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 1 {
		t.Errorf("重複送信された: %d", len(fx.capture.payloads))
	}
}

func TestOverdueCheckSkipsWithinGrace(t *testing.T) {
	// 18:30では超過60分未満
	now := time.Date(2024, 1, 2, 18, 30, 0, 0, time.UTC)
	fx := newFixture(t, now, false, model.Settings{NudgrOnMissed: true})

	if err := fx.worker.RunOverdueCheck(context.Background()); err != nil {
		t.Fatalf("RunOverdueCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 0 {
		t.Errorf("猶予時間内に送信された: %d", len(fx.capture.payloads))
	}
}

func TestOverdueCheckDisabledBySettings(t *testing.T) {
	now := time.Date(2024, 1, 2, 19, 30, 0, 0, time.UTC)
	fx := newFixture(t, now, false, model.Settings{NudgrOnMissed: false})

	if err := fx.worker.RunOverdueCheck(context.Background()); err != nil {
		t.Fatalf("RunOverdueCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 0 {
		t.Errorf("無効設定なのに送信された: %d", len(fx.capture.payloads))
	}
}

func TestImportantCheckSendsWithinLeadTime(t *testing.T) {
	// 18:00期限、17:40ならリードタイム30分以内
	now := time.Date(2024, 1, 2, 17, 40, 0, 0, time.UTC)
	fx := newFixture(t, now, true, model.Settings{
		NudgrOnImportant:   true,
		NudgrAlertLeadTime: "30_minutes",
	})

	if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
		t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 1 {
		t.Fatalf("送信回数が不正: %d", len(fx.capture.payloads))
	}

	p := fx.capture.payloads[0]
	if p.Priority != 1 {
		t.Errorf("優先度が不正: %d", p.Priority)
	}
	if p.Text != "Chorecast Reminder: Important chore 'Dishes' starts at 6:00 PM!" {
		t.Errorf("本文が不正: %s", p.Text)
	}

	// 通常設定では1日1回に抑止される
	if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
		t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 1 {
		t.Errorf("重複送信された: %d", len(fx.capture.payloads))
	}
}

func TestImportantCheckRelentlessResends(t *testing.T) {
	now := time.Date(2024, 1, 2, 17, 40, 0, 0, time.UTC)
	fx := newFixture(t, now, true, model.Settings{
		NudgrOnImportant:   true,
		NudgrAlertLeadTime: "30_minutes",
		NudgrRelentless:    true,
	})

	for i := 0; i < 2; i++ {
		if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
			t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
		}
	}
	if len(fx.capture.payloads) != 2 {
		t.Errorf("relentless設定で再送されない: %d", len(fx.capture.payloads))
	}
}

func TestImportantCheckSkipsOutsideWindow(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
	}{
		{"リードタイムより前", time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)},
		{"期限到来後", time.Date(2024, 1, 2, 18, 10, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.now, true, model.Settings{
				NudgrOnImportant:   true,
				NudgrAlertLeadTime: "30_minutes",
			})
			if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
				t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
			}
			if len(fx.capture.payloads) != 0 {
				t.Errorf("ウィンドウ外で送信された: %d", len(fx.capture.payloads))
			}
		})
	}
}

func TestImportantCheckSkipsNonImportant(t *testing.T) {
	now := time.Date(2024, 1, 2, 17, 40, 0, 0, time.UTC)
	fx := newFixture(t, now, false, model.Settings{
		NudgrOnImportant:   true,
		NudgrAlertLeadTime: "30_minutes",
	})

	if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
		t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 0 {
		t.Errorf("重要でないチョアに送信された: %d", len(fx.capture.payloads))
	}
}

func TestImportantCheckNoAlertLeadTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 17, 40, 0, 0, time.UTC)
	fx := newFixture(t, now, true, model.Settings{
		NudgrOnImportant:   true,
		NudgrAlertLeadTime: "no_alert",
	})

	if err := fx.worker.RunImportantCheck(context.Background()); err != nil {
		t.Fatalf("RunImportantCheckがエラーを返した: %v", err)
	}
	if len(fx.capture.payloads) != 0 {
		t.Errorf("no_alert設定で送信された: %d", len(fx.capture.payloads))
	}
}

func TestTipOverCheckRefreshesOnceCrossed(t *testing.T) {
	// 18:00期限を18:00:30に跨いだ直後
	now := time.Date(2024, 1, 2, 18, 0, 30, 0, time.UTC)
	fx := newFixture(t, now, false, model.Settings{})

	if err := fx.worker.RunTipOverCheck(context.Background()); err != nil {
		t.Fatalf("RunTipOverCheckがエラーを返した: %v", err)
	}
	if fx.refresh.count != 1 {
		t.Errorf("サマリ再送要求の回数が不正: %d", fx.refresh.count)
	}

	// 跨いでから時間が経っていれば要求しない
	fx.worker.now = func() time.Time { return time.Date(2024, 1, 2, 18, 5, 0, 0, time.UTC) }
	if err := fx.worker.RunTipOverCheck(context.Background()); err != nil {
		t.Fatalf("RunTipOverCheckがエラーを返した: %v", err)
	}
	if fx.refresh.count != 1 {
		t.Errorf("跨ぎ以外でサマリ再送が要求された: %d", fx.refresh.count)
	}
}
