package scan

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/mqtt"
)

// stubPub はPublisherのテスト用実装。publishされた内容を記録する。
type stubPub struct {
	mu   sync.Mutex
	msgs []pubMsg
}

type pubMsg struct {
	topic   string
	payload any
}

func (s *stubPub) PublishJSON(topic string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, pubMsg{topic: topic, payload: payload})
	return nil
}

func (s *stubPub) byTopic(topic string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, m := range s.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (s *stubPub) decodeLast(t *testing.T, topic string, dest any) bool {
	t.Helper()
	payloads := s.byTopic(topic)
	if len(payloads) == 0 {
		return false
	}
	data, err := json.Marshal(payloads[len(payloads)-1])
	if err != nil {
		t.Fatalf("ペイロードの変換に失敗: %v", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("ペイロードの復号に失敗: %v", err)
	}
	return true
}

// readerStore はReaderRepositoryのインメモリ実装。
type readerStore struct {
	mu      sync.Mutex
	readers []*model.Reader
}

func (f *readerStore) FindByMac(ctx context.Context, macAddress string) (*model.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.readers {
		if r.MacAddress == macAddress {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *readerStore) ListOnline(ctx context.Context) ([]*model.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var online []*model.Reader
	for _, r := range f.readers {
		if r.IsOnline {
			copied := *r
			online = append(online, &copied)
		}
	}
	return online, nil
}

func (f *readerStore) UpsertRegistration(ctx context.Context, reader *model.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *reader
	f.readers = append(f.readers, &copied)
	return nil
}

func (f *readerStore) RefreshNetwork(ctx context.Context, macAddress, ipAddress string, seenAt time.Time) error {
	return nil
}

func (f *readerStore) SetOnline(ctx context.Context, macAddress string, online bool, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.readers {
		if r.MacAddress == macAddress {
			r.IsOnline = online
			r.LastSeen = seenAt
		}
	}
	return nil
}

func (f *readerStore) ListStale(ctx context.Context, threshold time.Time) ([]*model.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []*model.Reader
	for _, r := range f.readers {
		if r.IsOnline && r.LastSeen.Before(threshold) {
			copied := *r
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCorrelatorBeginNoReaders(t *testing.T) {
	pub := &stubPub{}
	c := NewCorrelator(&readerStore{}, pub, discardLogger(), time.Minute)

	if err := c.Begin(context.Background(), "req-1", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}

	var fb mqtt.ModalFeedback
	if !pub.decodeLast(t, mqtt.TopicFeedback, &fb) {
		t.Fatal("リーダー不在のフィードバックが配信されていない")
	}
	if fb.Status != "error" || fb.RequestID != "req-1" {
		t.Errorf("fb = %+v", fb)
	}
	if c.Pending() != 0 {
		t.Error("リーダー不在ではエントリを作らない")
	}
}

func TestCorrelatorBeginBindsFirstFreeReader(t *testing.T) {
	pub := &stubPub{}
	readers := &readerStore{readers: []*model.Reader{
		{ID: 1, MacAddress: "aa:aa", IsOnline: true},
		{ID: 2, MacAddress: "bb:bb", IsOnline: true},
	}}
	c := NewCorrelator(readers, pub, discardLogger(), time.Minute)

	if err := c.Begin(context.Background(), "req-1", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}

	var cmd mqtt.ScanCommand
	if !pub.decodeLast(t, mqtt.ScanCommandTopic("aa:aa"), &cmd) {
		t.Fatal("先頭のリーダーへスキャン開始コマンドが送られていない")
	}
	if cmd.Command != "start_scan" || cmd.RequestID != "req-1" {
		t.Errorf("cmd = %+v", cmd)
	}

	// 2件目は次の空きリーダーへ
	if err := c.Begin(context.Background(), "req-2", 8, "bob", "chorecast_frontend_2"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}
	if !pub.decodeLast(t, mqtt.ScanCommandTopic("bb:bb"), &cmd) {
		t.Fatal("2件目が空きリーダーへ束縛されていない")
	}

	// 全リーダーが塞がっていればエラーフィードバック
	if err := c.Begin(context.Background(), "req-3", 9, "carol", "chorecast_frontend_3"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}
	var fb mqtt.ModalFeedback
	if !pub.decodeLast(t, mqtt.TopicFeedback, &fb) || fb.RequestID != "req-3" {
		t.Error("空きリーダーなしのフィードバックが配信されていない")
	}
}

func TestCorrelatorTakeAtMostOnce(t *testing.T) {
	pub := &stubPub{}
	readers := &readerStore{readers: []*model.Reader{{ID: 1, MacAddress: "aa:aa", IsOnline: true}}}
	c := NewCorrelator(readers, pub, discardLogger(), time.Minute)

	if err := c.Begin(context.Background(), "req-1", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}

	entry, ok := c.Take("aa:aa")
	if !ok {
		t.Fatal("束縛されたエントリが取り出せない")
	}
	if entry.RequestID != "req-1" || entry.ReaderMac != "aa:aa" {
		t.Errorf("entry = %+v", entry)
	}

	// 2回目は取り出せない（最大1回の解決）
	if _, ok := c.Take("aa:aa"); ok {
		t.Error("同じエントリが2回解決された")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestCorrelatorComplete(t *testing.T) {
	pub := &stubPub{}
	c := NewCorrelator(&readerStore{}, pub, discardLogger(), time.Minute)

	entry := &Entry{RequestID: "req-1", ReaderMac: "aa:aa"}
	c.Complete(entry, mqtt.Scan{TagID: "04a1b2"})

	var fb mqtt.ModalFeedback
	if !pub.decodeLast(t, mqtt.TopicFeedback, &fb) {
		t.Fatal("フィードバックが配信されていない")
	}
	if fb.Status != "success" || fb.TagID != "04a1b2" {
		t.Errorf("fb = %+v", fb)
	}

	// タグなしはエラー
	c.Complete(entry, mqtt.Scan{})
	if !pub.decodeLast(t, mqtt.TopicFeedback, &fb) || fb.Status != "error" {
		t.Errorf("タグなしの結果はエラーになるべき: %+v", fb)
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	pub := &stubPub{}
	readers := &readerStore{readers: []*model.Reader{{ID: 1, MacAddress: "aa:aa", IsOnline: true}}}
	c := NewCorrelator(readers, pub, discardLogger(), 20*time.Millisecond)

	if err := c.Begin(context.Background(), "req-1", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Pending() != 0 {
		t.Fatal("タイムアウト後もエントリが残っている")
	}

	var fb mqtt.ModalFeedback
	if !pub.decodeLast(t, mqtt.TopicFeedback, &fb) {
		t.Fatal("タイムアウトフィードバックが配信されていない")
	}
	if fb.Status != "error" || fb.RequestID != "req-1" {
		t.Errorf("fb = %+v", fb)
	}

	// 解放されたリーダーは再利用できる
	if err := c.Begin(context.Background(), "req-2", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}
	if c.Pending() != 1 {
		t.Error("タイムアウト後のリーダーが再束縛できない")
	}
}

func TestCorrelatorDropClient(t *testing.T) {
	pub := &stubPub{}
	readers := &readerStore{readers: []*model.Reader{{ID: 1, MacAddress: "aa:aa", IsOnline: true}}}
	c := NewCorrelator(readers, pub, discardLogger(), time.Minute)

	if err := c.Begin(context.Background(), "req-1", 7, "alice", "chorecast_frontend_1"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}

	c.DropClient("chorecast_frontend_1")
	if c.Pending() != 0 {
		t.Error("切断したクライアントのエントリが残っている")
	}

	// リーダーの束縛も解放されている
	if _, ok := c.Take("aa:aa"); ok {
		t.Error("破棄済みエントリが取り出せてしまう")
	}
	if err := c.Begin(context.Background(), "req-2", 8, "bob", "chorecast_frontend_2"); err != nil {
		t.Fatalf("Beginに失敗: %v", err)
	}
	if c.Pending() != 1 {
		t.Error("解放されたリーダーが再束縛できない")
	}
}
