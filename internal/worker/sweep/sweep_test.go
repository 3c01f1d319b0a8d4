package sweep

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/mqtt"
)

type fakeReaderRepo struct {
	readers []*model.Reader
}

func (f *fakeReaderRepo) FindByMac(_ context.Context, mac string) (*model.Reader, error) {
	for _, r := range f.readers {
		if r.MacAddress == mac {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReaderRepo) ListOnline(_ context.Context) ([]*model.Reader, error) {
	var out []*model.Reader
	for _, r := range f.readers {
		if r.IsOnline {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReaderRepo) UpsertRegistration(_ context.Context, _ *model.Reader) error {
	return nil
}

func (f *fakeReaderRepo) RefreshNetwork(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (f *fakeReaderRepo) SetOnline(_ context.Context, mac string, online bool, seenAt time.Time) error {
	for _, r := range f.readers {
		if r.MacAddress == mac {
			r.IsOnline = online
			r.LastSeen = seenAt
		}
	}
	return nil
}

func (f *fakeReaderRepo) ListStale(_ context.Context, threshold time.Time) ([]*model.Reader, error) {
	var out []*model.Reader
	for _, r := range f.readers {
		if r.IsOnline && r.LastSeen.Before(threshold) {
			out = append(out, r)
		}
	}
	return out, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishJSON(_ string, _ any) error { return nil }

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

func TestRunOnceSweepsStaleAndUpdatesGauge(t *testing.T) {
	now := time.Now()
	repo := &fakeReaderRepo{readers: []*model.Reader{
		{MacAddress: "aa:aa", IsOnline: true, LastSeen: now.Add(-10 * time.Minute)},
		{MacAddress: "bb:bb", IsOnline: true, LastSeen: now},
	}}
	logger := newTestLogger()
	tracker := mqtt.NewTracker(repo, noopPublisher{}, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	w := NewWorker(tracker, repo, collector, 3*time.Minute, logger)
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnceがエラーを返した: %v", err)
	}

	stale, _ := repo.FindByMac(context.Background(), "aa:aa")
	if stale.IsOnline {
		t.Error("応答のないリーダーがオフラインになっていない")
	}
	fresh, _ := repo.FindByMac(context.Background(), "bb:bb")
	if !fresh.IsOnline {
		t.Error("応答のあるリーダーがオフラインにされた")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("メトリクスの収集に失敗: %v", err)
	}
	var gauge float64 = -1
	for _, mf := range families {
		if mf.GetName() == "chorecast_readers_online" {
			gauge = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if gauge != 1 {
		t.Errorf("オンライン台数ゲージが不正: %v", gauge)
	}
}
