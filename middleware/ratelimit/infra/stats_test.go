package infra

import (
	"context"
	"testing"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestMemoryStatsStore_CountsByService(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	for _, ev := range []domain.StatsEvent{
		{Service: "rss", Outcome: domain.OutcomeAdmitted},
		{Service: "rss", Outcome: domain.OutcomeRejected},
		{Service: "llm", Outcome: domain.OutcomeStoreFault},
	} {
		_ = s.Record(ctx, ev)
	}

	want := map[domain.Service]Counters{
		"rss": {Admitted: 1, Rejected: 1},
		"llm": {StoreFaults: 1},
	}
	if diff := cmp.Diff(want, s.ByService()); diff != "" {
		t.Fatalf("unexpected counters (-want +got):\n%s", diff)
	}
	if got := s.Total(); got != (Counters{Admitted: 1, Rejected: 1, StoreFaults: 1}) {
		t.Fatalf("unexpected total: %+v", got)
	}
}

func TestRedisStatsStore_RecordsAggregates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("stats:"), WithStatsTTL(time.Hour))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 15, 0, 0, time.UTC)

	_ = s.Record(ctx, domain.StatsEvent{Service: "apify", Outcome: domain.OutcomeAdmitted, At: at})
	_ = s.Record(ctx, domain.StatsEvent{Service: "apify", Outcome: domain.OutcomeRejected, At: at})
	if err := s.Record(ctx, domain.StatsEvent{Service: "web", Outcome: domain.OutcomeAdmitted, At: at}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total, err := s.Counters(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != (Counters{Admitted: 2, Rejected: 1}) {
		t.Fatalf("unexpected total: %+v", total)
	}

	apify, _ := s.Counters(ctx, "apify")
	if apify != (Counters{Admitted: 1, Rejected: 1}) {
		t.Fatalf("unexpected apify counters: %+v", apify)
	}

	if got := mr.HGet("stats:minute:202603010815:apify", "admitted"); got != "1" {
		t.Fatalf("expected minute series, got %q", got)
	}
	if ttl := mr.TTL("stats:service:apify"); ttl != time.Hour {
		t.Fatalf("expected per-service ttl 1h, got %s", ttl)
	}
	if ttl := mr.TTL("stats:total"); ttl != 0 {
		t.Fatalf("expected total to never expire, got %s", ttl)
	}
}

func TestOTelStatsStore_Records(t *testing.T) {
	s, err := NewOTelStatsStore(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Record(context.Background(), domain.StatsEvent{Service: "llm", Outcome: domain.OutcomeAdmitted, Cost: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestServicePools(t *testing.T) {
	sp := NewServicePools(map[domain.Service]int{"web": 1, "rss": 0})
	if sp.Get("rss") != nil {
		t.Fatal("expected no pool for unlimited service")
	}

	pool := sp.Get("web")
	release, ok := pool.Acquire(context.Background())
	if !ok {
		t.Fatal("expected first slot")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := pool.Acquire(ctx); ok {
		t.Fatal("expected second acquire to time out")
	}
	release()
}
