package domain

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const eps = 1e-9

func TestBucketConfig_RefillRate(t *testing.T) {
	cases := []struct {
		name string
		cfg  BucketConfig
		want float64
	}{
		{"ten per minute", BucketConfig{MaxCalls: 10, Period: time.Minute}, 10.0 / 60.0},
		{"infinite period", BucketConfig{MaxCalls: 10}, 0},
		{"zero capacity", BucketConfig{MaxCalls: 0, Period: time.Minute}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.RefillRate(); math.Abs(got-tc.want) > eps {
				t.Fatalf("expected rate %v, got %v", tc.want, got)
			}
		})
	}
}

func TestBucketConfig_TTLIsTwicePeriod(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 5, Period: 30 * time.Second}
	if cfg.TTL() != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", cfg.TTL())
	}
	if (BucketConfig{MaxCalls: 5}).TTL() != 0 {
		t.Fatalf("expected no ttl for infinite period")
	}
}

func TestBucketConfig_Validate(t *testing.T) {
	if err := (BucketConfig{MaxCalls: -1, Period: time.Second}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if err := (BucketConfig{MaxCalls: 1, Period: -time.Second}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if err := (BucketConfig{MaxCalls: 0}).Validate(); err != nil {
		t.Fatalf("expected zero capacity to be valid, got %v", err)
	}
}

func TestRefillAndTryConsume_AdmitsUntilEmpty(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 3, Period: time.Hour}
	b := FullBucket(cfg, t0)

	for i := 0; i < 3; i++ {
		var ok bool
		var err error
		b, ok, err = RefillAndTryConsume(b, cfg, t0, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected call %d to be admitted", i+1)
		}
	}

	nb, ok, _ := RefillAndTryConsume(b, cfg, t0, 1)
	if ok {
		t.Fatalf("expected fourth call to be rejected")
	}
	if nb.Tokens != b.Tokens {
		t.Fatalf("expected tokens untouched on rejection, got %v want %v", nb.Tokens, b.Tokens)
	}
}

func TestRefillAndTryConsume_RefillsOnRejection(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 10, Period: 10 * time.Second} // 1 token/s
	b := Bucket{Tokens: 0, LastRefillAt: t0}

	nb, ok, err := RefillAndTryConsume(b, cfg, t0.Add(500*time.Millisecond), 1)
	if err != nil || ok {
		t.Fatalf("expected rejection without error, got ok=%v err=%v", ok, err)
	}
	if math.Abs(nb.Tokens-0.5) > eps {
		t.Fatalf("expected topped-up tokens 0.5, got %v", nb.Tokens)
	}
	if !nb.LastRefillAt.Equal(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("expected last refill to advance, got %s", nb.LastRefillAt)
	}

	nb, ok, _ = RefillAndTryConsume(nb, cfg, t0.Add(time.Second), 1)
	if !ok {
		t.Fatalf("expected admission after a full token accumulated")
	}
	if math.Abs(nb.Tokens) > eps {
		t.Fatalf("expected 0 tokens left, got %v", nb.Tokens)
	}
}

func TestRefillAndTryConsume_ZeroCapacityAlwaysRejects(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 0, Period: time.Second}
	b := FullBucket(cfg, t0)
	for _, cost := range []float64{0, 1} {
		if _, ok, err := RefillAndTryConsume(b, cfg, t0.Add(time.Hour), cost); ok || err != nil {
			t.Fatalf("expected rejection for cost %v, got ok=%v err=%v", cost, ok, err)
		}
	}
}

func TestRefillAndTryConsume_InfinitePeriodNeverRegenerates(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 2}
	b := FullBucket(cfg, t0)
	b, _, _ = RefillAndTryConsume(b, cfg, t0, 1)
	b, _, _ = RefillAndTryConsume(b, cfg, t0, 1)

	if _, ok, _ := RefillAndTryConsume(b, cfg, t0.Add(1000*time.Hour), 1); ok {
		t.Fatalf("expected fixed quota to stay exhausted")
	}
}

func TestRefillAndTryConsume_NegativeCostIsProgrammingError(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 2, Period: time.Second}
	b := FullBucket(cfg, t0)

	nb, ok, err := RefillAndTryConsume(b, cfg, t0, -1)
	if !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("negative cost must not look like a rate limit")
	}
	if ok || nb != b {
		t.Fatalf("expected bucket untouched")
	}
}

func TestRefillAndTryConsume_ClockSkewDoesNotRewindOrDoubleRefill(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 10, Period: 10 * time.Second}
	b := Bucket{Tokens: 0, LastRefillAt: t0}

	// processo com relógio atrasado
	nb, ok, _ := RefillAndTryConsume(b, cfg, t0.Add(-5*time.Second), 1)
	if ok {
		t.Fatalf("expected rejection")
	}
	if !nb.LastRefillAt.Equal(t0) {
		t.Fatalf("expected last refill to stay at %s, got %s", t0, nb.LastRefillAt)
	}

	nb, _, _ = RefillAndTryConsume(nb, cfg, t0.Add(2*time.Second), 0)
	if math.Abs(nb.Tokens-2) > eps {
		t.Fatalf("expected exactly 2 tokens after 2s, got %v", nb.Tokens)
	}
}

func TestProject_RefillCorrectness(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 10, Period: time.Minute}
	b := Bucket{Tokens: 1.5, LastRefillAt: t0}

	for _, secs := range []float64{0, 1, 7.25, 30, 60, 3600} {
		now := t0.Add(time.Duration(secs * float64(time.Second)))
		want := math.Min(10, 1.5+secs*cfg.RefillRate())
		if got := Project(b, cfg, now); math.Abs(got-want) > 1e-6 {
			t.Fatalf("after %vs expected %v tokens, got %v", secs, want, got)
		}
	}
}

func TestRefillAndTryConsume_CapacityInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		cfg := BucketConfig{
			MaxCalls: int64(rng.Intn(20)),
			Period:   time.Duration(rng.Intn(120)) * time.Second,
		}
		b := FullBucket(cfg, t0)
		now := t0

		for step := 0; step < 500; step++ {
			now = now.Add(time.Duration(rng.Int63n(int64(3 * time.Second))))
			cost := float64(rng.Intn(3))

			prev := Project(b, cfg, now)
			nb, ok, err := RefillAndTryConsume(b, cfg, now, cost)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if nb.Tokens < 0 || nb.Tokens > cfg.Capacity() {
				t.Fatalf("round %d step %d: tokens %v outside [0, %v]", round, step, nb.Tokens, cfg.Capacity())
			}
			want := prev
			if ok {
				want = prev - cost
			}
			if math.Abs(nb.Tokens-want) > 1e-9 {
				t.Fatalf("round %d step %d: expected %v tokens, got %v", round, step, want, nb.Tokens)
			}
			b = nb
		}
	}
}

func TestRetryAfter(t *testing.T) {
	cfg := BucketConfig{MaxCalls: 10, Period: time.Minute}

	if got := RetryAfter(cfg, 1, 3); got != 0 {
		t.Fatalf("expected 0 when tokens are available, got %s", got)
	}

	got := RetryAfter(cfg, 1, 0)
	if got < 6*time.Second || got > 6*time.Second+time.Millisecond {
		t.Fatalf("expected ~6s, got %s", got)
	}

	// dormir exatamente retry_after precisa bastar para um consumidor sozinho
	b := Bucket{Tokens: 0.25, LastRefillAt: t0}
	ra := RetryAfter(cfg, 1, b.Tokens)
	if _, ok, _ := RefillAndTryConsume(b, cfg, t0.Add(ra), 1); !ok {
		t.Fatalf("expected admission after sleeping retry_after=%s", ra)
	}

	if RetryAfter(BucketConfig{MaxCalls: 0, Period: time.Minute}, 1, 0) != NoRefill {
		t.Fatalf("expected NoRefill for zero capacity")
	}
	if RetryAfter(BucketConfig{MaxCalls: 5}, 1, 0) != NoRefill {
		t.Fatalf("expected NoRefill for infinite period")
	}
	if RetryAfter(cfg, 11, 10) != NoRefill {
		t.Fatalf("expected NoRefill when cost exceeds capacity")
	}
}
