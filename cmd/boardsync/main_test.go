package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFloatEnvParsesValue(t *testing.T) {
	t.Setenv("BOARDSYNC_TEST_FLOAT", "0.35")
	got := floatEnv(zerolog.Nop(), "BOARDSYNC_TEST_FLOAT", 0.1)
	if got != 0.35 {
		t.Fatalf("expected 0.35, got %f", got)
	}
}

func TestFloatEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("BOARDSYNC_TEST_FLOAT_BAD", "oops")
	got := floatEnv(zerolog.Nop(), "BOARDSYNC_TEST_FLOAT_BAD", 0.25)
	if got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
}

func TestIntAndDurationEnv(t *testing.T) {
	t.Setenv("BOARDSYNC_TEST_INT", "50")
	t.Setenv("BOARDSYNC_TEST_DURATION", "bad")
	if got := intEnv(zerolog.Nop(), "BOARDSYNC_TEST_INT", 20); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	if got := intEnv(zerolog.Nop(), "BOARDSYNC_TEST_INT_MISSING", 20); got != 20 {
		t.Fatalf("expected fallback 20, got %d", got)
	}
	if got := durationEnv(zerolog.Nop(), "BOARDSYNC_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback 1s, got %s", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
	if got := jitteredIntervalWithSample(0, 0.2, 1); got != 0 {
		t.Fatalf("expected disabled interval, got %s", got)
	}
}
