// Package timeutil 时间工具测试
package timeutil

import (
	"testing"
	"time"
)

func TestDurationMs(t *testing.T) {
	cases := []struct {
		start, end int64
		want       float64
	}{
		{0, 1_000_000, 1},
		{0, 2_500_000, 2.5},
		{5_000_000, 5_000_000, 0},
		{1_700_000_000_000_000_000, 1_700_000_000_250_000_000, 250},
	}
	for _, tc := range cases {
		if got := DurationMs(tc.start, tc.end); got != tc.want {
			t.Errorf("DurationMs(%d, %d) = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestNowNano_Monotonic(t *testing.T) {
	prev := NowNano()
	for i := 0; i < 1000; i++ {
		now := NowNano()
		if now < prev {
			t.Fatalf("NowNano 回退: %d < %d", now, prev)
		}
		prev = now
	}
	if d := time.Now().UnixNano() - NowNano(); d > int64(time.Second) || d < -int64(time.Second) {
		t.Fatalf("NowNano 偏离墙钟 %dns", d)
	}
}

func TestClocks(t *testing.T) {
	if got := FixedClock(1700000000)(); got != 1700000000 {
		t.Fatalf("FixedClock = %d", got)
	}
	if got := SystemClock(); got < 1700000000 {
		t.Fatalf("SystemClock = %d", got)
	}
	if got := Millis(1500); got != 1500*time.Millisecond {
		t.Fatalf("Millis(1500) = %v", got)
	}
}
