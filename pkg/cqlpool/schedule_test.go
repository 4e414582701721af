package cqlpool

import (
	"testing"
	"time"
)

func TestExponentialSchedule(t *testing.T) {
	s := NewExponentialSchedule(100*time.Millisecond, 800*time.Millisecond, 2.0)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond, // clamped at max
	}
	for i, w := range want {
		if got := s.Next(); got != w {
			t.Fatalf("Next() call %d = %v, want %v", i, got, w)
		}
	}
}

func TestExponentialScheduleFromConfig(t *testing.T) {
	cfg := ReconnectConfig{
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   200 * time.Millisecond,
		Multiplier: 2.0,
	}
	s := NewExponentialScheduleFromConfig(cfg)
	if got := s.Next(); got != 50*time.Millisecond {
		t.Fatalf("first Next() = %v, want 50ms", got)
	}
	if got := s.Next(); got != 100*time.Millisecond {
		t.Fatalf("second Next() = %v, want 100ms", got)
	}
}

func TestFixedSchedule(t *testing.T) {
	s := FixedSchedule{Delay: 25 * time.Millisecond}
	for i := 0; i < 3; i++ {
		if got := s.Next(); got != 25*time.Millisecond {
			t.Fatalf("Next() call %d = %v, want 25ms", i, got)
		}
	}
}

func TestSliceSchedule(t *testing.T) {
	s := NewSliceSchedule(10*time.Millisecond, 20*time.Millisecond, 30*time.Millisecond)

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond, // repeats last delay forever
		30 * time.Millisecond,
	}
	for i, w := range want {
		if got := s.Next(); got != w {
			t.Fatalf("Next() call %d = %v, want %v", i, got, w)
		}
	}
}
