package clock

import (
	"testing"
	"time"
)

func TestManual_SleepAdvances(t *testing.T) {
	c := NewManual(1.5)

	c.Sleep(250 * time.Millisecond)
	if got := c.Now(); got != 1.75 {
		t.Errorf("Now() = %v, want 1.75", got)
	}

	c.Sleep(-time.Second)
	if got := c.Now(); got != 1.75 {
		t.Errorf("Now() after negative sleep = %v, want 1.75", got)
	}

	c.Set(10)
	if got := c.Now(); got != 10 {
		t.Errorf("Now() after Set = %v, want 10", got)
	}
}

func TestManual_NoDrift(t *testing.T) {
	c := NewManual(0)
	for i := 0; i < 1000; i++ {
		c.Advance(Seconds(0.02))
	}
	if got := c.Now(); got != 20 {
		t.Errorf("Now() after 1000 x 20ms = %v, want exactly 20", got)
	}
}

func TestMonotonic_NonDecreasing(t *testing.T) {
	c := NewMonotonic()
	prev := c.Now()
	c.Sleep(2 * time.Millisecond)
	now := c.Now()
	if now < prev+0.002 {
		t.Errorf("Now() = %v after 2ms sleep from %v", now, prev)
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Duration
	}{
		{0, 0},
		{0.02, 20 * time.Millisecond},
		{1.5, 1500 * time.Millisecond},
		{-0.5, -500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Seconds(tt.in); got != tt.want {
			t.Errorf("Seconds(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
