package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)

	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_NowAndSet(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)
	if !clock.Now().Equal(fixedTime) {
		t.Errorf("got %v, want %v", clock.Now(), fixedTime)
	}

	newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(newTime)
	if !clock.Now().Equal(newTime) {
		t.Errorf("got %v, want %v", clock.Now(), newTime)
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(2 * time.Second)
	clock.Sleep(500 * time.Millisecond)

	if got := clock.Since(start); got != 2500*time.Millisecond {
		t.Errorf("Since(start) = %v, want 2.5s", got)
	}
	waits := clock.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 500*time.Millisecond {
		t.Errorf("Waits() = %v", waits)
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ch := clock.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}
	if clock.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", clock.Pending())
	}

	clock.Advance(999 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestMockClock_AfterZeroFiresImmediately(t *testing.T) {
	clock := NewMockClock(time.Time{})
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestMockClock_AutoAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.AutoAdvance = true

	select {
	case got := <-clock.After(time.Second):
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("AutoAdvance After should fire immediately")
	}
}

func TestClockInterface(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}
