package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func fired(t *Timer) bool {
	select {
	case <-t.C:
		return true
	default:
		return false
	}
}

func TestFakeClock_TimerFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(3 * time.Second)

	c.Advance(2999 * time.Millisecond)
	if fired(timer) {
		t.Fatal("timer fired early")
	}

	c.Advance(time.Millisecond)
	if !fired(timer) {
		t.Fatal("timer did not fire at its deadline")
	}
	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestFakeClock_Stop(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop() on armed timer = false")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}
	c.Advance(time.Hour)
	if fired(timer) {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeClock_ImmediateTimer(t *testing.T) {
	c := Fake(epoch)
	if !fired(c.NewTimer(0)) {
		t.Error("zero-duration timer should fire immediately")
	}
}

func TestFakeClock_WaitForTimers(t *testing.T) {
	c := Fake(epoch)
	got := make(chan time.Time, 1)

	go func() {
		timer := c.NewTimer(200 * time.Millisecond)
		got <- <-timer.C
	}()

	c.WaitForTimers(1)
	c.Advance(200 * time.Millisecond)

	select {
	case at := <-got:
		if !at.Equal(epoch.Add(200 * time.Millisecond)) {
			t.Errorf("fired at %v", at)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestRealClock(t *testing.T) {
	c := Real()
	timer := c.NewTimer(time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(5 * time.Second):
		t.Fatal("real timer did not fire")
	}
	if c.Now().IsZero() {
		t.Error("Now() is zero")
	}
}
