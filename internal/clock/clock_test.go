package clock

import (
	"testing"
	"time"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(1000, 0))

	var got []int
	c.AfterFunc(3*time.Second, func() { got = append(got, 3) })
	c.AfterFunc(1*time.Second, func() { got = append(got, 1) })
	c.AfterFunc(2*time.Second, func() { got = append(got, 2) })

	c.Advance(2 * time.Second)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got=%v", got)
	}

	c.Advance(time.Second)
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("expected third timer, got=%v", got)
	}
	if !c.Now().Equal(time.Unix(1003, 0)) {
		t.Fatalf("unexpected now: %v", c.Now())
	}
}

func TestFake_StopAndReschedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := 0
	tm := c.AfterFunc(time.Second, func() { fired++ })
	if !tm.Stop() {
		t.Fatal("expected first stop to report true")
	}
	if tm.Stop() {
		t.Fatal("expected second stop to report false")
	}

	var chain func()
	chain = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(time.Second, chain)
		}
	}
	c.AfterFunc(time.Second, chain)

	c.Advance(10 * time.Second)
	if fired != 3 {
		t.Fatalf("expected 3 chained fires, got=%d", fired)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got=%d", c.Pending())
	}
}
