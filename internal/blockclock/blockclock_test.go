package blockclock

import (
	"testing"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"
)

func TestBlockClock_TwelveTicksVisitEverySecondOnce(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	bc := New(fake)

	seen := make(map[int]int)
	blocks := 0
	bc.OnSecond(func(s int) { seen[s]++ })
	bc.OnBlock(func(uint64) { blocks++ })

	bc.Start()
	// first tick fires inside Start; 11 more land just after the next 11 boundaries
	fake.Advance(11*time.Second + 100*time.Millisecond)
	bc.Stop()

	if len(seen) != SlotSeconds {
		t.Fatalf("expected %d distinct block seconds, got=%v", SlotSeconds, seen)
	}
	for s, n := range seen {
		if s < 0 || s >= SlotSeconds || n != 1 {
			t.Fatalf("block second %d seen %d times", s, n)
		}
	}
	if blocks != 1 {
		t.Fatalf("expected exactly one block event, got=%d", blocks)
	}
	if bc.SessionBlockNumber() != 1 {
		t.Fatalf("expected session block 1, got=%d", bc.SessionBlockNumber())
	}
}

func TestBlockClock_BlockSecondFormula(t *testing.T) {
	// (unix+1) % 12 == 0 when unix % 12 == 11
	start := time.Unix(11, 0)
	fake := clock.NewFake(start)
	bc := New(fake)

	bc.Start()
	if bc.BlockSecond() != 0 {
		t.Fatalf("expected block second 0, got=%d", bc.BlockSecond())
	}
	if bc.SessionBlockNumber() != 1 {
		t.Fatalf("expected session block 1, got=%d", bc.SessionBlockNumber())
	}

	fake.Advance(time.Second + 50*time.Millisecond)
	if bc.BlockSecond() != 1 {
		t.Fatalf("expected block second 1, got=%d", bc.BlockSecond())
	}
}

func TestBlockClock_SelfCorrectsOffBoundaryStart(t *testing.T) {
	fake := clock.NewFake(time.Unix(100, 700*int64(time.Millisecond)))
	bc := New(fake)

	var ticks []time.Time
	bc.OnSecond(func(int) { ticks = append(ticks, fake.Now()) })

	bc.Start()
	fake.Advance(3 * time.Second)
	bc.Stop()

	if len(ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got=%d", len(ticks))
	}
	for _, at := range ticks[1:] {
		if at.Nanosecond() != int(tickSkew) {
			t.Fatalf("expected tick %s after the second boundary, got=%v", tickSkew, at)
		}
	}
}

func TestBlockClock_StopHaltsTicks(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	bc := New(fake)

	n := 0
	bc.OnSecond(func(int) { n++ })
	bc.Start()
	bc.Stop()
	fake.Advance(time.Minute)

	if n != 1 {
		t.Fatalf("expected only the initial tick, got=%d", n)
	}
}
