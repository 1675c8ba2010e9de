package blockclock

import (
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"
)

const (
	SlotSeconds = 12

	// tick lands slightly after the wall-clock second to absorb scheduler jitter
	tickSkew = 25 * time.Millisecond
)

// BlockClock is a wall-clock driven pseudo block-slot timer. A new slot begins
// every 12 seconds; the session block number counts slots seen since Start.
type BlockClock struct {
	clk clock.Clock

	mu           sync.Mutex
	blockSecond  int
	sessionBlock uint64
	timer        clock.Timer
	running      bool

	onBlock  []func(sessionBlock uint64)
	onSecond []func(blockSecond int)
}

func New(clk clock.Clock) *BlockClock {
	if clk == nil {
		clk = clock.Real{}
	}
	return &BlockClock{clk: clk}
}

// OnBlock registers a listener for slot boundaries. Listeners must be registered before Start.
func (b *BlockClock) OnBlock(f func(sessionBlock uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBlock = append(b.onBlock, f)
}

func (b *BlockClock) OnSecond(f func(blockSecond int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSecond = append(b.onSecond, f)
}

func (b *BlockClock) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.tick()
}

func (b *BlockClock) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BlockClock) SessionBlockNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionBlock
}

func (b *BlockClock) BlockSecond() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockSecond
}

func (b *BlockClock) tick() {
	now := b.clk.Now()

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	second := int((now.Unix() + 1) % SlotSeconds)
	b.blockSecond = second
	newBlock := second == 0
	if newBlock {
		b.sessionBlock++
	}
	block := b.sessionBlock
	blockListeners := append([]func(uint64){}, b.onBlock...)
	secondListeners := append([]func(int){}, b.onSecond...)

	// scheduled off Now() every tick, so delays never accumulate
	next := now.Truncate(time.Second).Add(time.Second)
	b.timer = b.clk.AfterFunc(next.Sub(now)+tickSkew, b.tick)
	b.mu.Unlock()

	if newBlock {
		for _, f := range blockListeners {
			f(block)
		}
	}
	for _, f := range secondListeners {
		f(second)
	}
}
