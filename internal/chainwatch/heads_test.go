package chainwatch

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

type fakeHeads struct {
	heads []*types.Header
	fail  error
	calls atomic.Int32
}

func (f *fakeHeads) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, h := range f.heads {
			select {
			case ch <- h:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func TestWatcher_DispatchesHeads(t *testing.T) {
	src := &fakeHeads{heads: []*types.Header{
		{Number: big.NewInt(100)},
		nil,
		{Number: big.NewInt(101)},
	}}
	w := NewWatcher(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan uint64, 4)
	w.OnHead(func(ctx context.Context, h *types.Header) { seen <- h.Number.Uint64() })

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	for _, want := range []uint64{100, 101} {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("expected head %d, got=%d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for head %d", want)
		}
	}
	if w.Latest() != 101 {
		t.Fatalf("expected latest=101, got=%d", w.Latest())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got=%v", err)
	}
}

func TestWatcher_RunRetriesSubscribe(t *testing.T) {
	src := &fakeHeads{fail: errors.New("dial refused")}
	w := NewWatcher(src)
	w.retry = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got=%v", err)
	}
	if src.calls.Load() < 2 {
		t.Fatalf("expected resubscribe attempts, got=%d", src.calls.Load())
	}
}
