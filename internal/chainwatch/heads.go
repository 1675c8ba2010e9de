// Package chainwatch follows new chain heads and runs per-block work, such as
// settling sent purchases from their receipts.
package chainwatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// HeadSubscriber is satisfied by *ethclient.Client.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

type Watcher struct {
	client HeadSubscriber
	retry  time.Duration

	latest atomic.Uint64

	mu     sync.Mutex
	onHead []func(ctx context.Context, h *types.Header)
}

func NewWatcher(client HeadSubscriber) *Watcher {
	return &Watcher{client: client, retry: 2 * time.Second}
}

// OnHead registers f. Handlers run sequentially on the watcher goroutine.
func (w *Watcher) OnHead(f func(ctx context.Context, h *types.Header)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onHead = append(w.onHead, f)
}

// Latest is the most recent chain height seen, zero before the first head.
func (w *Watcher) Latest() uint64 { return w.latest.Load() }

func (w *Watcher) Start(ctx context.Context) error {
	headers := make(chan *types.Header, 128)

	sub, err := w.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("SubscribeNewHead: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)

		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			w.latest.Store(h.Number.Uint64())

			w.mu.Lock()
			handlers := append([]func(context.Context, *types.Header){}, w.onHead...)
			w.mu.Unlock()

			for _, f := range handlers {
				f(ctx, h)
			}
		}
	}
}

// Run restarts Start after subscription errors until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.Start(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[chain] head watcher stopped, resubscribing in %s: %v", w.retry, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retry):
		}
	}
}
