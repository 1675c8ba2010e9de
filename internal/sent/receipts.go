package sent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptFetcher is satisfied by *ethclient.Client.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ReceiptWatcher settles PENDING entries from on-chain receipts.
type ReceiptWatcher struct {
	reg     *Registry
	client  ReceiptFetcher
	timeout time.Duration
}

func NewReceiptWatcher(reg *Registry, client ReceiptFetcher) *ReceiptWatcher {
	return &ReceiptWatcher{reg: reg, client: client, timeout: 3 * time.Second}
}

// Check looks up every pending entry once and returns how many settled.
func (w *ReceiptWatcher) Check(ctx context.Context) int {
	settled := 0
	for _, tx := range w.reg.Pending() {
		cctx, cancel := context.WithTimeout(ctx, w.timeout)
		rc, err := w.client.TransactionReceipt(cctx, tx.Hash)
		cancel()

		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			log.Printf("[sent] receipt %s: %v", tx.Hash.Hex(), err)
			continue
		}
		if rc == nil {
			continue
		}

		st := StatusFailed
		if rc.Status == types.ReceiptStatusSuccessful {
			st = StatusConfirmed
		}
		if w.reg.SetStatus(tx.Hash, st) {
			settled++
		}
	}
	return settled
}
