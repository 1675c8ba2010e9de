package sent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var testContract = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

func sentTx(b byte) Transaction {
	return Transaction{
		Hash:                 common.BytesToHash([]byte{b}),
		Asset:                Asset{Contract: testContract, TokenID: "7", Name: "#7"},
		PriorityFee:          big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(20),
	}
}

func TestRegistry_ExpiresRegardlessOfStatus(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	r := NewRegistry(fake, Config{})

	r.Add(sentTx(1))
	r.Add(sentTx(2))
	r.SetStatus(common.BytesToHash([]byte{2}), StatusConfirmed)

	fake.Advance(119 * time.Second)
	if got := r.Snapshot(); len(got) != 2 {
		t.Fatalf("expected 2 live entries, got=%d", len(got))
	}

	fake.Advance(time.Second + time.Millisecond)
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("expected all entries expired, got=%d", len(got))
	}
	if fake.Pending() != 0 {
		t.Fatalf("expiry timers left: %d", fake.Pending())
	}
}

func TestRegistry_ReAddReplaces(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	r := NewRegistry(fake, Config{})

	r.Add(sentTx(1))
	fake.Advance(100 * time.Second)
	r.Add(sentTx(1))

	fake.Advance(30 * time.Second)
	got := r.Snapshot()
	if len(got) != 1 || !got[0].AddedAt.Equal(time.Unix(1100, 0)) {
		t.Fatalf("expected the re-added entry to survive, got=%+v", got)
	}
}

func TestRegistry_StatusAndListeners(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	r := NewRegistry(fake, Config{})

	var seen []Status
	r.OnChange(func(tx Transaction) { seen = append(seen, tx.Status) })

	tx := r.Add(sentTx(1))
	if tx.Status != StatusPending {
		t.Fatalf("expected PENDING, got=%s", tx.Status)
	}
	fake.Advance(time.Second)
	if !r.SetStatus(tx.Hash, StatusFailed) {
		t.Fatal("known hash reported missing")
	}
	if r.SetStatus(common.BytesToHash([]byte{9}), StatusFailed) {
		t.Fatal("unknown hash reported found")
	}

	got, ok := r.Get(tx.Hash)
	if !ok || got.Status != StatusFailed || !got.UpdatedAt.After(got.AddedAt) {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if len(seen) != 2 || seen[1] != StatusFailed {
		t.Fatalf("unexpected notifications: %v", seen)
	}
	if len(r.ForItem(testContract, "7")) != 1 || len(r.Pending()) != 0 {
		t.Fatal("unexpected item/pending views")
	}
}

type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	errs     map[common.Hash]error
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[hash]; ok {
		return nil, err
	}
	if rc, ok := f.receipts[hash]; ok {
		return rc, nil
	}
	return nil, ethereum.NotFound
}

func TestReceiptWatcher_Check(t *testing.T) {
	r := NewRegistry(clock.NewFake(time.Unix(1000, 0)), Config{})
	for i := byte(1); i <= 4; i++ {
		r.Add(sentTx(i))
	}

	h := func(b byte) common.Hash { return common.BytesToHash([]byte{b}) }
	fr := &fakeReceipts{
		receipts: map[common.Hash]*types.Receipt{
			h(1): {Status: types.ReceiptStatusSuccessful},
			h(2): {Status: types.ReceiptStatusFailed},
		},
		errs: map[common.Hash]error{h(4): errors.New("rpc down")},
	}

	w := NewReceiptWatcher(r, fr)
	if n := w.Check(context.Background()); n != 2 {
		t.Fatalf("expected 2 settled, got=%d", n)
	}

	want := map[common.Hash]Status{h(1): StatusConfirmed, h(2): StatusFailed, h(3): StatusPending, h(4): StatusPending}
	for hash, st := range want {
		got, _ := r.Get(hash)
		if got.Status != st {
			t.Fatalf("%s: expected %s, got=%s", hash.Hex(), st, got.Status)
		}
	}
}
