package sales

import (
	"testing"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/pending"

	"github.com/ethereum/go-ethereum/common"
)

var (
	contract = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	seller   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

func sale(token string, ts time.Time, link string) activity.Event {
	return activity.Event{
		ListingID:         "SUCCESSFUL:" + token + ":" + ts.String(),
		TokenID:           token,
		ContractAddress:   contract,
		SellerAddress:     seller,
		Chain:             "ethereum",
		Timestamp:         ts,
		EventType:         activity.EventSuccessful,
		BlockExplorerLink: link,
	}
}

func TestCorrelator_ObserveOnlySales(t *testing.T) {
	c := NewCorrelator()
	ev := sale("7", time.Unix(100, 0), "https://etherscan.io/tx/0xfeed")
	ev.EventType = activity.EventCreated
	if _, ok := c.Observe(ev); ok || c.Len() != 0 {
		t.Fatal("listing was recorded as a sale")
	}

	rec, ok := c.Observe(sale("7", time.Unix(100, 0), "https://etherscan.io/tx/0xfeed"))
	if !ok || rec.Hash != "0xfeed" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// last write wins per seller:contract:token
	c.Observe(sale("7", time.Unix(200, 0), ""))
	got, ok := c.Get(seller, contract, "7")
	if !ok || !got.Timestamp.Equal(time.Unix(200, 0)) || got.Hash != "" || c.Len() != 1 {
		t.Fatalf("expected overwrite, got=%+v len=%d", got, c.Len())
	}
}

func TestCorrelator_FilterDropsSupersededPending(t *testing.T) {
	c := NewCorrelator()
	c.Observe(sale("7", time.Unix(150, 0), ""))

	txs := []pending.Transaction{
		{Hash: common.BytesToHash([]byte{1}), Contract: contract, TokenID: "7", AddedAt: time.Unix(100, 0)},
		{Hash: common.BytesToHash([]byte{2}), Contract: contract, TokenID: "7", AddedAt: time.Unix(150, 0)},
		{Hash: common.BytesToHash([]byte{3}), Contract: contract, TokenID: "8", AddedAt: time.Unix(100, 0)},
	}

	out := c.Filter(txs)
	if len(out) != 2 || out[0].Hash != txs[1].Hash || out[1].Hash != txs[2].Hash {
		t.Fatalf("expected only the sold-after entry dropped, got=%d", len(out))
	}
	if !c.SoldAfter(contract, "7", time.Unix(149, 0)) || c.SoldAfter(contract, "7", time.Unix(150, 0)) {
		t.Fatal("SoldAfter must be strict")
	}
}
