package sales

import (
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/pending"

	"github.com/ethereum/go-ethereum/common"
)

type Record struct {
	Seller    common.Address
	Contract  common.Address
	TokenID   string
	Timestamp time.Time
	Hash      string
	Chain     string
}

func Key(seller, contract common.Address, tokenID string) string {
	return seller.Hex() + ":" + contract.Hex() + ":" + tokenID
}

func (r Record) Key() string { return Key(r.Seller, r.Contract, r.TokenID) }

// Correlator remembers confirmed sales so superseded pending purchases can be
// dropped. Records are never deleted.
type Correlator struct {
	mu      sync.RWMutex
	records map[string]Record
	byItem  map[string]map[string]struct{}
}

func NewCorrelator() *Correlator {
	return &Correlator{
		records: make(map[string]Record),
		byItem:  make(map[string]map[string]struct{}),
	}
}

// Observe upserts a record for SUCCESSFUL events; last write wins per key.
func (c *Correlator) Observe(ev activity.Event) (Record, bool) {
	if ev.EventType != activity.EventSuccessful {
		return Record{}, false
	}
	rec := Record{
		Seller:    ev.SellerAddress,
		Contract:  ev.ContractAddress,
		TokenID:   ev.TokenID,
		Timestamp: ev.Timestamp,
		Hash:      ev.TxHash(),
		Chain:     ev.Chain,
	}
	key := rec.Key()
	item := pending.ItemKey(rec.Contract, rec.TokenID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key] = rec
	if c.byItem[item] == nil {
		c.byItem[item] = make(map[string]struct{})
	}
	c.byItem[item][key] = struct{}{}
	return rec, true
}

func (c *Correlator) Get(seller, contract common.Address, tokenID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[Key(seller, contract, tokenID)]
	return r, ok
}

// SoldAfter reports whether the item has a sale strictly later than t.
func (c *Correlator) SoldAfter(contract common.Address, tokenID string, t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.soldAfterLocked(pending.ItemKey(contract, tokenID), t)
}

func (c *Correlator) soldAfterLocked(item string, t time.Time) bool {
	for key := range c.byItem[item] {
		if c.records[key].Timestamp.After(t) {
			return true
		}
	}
	return false
}

// Filter drops pending entries whose item sold after they were observed.
func (c *Correlator) Filter(txs []pending.Transaction) []pending.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pending.Transaction, 0, len(txs))
	for _, tx := range txs {
		if c.soldAfterLocked(tx.ItemKey(), tx.AddedAt) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]Record)
	c.byItem = make(map[string]map[string]struct{})
}
