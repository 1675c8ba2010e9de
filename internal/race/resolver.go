package race

import (
	"sort"

	"github.com/pvzzle/gasrace/internal/pending"
	"github.com/pvzzle/gasrace/internal/sent"

	"github.com/ethereum/go-ethereum/common"
)

type PendingSource interface {
	ForItem(contract common.Address, tokenID string) []pending.Transaction
	Grouped() map[string][]pending.Transaction
}

type SentSource interface {
	ForItem(contract common.Address, tokenID string) []sent.Transaction
}

type SaleFilter interface {
	Filter(txs []pending.Transaction) []pending.Transaction
}

type BlockSource interface {
	SessionBlockNumber() uint64
}

type Resolver struct {
	pending PendingSource
	sent    SentSource
	sales   SaleFilter
	blocks  BlockSource
}

func NewResolver(p PendingSource, s SentSource, sales SaleFilter, blocks BlockSource) *Resolver {
	return &Resolver{pending: p, sent: s, sales: sales, blocks: blocks}
}

// Resolve returns ErrNoCompetitors when nothing live targets the item.
func (r *Resolver) Resolve(contract common.Address, tokenID string) (Race, error) {
	pend := r.pending.ForItem(contract, tokenID)
	return r.build(contract, tokenID, pend)
}

func (r *Resolver) build(contract common.Address, tokenID string, pend []pending.Transaction) (Race, error) {
	if r.sales != nil {
		pend = r.sales.Filter(pend)
	}
	if len(pend) == 0 {
		return Race{}, ErrNoCompetitors
	}
	var own []sent.Transaction
	if r.sent != nil {
		own = r.sent.ForItem(contract, tokenID)
	}
	var current uint64
	if r.blocks != nil {
		current = r.blocks.SessionBlockNumber()
	}
	return Build(contract, tokenID, Merge(pend, own), current)
}

// Races resolves every item that has live pending competition, highest
// bid first.
func (r *Resolver) Races() []Race {
	var out []Race
	for _, group := range r.pending.Grouped() {
		if len(group) == 0 {
			continue
		}
		rc, err := r.build(group[0].Contract, group[0].TokenID, group)
		if err != nil {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool {
		return fee(out[i].Highest).Cmp(fee(out[j].Highest)) > 0
	})
	return out
}
