package race

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/pending"
	"github.com/pvzzle/gasrace/internal/sent"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrNoCompetitors = errors.New("race: no competing transactions")

var overbidFactor = decimal.RequireFromString("1.1")

// Competitor is one bid in a race. MaxFeePerGas is nil for legacy bids.
type Competitor struct {
	Hash                 common.Hash
	From                 common.Address
	FromSelf             bool
	PriorityFee          *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Contract             common.Address
	TokenID              string
	SessionBlock         uint64
	AddedAt              time.Time

	// BlockAge is how many slots ago the bid was seen; SlotsLate is how far
	// behind the earliest competitor it was seen.
	BlockAge  int64
	SlotsLate uint64
}

func (c Competitor) IsLegacy() bool { return c.MaxFeePerGas == nil }

type Race struct {
	Contract     common.Address
	TokenID      string
	Competitors  []Competitor
	Highest      Competitor
	CurrentBlock uint64
	BlocksLate   int64
}

func firstNonZero(vals ...*big.Int) *big.Int {
	for _, v := range vals {
		if v != nil && v.Sign() != 0 {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

func fromPending(tx pending.Transaction) Competitor {
	c := Competitor{
		Hash:         tx.Hash,
		From:         tx.From,
		PriorityFee:  tx.PriorityFee,
		Contract:     tx.Contract,
		TokenID:      tx.TokenID,
		SessionBlock: tx.SessionBlock,
		AddedAt:      tx.AddedAt,
	}
	if !tx.IsLegacy() {
		c.MaxFeePerGas = tx.MaxFeePerGas
		c.MaxPriorityFeePerGas = tx.MaxPriorityFeePerGas
	}
	return c
}

// fromSent prefers what the mempool reported for our own transaction and
// falls back to the submitted preset.
func fromSent(s sent.Transaction, seen *pending.Transaction) Competitor {
	c := Competitor{
		Hash:         s.Hash,
		FromSelf:     true,
		Contract:     s.Asset.Contract,
		TokenID:      s.Asset.TokenID,
		SessionBlock: s.SessionBlock,
		AddedAt:      s.AddedAt,
	}
	var pPrio, pMax, pMaxPrio *big.Int
	if seen != nil {
		c.From = seen.From
		pPrio, pMax, pMaxPrio = seen.PriorityFee, seen.MaxFeePerGas, seen.MaxPriorityFeePerGas
	}
	c.PriorityFee = firstNonZero(pPrio, s.MaxPriorityFeePerGas)
	c.MaxFeePerGas = firstNonZero(pMax, s.PriorityFee)
	c.MaxPriorityFeePerGas = firstNonZero(pMaxPrio, s.MaxPriorityFeePerGas)
	return c
}

func fee(c Competitor) *big.Int {
	if c.PriorityFee == nil {
		return new(big.Int)
	}
	return c.PriorityFee
}

// Merge combines third-party and own transactions for one item. A pending
// entry that is ours is replaced by the sent view; the result is ordered by
// slot ascending, then fee descending.
func Merge(pend []pending.Transaction, own []sent.Transaction) []Competitor {
	ownByHash := make(map[common.Hash]struct{}, len(own))
	for _, s := range own {
		ownByHash[s.Hash] = struct{}{}
	}
	seenByHash := make(map[common.Hash]pending.Transaction, len(pend))

	out := make([]Competitor, 0, len(pend)+len(own))
	for _, tx := range pend {
		if _, mine := ownByHash[tx.Hash]; mine {
			seenByHash[tx.Hash] = tx
			continue
		}
		out = append(out, fromPending(tx))
	}
	for _, s := range own {
		if tx, ok := seenByHash[s.Hash]; ok {
			out = append(out, fromSent(s, &tx))
			continue
		}
		out = append(out, fromSent(s, nil))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SessionBlock == out[j].SessionBlock {
			return fee(out[i]).Cmp(fee(out[j])) > 0
		}
		return out[i].SessionBlock < out[j].SessionBlock
	})
	return out
}

// Build ranks the merged set against the current session block.
func Build(contract common.Address, tokenID string, comps []Competitor, current uint64) (Race, error) {
	if len(comps) == 0 {
		return Race{}, ErrNoCompetitors
	}

	minBlock := comps[0].SessionBlock
	highest := 0
	for i, c := range comps {
		if c.SessionBlock < minBlock {
			minBlock = c.SessionBlock
		}
		if fee(c).Cmp(fee(comps[highest])) > 0 {
			highest = i
		}
	}

	out := make([]Competitor, len(comps))
	for i, c := range comps {
		c.BlockAge = int64(current) - int64(c.SessionBlock)
		c.SlotsLate = c.SessionBlock - minBlock
		out[i] = c
	}

	return Race{
		Contract:     contract,
		TokenID:      tokenID,
		Competitors:  out,
		Highest:      out[highest],
		CurrentBlock: current,
		BlocksLate:   int64(current) - int64(minBlock),
	}, nil
}

// OverbidWei sizes a bid 10% above c, floored to whole wei.
func OverbidWei(c Competitor) (maxFee, maxPriority *big.Int) {
	base := firstNonZero(c.MaxFeePerGas, c.PriorityFee)
	tip := firstNonZero(c.MaxPriorityFeePerGas, c.PriorityFee)
	return scale(base), scale(tip)
}

func scale(v *big.Int) *big.Int {
	return decimal.NewFromBigInt(v, 0).Mul(overbidFactor).Floor().BigInt()
}

// Overbid is OverbidWei expressed as a gwei preset for the signing agent.
func Overbid(c Competitor) gas.Preset {
	base := firstNonZero(c.MaxFeePerGas, c.PriorityFee)
	tip := firstNonZero(c.MaxPriorityFeePerGas, c.PriorityFee)
	return gas.Preset{
		Fee:         gas.WeiToGwei(base).Mul(overbidFactor),
		PriorityFee: gas.WeiToGwei(tip).Mul(overbidFactor),
	}
}
