package pending

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNoGasFields = errors.New("pending: candidate has neither gasPrice nor EIP-1559 fees")

// Candidate is a raw pending purchase as pushed by the upstream source.
type Candidate struct {
	Hash                 common.Hash
	From                 common.Address
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Contract             common.Address
	TokenID              string
}

// Transaction is a competing pending purchase. MaxFeePerGas and
// MaxPriorityFeePerGas are nil for legacy transactions.
type Transaction struct {
	Hash                 common.Hash
	From                 common.Address
	PriorityFee          *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Contract             common.Address
	TokenID              string
	SessionBlock         uint64
	AddedAt              time.Time
}

func (t Transaction) IsLegacy() bool { return t.MaxFeePerGas == nil }

func ItemKey(contract common.Address, tokenID string) string {
	return contract.Hex() + ":" + tokenID
}

func (t Transaction) ItemKey() string { return ItemKey(t.Contract, t.TokenID) }

// Decode derives the effective priority fee. Legacy transactions use the raw
// gas price, which is compared directly against EIP-1559 tips downstream.
func Decode(c Candidate, sessionBlock uint64, now time.Time) (Transaction, error) {
	tx := Transaction{
		Hash:         c.Hash,
		From:         c.From,
		Contract:     c.Contract,
		TokenID:      c.TokenID,
		SessionBlock: sessionBlock,
		AddedAt:      now,
	}

	switch {
	case c.MaxFeePerGas != nil && c.MaxPriorityFeePerGas != nil:
		tx.MaxFeePerGas = new(big.Int).Set(c.MaxFeePerGas)
		tx.MaxPriorityFeePerGas = new(big.Int).Set(c.MaxPriorityFeePerGas)
		if c.MaxFeePerGas.Cmp(c.MaxPriorityFeePerGas) < 0 {
			tx.PriorityFee = new(big.Int).Set(c.MaxFeePerGas)
		} else {
			tx.PriorityFee = new(big.Int).Set(c.MaxPriorityFeePerGas)
		}
	case c.GasPrice != nil:
		tx.PriorityFee = new(big.Int).Set(c.GasPrice)
	default:
		return Transaction{}, ErrNoGasFields
	}
	return tx, nil
}
