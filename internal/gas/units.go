package gas

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	weiPerEth  = decimal.New(1, 18)
	weiPerGwei = decimal.New(1, 9)
)

// Preset is a gas setting in gwei, the unit the signing agent expects.
type Preset struct {
	Fee         decimal.Decimal `json:"fee"`
	PriorityFee decimal.Decimal `json:"priorityFee"`
}

// FeeWei and PriorityFeeWei are floored to whole wei.
func (p Preset) FeeWei() *big.Int { return GweiToWei(p.Fee) }

func (p Preset) PriorityFeeWei() *big.Int { return GweiToWei(p.PriorityFee) }

func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerGwei)
}

func GweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Mul(weiPerGwei).Floor().BigInt()
}

func WeiToEth(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth)
}

func EthToWei(eth decimal.Decimal) *big.Int {
	return eth.Mul(weiPerEth).Floor().BigInt()
}

func WeiToEthString(wei *big.Int) string {
	return WeiToEth(wei).StringFixed(6)
}

// ReadableGwei rounds to one decimal place for display.
func ReadableGwei(wei *big.Int) string {
	return WeiToGwei(wei).Round(1).String()
}
